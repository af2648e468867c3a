// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, werbenhu

package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mochi-mqtt/auth-redis/store"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T) *Backend {
	b, err := New(&Options{
		Path: filepath.Join(t.TempDir(), "auth.bolt"),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = b.Close()
	})

	return b
}

func TestNewDefaults(t *testing.T) {
	b := newBackend(t)
	require.Equal(t, defaultBucket, b.config.Bucket)
	require.NotNil(t, b.config.Options)
	require.Equal(t, defaultTimeout, b.config.Options.Timeout)
}

func TestNewBadPath(t *testing.T) {
	_, err := New(&Options{
		Path: filepath.Join(t.TempDir(), "missing", "dir", "auth.bolt"),
	})
	require.Error(t, err)
}

func TestFetchMissingUser(t *testing.T) {
	b := newBackend(t)
	rec, err := b.Fetch(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, rec.Credential)
	require.Nil(t, rec.ACL)
}

func TestSaveFetchDelete(t *testing.T) {
	b := newBackend(t)

	err := b.Save(context.Background(), "mochi", store.Record{
		Credential: []byte(`{"salt":"abc","password":"def"}`),
		ACL:        []byte(`[{"topic":"a/#","access":3}]`),
	})
	require.NoError(t, err)

	rec, err := b.Fetch(context.Background(), "mochi")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"salt":"abc","password":"def"}`), rec.Credential)
	require.Equal(t, []byte(`[{"topic":"a/#","access":3}]`), rec.ACL)

	err = b.Save(context.Background(), "mochi", store.Record{ACL: []byte(`[]`)})
	require.NoError(t, err)
	rec, err = b.Fetch(context.Background(), "mochi")
	require.NoError(t, err)
	require.NotNil(t, rec.Credential)
	require.Equal(t, []byte(`[]`), rec.ACL)

	require.NoError(t, b.Delete(context.Background(), "mochi"))
	rec, err = b.Fetch(context.Background(), "mochi")
	require.NoError(t, err)
	require.Nil(t, rec.Credential)
	require.Nil(t, rec.ACL)
}

func TestFetchCancelledContext(t *testing.T) {
	b := newBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Fetch(ctx, "mochi")
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestFetchClosed(t *testing.T) {
	b := newBackend(t)
	require.NoError(t, b.Close())

	_, err := b.Fetch(context.Background(), "mochi")
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestImplementsBackend(t *testing.T) {
	var _ store.Backend = new(Backend)
	var _ store.Saver = new(Backend)
}
