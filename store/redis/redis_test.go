// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/mochi-mqtt/auth-redis/store"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T, s *miniredis.Miniredis) *Backend {
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)

	b := New(&Options{
		Host:    s.Host(),
		Port:    port,
		Timeout: 500 * time.Millisecond,
	})
	t.Cleanup(func() {
		_ = b.Close()
	})

	return b
}

func TestOptionsDefaults(t *testing.T) {
	b := New(nil)
	defer b.Close()

	o := b.Options()
	require.Equal(t, defaultHost, o.Host)
	require.Equal(t, defaultPort, o.Port)
	require.Equal(t, 0, o.DB)
	require.Equal(t, defaultTimeout, o.Timeout)
	require.Equal(t, "localhost:6379", o.Addr())
}

func TestNewDoesNotMutateOptions(t *testing.T) {
	opts := &Options{DB: 2}
	b := New(opts)
	defer b.Close()

	require.Equal(t, "", opts.Host)
	require.Equal(t, 2, b.Options().DB)
}

func TestPing(t *testing.T) {
	s := miniredis.RunT(t)
	b := newBackend(t, s)
	require.NoError(t, b.Ping(context.Background()))
}

func TestPingUnavailable(t *testing.T) {
	s := miniredis.RunT(t)
	b := newBackend(t, s)
	s.Close()

	err := b.Ping(context.Background())
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestFetch(t *testing.T) {
	s := miniredis.RunT(t)
	b := newBackend(t, s)

	s.Set("user:auth:mochi", `{"salt":"abc","password":"def"}`)
	s.Set("user:acl:mochi", `[{"topic":"a/#","access":3}]`)

	rec, err := b.Fetch(context.Background(), "mochi")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"salt":"abc","password":"def"}`), rec.Credential)
	require.Equal(t, []byte(`[{"topic":"a/#","access":3}]`), rec.ACL)
}

func TestFetchMissingUser(t *testing.T) {
	s := miniredis.RunT(t)
	b := newBackend(t, s)

	rec, err := b.Fetch(context.Background(), "nobody")
	require.NoError(t, err)
	require.Nil(t, rec.Credential)
	require.Nil(t, rec.ACL)
}

func TestFetchMissingACL(t *testing.T) {
	s := miniredis.RunT(t)
	b := newBackend(t, s)
	s.Set("user:auth:mochi", `{"salt":"abc","password":"def"}`)

	rec, err := b.Fetch(context.Background(), "mochi")
	require.NoError(t, err)
	require.NotNil(t, rec.Credential)
	require.Nil(t, rec.ACL)
}

func TestFetchMissingCredential(t *testing.T) {
	s := miniredis.RunT(t)
	b := newBackend(t, s)
	s.Set("user:acl:mochi", `[]`)

	rec, err := b.Fetch(context.Background(), "mochi")
	require.NoError(t, err)
	require.Nil(t, rec.Credential)
	require.Equal(t, []byte(`[]`), rec.ACL)
}

func TestFetchSelectsDB(t *testing.T) {
	s := miniredis.RunT(t)
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)

	s.Select(3)
	s.Set("user:auth:mochi", `{"salt":"abc","password":"def"}`)

	b := New(&Options{Host: s.Host(), Port: port, DB: 3})
	defer b.Close()

	rec, err := b.Fetch(context.Background(), "mochi")
	require.NoError(t, err)
	require.NotNil(t, rec.Credential)

	b0 := newBackend(t, s)
	rec, err = b0.Fetch(context.Background(), "mochi")
	require.NoError(t, err)
	require.Nil(t, rec.Credential)
}

func TestFetchWithPassword(t *testing.T) {
	s := miniredis.RunT(t)
	s.RequireAuth("secret")
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)

	b := New(&Options{Host: s.Host(), Port: port, Password: "secret"})
	defer b.Close()
	_, err = b.Fetch(context.Background(), "mochi")
	require.NoError(t, err)

	bad := New(&Options{Host: s.Host(), Port: port, Password: "wrong"})
	defer bad.Close()
	_, err = bad.Fetch(context.Background(), "mochi")
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestFetchServerError(t *testing.T) {
	s := miniredis.RunT(t)
	b := newBackend(t, s)
	s.SetError("ERR server is down")

	_, err := b.Fetch(context.Background(), "mochi")
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestFetchClosedServer(t *testing.T) {
	s := miniredis.RunT(t)
	b := newBackend(t, s)
	s.Close()

	_, err := b.Fetch(context.Background(), "mochi")
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestFetchCancelledContext(t *testing.T) {
	s := miniredis.RunT(t)
	b := newBackend(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Fetch(ctx, "mochi")
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestSaveAndDelete(t *testing.T) {
	s := miniredis.RunT(t)
	b := newBackend(t, s)

	err := b.Save(context.Background(), "mochi", store.Record{
		Credential: []byte(`{"salt":"abc","password":"def"}`),
		ACL:        []byte(`[]`),
	})
	require.NoError(t, err)

	v, err := s.Get("user:auth:mochi")
	require.NoError(t, err)
	require.Equal(t, `{"salt":"abc","password":"def"}`, v)

	err = b.Save(context.Background(), "mochi", store.Record{ACL: []byte(`[{"topic":"#","access":1}]`)})
	require.NoError(t, err)

	rec, err := b.Fetch(context.Background(), "mochi")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"salt":"abc","password":"def"}`), rec.Credential)
	require.Equal(t, []byte(`[{"topic":"#","access":1}]`), rec.ACL)

	require.NoError(t, b.Delete(context.Background(), "mochi"))
	require.False(t, s.Exists("user:auth:mochi"))
	require.False(t, s.Exists("user:acl:mochi"))
}

func TestSaveUnavailable(t *testing.T) {
	s := miniredis.RunT(t)
	b := newBackend(t, s)
	s.Close()

	err := b.Save(context.Background(), "mochi", store.Record{ACL: []byte(`[]`)})
	require.Error(t, err)
}

func TestImplementsBackend(t *testing.T) {
	var _ store.Backend = new(Backend)
	var _ store.Saver = new(Backend)
}
