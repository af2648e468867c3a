// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package redisauth

import (
	"context"
	"testing"

	"github.com/mochi-mqtt/auth-redis/store"
	"github.com/stretchr/testify/require"
)

func TestHandlersAuthenticate(t *testing.T) {
	fb := newFakeBackend()
	provision(t, fb, "mochi", "melon", mochiRules)
	h := newAuthorizer(t, fb, nil).Handlers(context.Background())

	cl := new(Client)
	ok, err := h.Authenticate(cl, "mochi", "lemon")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "", cl.Username())

	ok, err = h.Authenticate(cl, "mochi", "melon")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "mochi", cl.Username())

	ok, err = h.AuthorizePublish(cl, "mochi/a", []byte("payload"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.AuthorizeSubscribe(cl, "home/hall/temp")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.AuthorizePublish(cl, "home/hall/temp", nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHandlersStoreError(t *testing.T) {
	fb := newFakeBackend()
	fb.err = store.ErrStoreUnavailable
	h := newAuthorizer(t, fb, nil).Handlers(context.Background())

	cl := new(Client)
	ok, err := h.Authenticate(cl, "mochi", "melon")
	require.ErrorIs(t, err, store.ErrStoreUnavailable)
	require.False(t, ok)

	ok, err = h.AuthorizeSubscribe(cl, "a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHandlersNilClient(t *testing.T) {
	fb := newFakeBackend()
	provision(t, fb, "mochi", "melon", mochiRules)
	h := newAuthorizer(t, fb, nil).Handlers(context.Background())

	ok, err := h.Authenticate(nil, "mochi", "melon")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.AuthorizePublish(nil, "mochi/a", nil)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = h.AuthorizeSubscribe(nil, "mochi/a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHandlersUnauthenticatedClient(t *testing.T) {
	fb := newFakeBackend()
	provision(t, fb, "mochi", "melon", mochiRules)
	a := newAuthorizer(t, fb, nil)
	h := a.Handlers(context.Background())

	_, err := a.Authenticate(context.Background(), "mochi", "melon")
	require.NoError(t, err)

	ok, err := h.AuthorizePublish(new(Client), "mochi/a", nil)
	require.NoError(t, err)
	require.False(t, ok)
}
