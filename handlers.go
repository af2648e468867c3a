// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package redisauth

import (
	"context"
	"sync"
)

// ClientContext is the broker's view of a connected client.
type ClientContext interface {
	Username() string
	SetUsername(user string)
}

// Handlers are the broker-facing decision functions of an Authorizer, for
// brokers which accept plain callbacks rather than hooks.
type Handlers struct {
	Authenticate       func(cl ClientContext, user, pass string) (bool, error)
	AuthorizePublish   func(cl ClientContext, topic string, payload []byte) (bool, error)
	AuthorizeSubscribe func(cl ClientContext, topic string) (bool, error)
}

// Handlers returns decision functions bound to the authorizer. Authenticate
// calls inherit ctx; a successful authentication records the username on the
// client. Authorize calls never return an error.
func (a *Authorizer) Handlers(ctx context.Context) Handlers {
	return Handlers{
		Authenticate: func(cl ClientContext, user, pass string) (bool, error) {
			ok, err := a.Authenticate(ctx, user, pass)
			if ok && cl != nil {
				cl.SetUsername(user)
			}
			return ok, err
		},
		AuthorizePublish: func(cl ClientContext, topic string, _ []byte) (bool, error) {
			if cl == nil {
				return false, nil
			}
			return a.AuthorizePublish(cl.Username(), topic), nil
		},
		AuthorizeSubscribe: func(cl ClientContext, topic string) (bool, error) {
			if cl == nil {
				return false, nil
			}
			return a.AuthorizeSubscribe(cl.Username(), topic), nil
		},
	}
}

// Client is a minimal ClientContext.
type Client struct {
	mu   sync.RWMutex
	user string
}

// Username returns the authenticated username, if any.
func (c *Client) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// SetUsername records the authenticated username.
func (c *Client) SetUsername(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
}
