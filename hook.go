// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package redisauth

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mochi-mqtt/auth-redis/cache"
	"github.com/mochi-mqtt/auth-redis/credentials"
	"github.com/mochi-mqtt/auth-redis/store"
	"github.com/mochi-mqtt/auth-redis/store/bolt"
	"github.com/mochi-mqtt/auth-redis/store/redis"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// Options contains the configuration of the auth hook. If Backend is set it
// is used as is; otherwise a bolt backend is opened if Bolt is set, and a
// redis backend is used in all other cases.
type Options struct {
	Redis   *redis.Options        `yaml:"redis" json:"redis"`
	Bolt    *bolt.Options         `yaml:"bolt" json:"bolt"`
	Breaker *store.BreakerOptions `yaml:"breaker" json:"breaker"`
	Hasher  *credentials.Hasher   `yaml:"hasher" json:"hasher"`

	// CacheTTL expires cached acl rules; zero keeps them until replaced.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	// Timeout bounds each store fetch.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	MaxConcurrentVerifies  int64 `yaml:"max_concurrent_verifies" json:"max_concurrent_verifies"`
	ExcludeSysWildcards    bool  `yaml:"exclude_sys_wildcards" json:"exclude_sys_wildcards"`
	InvalidateOnDisconnect bool  `yaml:"invalidate_on_disconnect" json:"invalidate_on_disconnect"`

	// SkipPing disables the connectivity check made when the hook starts.
	SkipPing bool `yaml:"skip_ping" json:"skip_ping"`

	Backend store.Backend `yaml:"-" json:"-"`
	Metrics *Metrics      `yaml:"-" json:"-"`
}

// Hook is an authentication hook which checks client credentials and topic
// access against user records held in redis.
type Hook struct {
	mqtt.HookBase
	config     *Options
	authorizer *Authorizer
	ctx        context.Context
	cancel     context.CancelFunc

	mu       sync.Mutex
	sessions map[*mqtt.Client]string // authenticated clients by username
	active   map[string]int          // authenticated clients per username
}

// ID returns the ID of the hook.
func (h *Hook) ID() string {
	return "redis-auth"
}

// Provides indicates which hook methods this hook provides.
func (h *Hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnDisconnect,
	}, []byte{b})
}

// Init connects to the credential store and prepares the authorizer.
func (h *Hook) Init(config any) error {
	if _, ok := config.(*Options); !ok && config != nil {
		return mqtt.ErrInvalidConfigType
	}

	if config == nil {
		config = new(Options)
	}

	if h.Log == nil {
		h.Log = slog.Default()
	}

	h.config = config.(*Options)
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.sessions = make(map[*mqtt.Client]string)
	h.active = make(map[string]int)

	backend, err := h.backend()
	if err != nil {
		h.cancel()
		return err
	}

	if h.config.Breaker != nil {
		backend = store.NewBreaker(backend, h.config.Breaker, h.Log)
	}

	h.authorizer, err = NewAuthorizer(backend, &AuthorizerOptions{
		Hasher:                h.config.Hasher,
		Cache:                 cache.New(h.config.CacheTTL),
		Log:                   h.Log,
		Metrics:               h.config.Metrics,
		Timeout:               h.config.Timeout,
		MaxConcurrentVerifies: h.config.MaxConcurrentVerifies,
		ExcludeSysWildcards:   h.config.ExcludeSysWildcards,
	})

	return err
}

// backend returns the configured store backend, connecting to it if needed.
func (h *Hook) backend() (store.Backend, error) {
	if h.config.Backend != nil {
		return h.config.Backend, nil
	}

	if h.config.Bolt != nil {
		h.Log.Info("opening bolt credential store", "path", h.config.Bolt.Path)
		return bolt.New(h.config.Bolt)
	}

	b := redis.New(h.config.Redis)
	o := b.Options()
	h.Log.Info("connecting to redis service",
		"address", o.Addr(),
		"username", o.Username,
		"password-len", len(o.Password),
		"db", o.DB)

	if !h.config.SkipPing {
		if err := b.Ping(h.ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		h.Log.Info("connected to redis service")
	}

	return b, nil
}

// Stop closes the credential store.
func (h *Hook) Stop() error {
	if h.cancel != nil {
		h.cancel()
	}

	if h.authorizer == nil {
		return nil
	}

	h.Log.Info("closing credential store")
	return h.authorizer.Close()
}

// Authorizer returns the authorizer used by the hook.
func (h *Hook) Authorizer() *Authorizer {
	return h.authorizer
}

// OnConnectAuthenticate returns true if the connecting client's username and
// password match a stored credential.
func (h *Hook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	ok, err := h.authorizer.Authenticate(h.ctx, string(pk.Connect.Username), string(pk.Connect.Password))
	if err != nil {
		h.Log.Error("authentication error",
			"error", err,
			"username", string(pk.Connect.Username),
			"remote", cl.Net.Remote)
		return false
	}

	if !ok {
		h.Log.Info("client failed authentication check",
			"username", string(pk.Connect.Username),
			"remote", cl.Net.Remote)
		return false
	}

	h.track(cl, string(pk.Connect.Username))
	return true
}

// track records an authenticated client against its username.
func (h *Hook) track(cl *mqtt.Client, user string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.sessions[cl]; ok {
		if prev == user {
			return
		}
		h.untrack(cl)
	}

	h.sessions[cl] = user
	h.active[user]++
}

// untrack forgets an authenticated client, returning its username and
// whether it was the last client connected with that username. The caller
// must hold h.mu.
func (h *Hook) untrack(cl *mqtt.Client) (string, bool) {
	user, ok := h.sessions[cl]
	if !ok {
		return "", false
	}

	delete(h.sessions, cl)
	h.active[user]--
	if h.active[user] > 0 {
		return user, false
	}

	delete(h.active, user)
	return user, true
}

// OnACLCheck returns true if the client's cached rules allow it to publish
// (write) or subscribe (read) to the topic.
func (h *Hook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	user := string(cl.Properties.Username)
	if write {
		return h.authorizer.AuthorizePublish(user, topic)
	}

	return h.authorizer.AuthorizeSubscribe(user, topic)
}

// OnDisconnect drops the cached rules of the client's username if configured
// to do so, once no other authenticated client is using that username. A
// client taken over by a reconnect is already counted by its replacement.
func (h *Hook) OnDisconnect(cl *mqtt.Client, _ error, _ bool) {
	h.mu.Lock()
	user, last := h.untrack(cl)
	h.mu.Unlock()

	if !last || !h.config.InvalidateOnDisconnect {
		return
	}

	h.authorizer.Invalidate(user)
}
