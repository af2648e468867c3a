// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package redisauth authenticates MQTT clients against salted password
// hashes held in a key-value store, and authorizes their publish and
// subscribe requests against per-user topic rules.
package redisauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/mochi-mqtt/auth-redis/acl"
	"github.com/mochi-mqtt/auth-redis/cache"
	"github.com/mochi-mqtt/auth-redis/credentials"
	"github.com/mochi-mqtt/auth-redis/store"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// defaultTimeout bounds a store fetch when no timeout is configured.
const defaultTimeout = 2 * time.Second

var (
	// ErrInvalidCredentialsInput indicates a missing username or password.
	ErrInvalidCredentialsInput = errors.New("missing username or password")

	// ErrNoBackend indicates an authorizer was created without a store backend.
	ErrNoBackend = errors.New("no credential store backend provided")
)

// AuthorizerOptions contains the collaborators and settings of an Authorizer.
type AuthorizerOptions struct {
	Hasher                *credentials.Hasher // password hashing parameters; defaults to credentials.DefaultHasher
	Cache                 *cache.Cache        // acl cache; defaults to a cache which never expires
	Log                   *slog.Logger        // defaults to slog.Default
	Metrics               *Metrics            // optional decision counters
	Timeout               time.Duration       // bound on each store fetch
	MaxConcurrentVerifies int64               // bound on parallel password hashing; defaults to GOMAXPROCS
	ExcludeSysWildcards   bool                // stop first-level wildcards matching $ topics
}

// Authorizer answers authentication and publish/subscribe authorization
// requests. It is safe for concurrent use.
type Authorizer struct {
	backend store.Backend
	hasher  *credentials.Hasher
	cache   *cache.Cache
	log     *slog.Logger
	metrics *Metrics
	timeout time.Duration
	matcher acl.Matcher
	verify  *semaphore.Weighted
	fetches singleflight.Group
}

// NewAuthorizer returns an Authorizer which reads user records from backend.
func NewAuthorizer(backend store.Backend, opts *AuthorizerOptions) (*Authorizer, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}

	if opts == nil {
		opts = new(AuthorizerOptions)
	}

	a := &Authorizer{
		backend: backend,
		hasher:  opts.Hasher,
		cache:   opts.Cache,
		log:     opts.Log,
		metrics: opts.Metrics,
		timeout: opts.Timeout,
		matcher: acl.Matcher{ExcludeSys: opts.ExcludeSysWildcards},
	}

	if a.hasher == nil {
		a.hasher = credentials.DefaultHasher()
	}

	if a.cache == nil {
		a.cache = cache.New(0)
	}

	if a.log == nil {
		a.log = slog.Default()
	}

	if a.timeout <= 0 {
		a.timeout = defaultTimeout
	}

	n := opts.MaxConcurrentVerifies
	if n <= 0 {
		n = int64(runtime.GOMAXPROCS(0))
	}
	a.verify = semaphore.NewWeighted(n)

	return a, nil
}

// Authenticate returns true if pass is the password stored for user. On
// success the user's acl rules are loaded into the cache, replacing any
// previous entry, before Authenticate returns. A failed attempt never
// changes the cache. Errors are returned only for store or hashing
// failures, and are always accompanied by false.
func (a *Authorizer) Authenticate(ctx context.Context, user, pass string) (bool, error) {
	if user == "" || pass == "" {
		a.log.Debug("rejected authentication", "username", user, "error", ErrInvalidCredentialsInput)
		a.metrics.authenticated(resultInvalid)
		return false, nil
	}

	rec, err := a.fetch(ctx, user)
	if err != nil {
		a.log.Error("failed to fetch user records", "username", user, "error", err)
		a.metrics.storeError()
		a.metrics.authenticated(resultError)
		return false, err
	}

	if rec.Credential == nil {
		a.metrics.authenticated(resultDenied)
		return false, nil
	}

	cred, err := credentials.ParseCredential(rec.Credential)
	if err != nil {
		a.log.Warn("failed to parse user credential", "username", user, "error", err)
		a.metrics.authenticated(resultDenied)
		return false, nil
	}

	ok, err := a.verifyPassword(ctx, pass, cred)
	if err != nil {
		a.log.Error("failed to verify password", "username", user, "error", err)
		a.metrics.authenticated(resultError)
		return false, err
	}

	if !ok {
		a.metrics.authenticated(resultDenied)
		return false, nil
	}

	rules, err := acl.ParseStrict(rec.ACL)
	if err != nil {
		a.log.Warn("failed to parse user acl, denying all topics", "username", user, "error", err)
	}

	a.cache.Set(user, rules)
	a.metrics.authenticated(resultSuccess)
	return true, nil
}

// fetch reads the records of a user, sharing the result between concurrent
// callers for the same user. The fetch is bounded by the authorizer timeout
// and the caller's context.
func (a *Authorizer) fetch(ctx context.Context, user string) (store.Record, error) {
	ch := a.fetches.DoChan(user, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		return a.backend.Fetch(fctx, user)
	})

	select {
	case <-ctx.Done():
		return store.Record{}, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if !errors.Is(res.Err, store.ErrStoreUnavailable) {
				return store.Record{}, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, res.Err)
			}
			return store.Record{}, res.Err
		}

		return res.Val.(store.Record), nil
	}
}

// verifyPassword hashes the password off the calling goroutine, limiting the
// number of hashes computed at once.
func (a *Authorizer) verifyPassword(ctx context.Context, pass string, cred *credentials.Credential) (bool, error) {
	if err := a.verify.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("%w: %v", credentials.ErrVerifier, err)
	}

	type result struct {
		ok  bool
		err error
	}

	done := make(chan result, 1)
	go func() {
		defer a.verify.Release(1)
		ok, err := a.hasher.Verify(pass, cred)
		done <- result{ok: ok, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%w: %v", credentials.ErrVerifier, ctx.Err())
	case r := <-done:
		return r.ok, r.err
	}
}

// AuthorizePublish returns true if the cached rules of user allow publishing
// to topic. Users without cached rules are denied.
func (a *Authorizer) AuthorizePublish(user, topic string) bool {
	return a.authorize(user, topic, acl.Publish)
}

// AuthorizeSubscribe returns true if the cached rules of user allow
// subscribing to topic. Users without cached rules are denied.
func (a *Authorizer) AuthorizeSubscribe(user, topic string) bool {
	return a.authorize(user, topic, acl.Subscribe)
}

func (a *Authorizer) authorize(user, topic string, op acl.Operation) bool {
	rules, _ := a.cache.Get(user)
	ok := a.matcher.Authorized(rules, topic, op)
	a.metrics.authorized(op, ok)
	if !ok {
		a.log.Debug("client failed acl check",
			"username", user,
			"topic", topic,
			"operation", op.String())
	}

	return ok
}

// Invalidate removes the cached rules of user, denying all of their
// publish and subscribe requests until they authenticate again.
func (a *Authorizer) Invalidate(user string) {
	a.cache.Invalidate(user)
}

// Rules returns a copy of the cached rules of user.
func (a *Authorizer) Rules(user string) (acl.Rules, bool) {
	rules, ok := a.cache.Get(user)
	if !ok {
		return nil, false
	}

	return append(acl.Rules{}, rules...), true
}

// Close closes the store backend.
func (a *Authorizer) Close() error {
	return a.backend.Close()
}
