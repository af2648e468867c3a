// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package redis is a credential store backend using Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/mochi-mqtt/auth-redis/store"

	redis "github.com/go-redis/redis/v8"
)

const (
	// defaultHost is the default host of the redis service.
	defaultHost = "localhost"

	// defaultPort is the default port of the redis service.
	defaultPort = 6379

	// defaultTimeout bounds each fetch round trip.
	defaultTimeout = 2 * time.Second
)

// Options contains configuration settings for the redis connection.
type Options struct {
	Host     string        `yaml:"host" json:"host"`
	Port     int           `yaml:"port" json:"port"`
	DB       int           `yaml:"db" json:"db"`
	Password string        `yaml:"password" json:"password"`
	Username string        `yaml:"username" json:"username"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// Addr returns the host:port address of the redis service.
func (o *Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// ensureDefaults fills any unset options.
func (o *Options) ensureDefaults() {
	if o.Host == "" {
		o.Host = defaultHost
	}

	if o.Port == 0 {
		o.Port = defaultPort
	}

	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
}

// Backend fetches user records from redis.
type Backend struct {
	config *Options
	db     *redis.Client
}

// New returns a backend for the redis service described by opts.
func New(opts *Options) *Backend {
	if opts == nil {
		opts = new(Options)
	}

	config := *opts
	config.ensureDefaults()

	return &Backend{
		config: &config,
		db: redis.NewClient(&redis.Options{
			Addr:         config.Addr(),
			Username:     config.Username,
			Password:     config.Password,
			DB:           config.DB,
			DialTimeout:  config.Timeout,
			ReadTimeout:  config.Timeout,
			WriteTimeout: config.Timeout,
		}),
	}
}

// Options returns the effective options of the backend.
func (b *Backend) Options() Options {
	return *b.config
}

// Ping checks the redis service can be reached.
func (b *Backend) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	if err := b.db.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: failed to ping service: %v", store.ErrStoreUnavailable, err)
	}

	return nil
}

// Fetch reads the credential and acl records of a user in one pipeline.
func (b *Backend) Fetch(ctx context.Context, user string) (store.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	pipe := b.db.Pipeline()
	auth := pipe.Get(ctx, store.AuthKey(user))
	acl := pipe.Get(ctx, store.ACLKey(user))
	_, err := pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return store.Record{}, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}

	var rec store.Record
	if rec.Credential, err = value(auth); err != nil {
		return store.Record{}, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}

	if rec.ACL, err = value(acl); err != nil {
		return store.Record{}, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}

	return rec, nil
}

// value returns the bytes of a get result, or nil if the key was missing.
func value(cmd *redis.StringCmd) ([]byte, error) {
	b, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}

	return b, err
}

// Save writes the records of a user in a single transaction. Nil fields are
// left untouched.
func (b *Backend) Save(ctx context.Context, user string, rec store.Record) error {
	_, err := b.db.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if rec.Credential != nil {
			pipe.Set(ctx, store.AuthKey(user), rec.Credential, 0)
		}

		if rec.ACL != nil {
			pipe.Set(ctx, store.ACLKey(user), rec.ACL, 0)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", user, err)
	}

	return nil
}

// Delete removes the records of a user.
func (b *Backend) Delete(ctx context.Context, user string) error {
	if err := b.db.Del(ctx, store.AuthKey(user), store.ACLKey(user)).Err(); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", user, err)
	}

	return nil
}

// Close closes the redis connection.
func (b *Backend) Close() error {
	return b.db.Close()
}
