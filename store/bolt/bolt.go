// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, werbenhu

// Package bolt is a credential store backend using a local boltdb file, for
// brokers which run without a redis service.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mochi-mqtt/auth-redis/store"
	"go.etcd.io/bbolt"
)

var (
	ErrBucketNotFound = errors.New("bucket not found")
)

const (
	// defaultDbFile is the default file path for the boltdb file.
	defaultDbFile = ".auth.bolt"

	// defaultTimeout is the default time to wait for the file lock.
	defaultTimeout = 250 * time.Millisecond

	defaultBucket = "mochi-auth"
)

// Options contains configuration settings for the bolt instance.
type Options struct {
	Options *bbolt.Options `yaml:"-" json:"-"`
	Bucket  string         `yaml:"bucket" json:"bucket"`
	Path    string         `yaml:"path" json:"path"`
}

// Backend fetches user records from a boltdb file.
type Backend struct {
	config *Options
	db     *bbolt.DB
}

// New opens or creates the boltdb file described by opts.
func New(opts *Options) (*Backend, error) {
	config := new(Options)
	if opts != nil {
		*config = *opts
	}

	if config.Options == nil {
		config.Options = &bbolt.Options{
			Timeout: defaultTimeout,
		}
	}

	if len(config.Path) == 0 {
		config.Path = defaultDbFile
	}

	if len(config.Bucket) == 0 {
		config.Bucket = defaultBucket
	}

	db, err := bbolt.Open(config.Path, 0600, config.Options)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", config.Path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(config.Bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Backend{
		config: config,
		db:     db,
	}, nil
}

// Fetch reads the credential and acl records of a user in one transaction.
func (b *Backend) Fetch(ctx context.Context, user string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}

	var rec store.Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(b.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		rec.Credential = clone(bucket.Get([]byte(store.AuthKey(user))))
		rec.ACL = clone(bucket.Get([]byte(store.ACLKey(user))))
		return nil
	})
	if err != nil {
		return store.Record{}, fmt.Errorf("%w: %v", store.ErrStoreUnavailable, err)
	}

	return rec, nil
}

// clone copies a value out of the transaction, preserving nil.
func clone(v []byte) []byte {
	if v == nil {
		return nil
	}

	return append([]byte{}, v...)
}

// Save writes the records of a user. Nil fields are left untouched.
func (b *Backend) Save(ctx context.Context, user string, rec store.Record) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(b.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		if rec.Credential != nil {
			if err := bucket.Put([]byte(store.AuthKey(user)), rec.Credential); err != nil {
				return err
			}
		}

		if rec.ACL != nil {
			if err := bucket.Put([]byte(store.ACLKey(user)), rec.ACL); err != nil {
				return err
			}
		}

		return nil
	})
}

// Delete removes the records of a user.
func (b *Backend) Delete(ctx context.Context, user string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(b.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		if err := bucket.Delete([]byte(store.AuthKey(user))); err != nil {
			return err
		}

		return bucket.Delete([]byte(store.ACLKey(user)))
	})
}

// Close closes the boltdb instance.
func (b *Backend) Close() error {
	return b.db.Close()
}
