// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package store defines the contract for fetching a user's stored credential
// and acl records from a key-value backend.
package store

import (
	"context"
	"errors"
)

const (
	AuthKeyPrefix = "user:auth:" // prefix of the credential record key
	ACLKeyPrefix  = "user:acl:"  // prefix of the acl record key
)

var (
	// ErrStoreUnavailable indicates a transport failure or timeout while
	// querying the backend.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// AuthKey returns the key of a user's credential record.
func AuthKey(user string) string {
	return AuthKeyPrefix + user
}

// ACLKey returns the key of a user's acl record.
func ACLKey(user string) string {
	return ACLKeyPrefix + user
}

// Record contains the raw stored payloads for a user. A nil field means
// the backend has no value for the key.
type Record struct {
	Credential []byte
	ACL        []byte
}

// Backend fetches user records. Fetch must read both keys in a single round
// trip, must not return an error when a key is missing, and must return an
// error wrapping ErrStoreUnavailable on transport failure or timeout.
type Backend interface {
	Fetch(ctx context.Context, user string) (Record, error)
	Close() error
}

// Saver is implemented by backends which can write user records.
type Saver interface {
	Save(ctx context.Context, user string, rec Record) error
	Delete(ctx context.Context, user string) error
}
