// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package cache holds the acl rules of authenticated users, keyed on username.
package cache

import (
	"time"

	"github.com/mochi-mqtt/auth-redis/acl"
	gocache "github.com/patrickmn/go-cache"
)

// Cache is a concurrency-safe mapping of username to acl rules. Entries are
// kept until they are replaced or invalidated unless a ttl is set.
type Cache struct {
	entries *gocache.Cache
}

// New returns a cache. A ttl of zero or less never expires entries.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		return &Cache{entries: gocache.New(gocache.NoExpiration, 0)}
	}

	return &Cache{entries: gocache.New(ttl, ttl)}
}

// Get returns the rules cached for a user.
func (c *Cache) Get(user string) (acl.Rules, bool) {
	v, ok := c.entries.Get(user)
	if !ok {
		return nil, false
	}

	return v.(acl.Rules), true
}

// Set replaces the rules cached for a user.
func (c *Cache) Set(user string, rules acl.Rules) {
	if rules == nil {
		rules = acl.Rules{}
	}

	c.entries.Set(user, rules, gocache.DefaultExpiration)
}

// Invalidate removes the rules cached for a user.
func (c *Cache) Invalidate(user string) {
	c.entries.Delete(user)
}

// Len returns the number of cached users.
func (c *Cache) Len() int {
	return c.entries.ItemCount()
}

// Flush removes all cached users.
func (c *Cache) Flush() {
	c.entries.Flush()
}
