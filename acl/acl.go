// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package acl parses per-user topic access rules and matches them against
// topics using MQTT wildcard semantics.
package acl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	Deny      Access = iota // user cannot access the topic
	ReadOnly                // user can only subscribe to the topic
	WriteOnly               // user can only publish to the topic
	ReadWrite               // user can both publish and subscribe to the topic
)

const (
	Subscribe Operation = 1 // requires the ReadOnly bit
	Publish   Operation = 2 // requires the WriteOnly bit
)

const (
	Separator    = "/"
	WildcardOne  = "+"
	WildcardSome = "#"
	SysPrefix    = "$"
)

var (
	// ErrMalformedRecord indicates the stored acl payload could not be decoded.
	ErrMalformedRecord = errors.New("malformed acl record")
)

// Operation is the kind of request being authorized.
type Operation byte

// String returns the name of the operation.
func (o Operation) String() string {
	switch o {
	case Subscribe:
		return "subscribe"
	case Publish:
		return "publish"
	default:
		return "unknown"
	}
}

// Access is the permission bitmask of a rule. Values outside of
// ReadOnly..ReadWrite are kept as decoded but never grant anything.
type Access int

// Permits returns true if the access bits allow the operation.
func (a Access) Permits(op Operation) bool {
	if a < ReadOnly || a > ReadWrite {
		return false
	}

	return a&Access(op) != 0
}

// UnmarshalJSON decodes an access value given either as a number or as a
// numeric string. Anything else decodes as Deny.
func (a *Access) UnmarshalJSON(data []byte) error {
	raw := string(bytes.TrimSpace(data))
	if s, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(s)
	}

	if n, err := strconv.Atoi(raw); err == nil {
		*a = Access(n)
		return nil
	}

	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*a = Access(int(f))
		return nil
	}

	*a = Deny
	return nil
}

// Rule grants access bits on a topic filter.
type Rule struct {
	Topic  string `json:"topic" yaml:"topic"`   // the topic filter to match
	Access Access `json:"access" yaml:"access"` // the permission bits for the filter
}

// Rules is the set of rules belonging to a single user. Order does not
// affect the result of a check.
type Rules []Rule

// Parse decodes a stored acl payload. Absent or malformed payloads result
// in an empty rule set.
func Parse(data []byte) Rules {
	rules, err := ParseStrict(data)
	if err != nil {
		return Rules{}
	}

	return rules
}

// ParseStrict decodes a stored acl payload, returning ErrMalformedRecord if
// it is not a json array of rules. An absent payload is not an error.
func ParseStrict(data []byte) (Rules, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Rules{}, nil
	}

	var rules Rules
	if err := json.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	if rules == nil { // json null
		return Rules{}, nil
	}

	return rules, nil
}

// Marshal encodes the rules in the stored payload format.
func (r Rules) Marshal() ([]byte, error) {
	if r == nil {
		r = Rules{}
	}

	return json.Marshal(r)
}

// Authorized returns true if any rule permits op on the topic.
func (r Rules) Authorized(topic string, op Operation) bool {
	return Matcher{}.Authorized(r, topic, op)
}

// Matcher matches topics against rule filters.
type Matcher struct {
	// ExcludeSys prevents a wildcard in the first filter level from matching
	// topics which begin with $, such as $SYS/broker/uptime.
	ExcludeSys bool
}

// Authorized returns true if any rule in rules permits op on the topic.
// Access bits are tested before the filter is walked.
func (m Matcher) Authorized(rules Rules, topic string, op Operation) bool {
	for _, rule := range rules {
		if !rule.Access.Permits(op) {
			continue
		}

		if m.Match(rule.Topic, topic) {
			return true
		}
	}

	return false
}

// Match returns true if the filter matches the topic.
func (m Matcher) Match(filter, topic string) bool {
	if m.ExcludeSys && strings.HasPrefix(topic, SysPrefix) {
		first, _, _ := strings.Cut(filter, Separator)
		if first == WildcardOne || first == WildcardSome {
			return false
		}
	}

	if strings.ContainsAny(topic, WildcardOne+WildcardSome) {
		return Covers(filter, topic)
	}

	return MatchTopic(filter, topic)
}

// MatchTopic checks if a given topic matches a filter, accounting for filter
// wildcards. Eg. filter a/+/c == topic a/b/c, and filter a/# == topic a.
// Malformed filters never match.
func MatchTopic(filter, topic string) bool {
	for {
		f, fRest, fMore := strings.Cut(filter, Separator)
		if f == WildcardSome {
			return !fMore // # must be the final level
		}

		t, tRest, tMore := strings.Cut(topic, Separator)
		if f != WildcardOne {
			if strings.ContainsAny(f, WildcardOne+WildcardSome) || f != t {
				return false
			}
		}

		switch {
		case !fMore:
			return !tMore
		case !tMore:
			return fRest == WildcardSome // a/# matches the parent level a
		}

		filter, topic = fRest, tRest
	}
}

// Covers returns true if every topic matched by the requested filter sub is
// also matched by filter. A # in sub needs a # at the same or an earlier
// level of filter, and a + in sub needs a + or # at that level. Malformed
// filters on either side never cover.
func Covers(filter, sub string) bool {
	if !IsValidFilter(sub) {
		return false
	}

	for {
		f, fRest, fMore := strings.Cut(filter, Separator)
		if f == WildcardSome {
			return !fMore
		}

		s, sRest, sMore := strings.Cut(sub, Separator)
		switch {
		case s == WildcardSome:
			return false
		case f == WildcardOne:
		case strings.ContainsAny(f, WildcardOne+WildcardSome) || f != s:
			return false
		}

		switch {
		case !fMore:
			return !sMore
		case !sMore:
			return fRest == WildcardSome
		}

		filter, sub = fRest, sRest
	}
}

// IsValidFilter returns true if the filter uses wildcards only as whole
// levels and # only as the final level.
func IsValidFilter(filter string) bool {
	levels := strings.Split(filter, Separator)
	for i, level := range levels {
		switch {
		case level == WildcardSome && i != len(levels)-1:
			return false
		case level == WildcardOne, level == WildcardSome:
		case strings.ContainsAny(level, WildcardOne+WildcardSome):
			return false
		}
	}

	return true
}
