// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package credentials verifies plaintext passwords against stored salted
// PBKDF2 hashes.
package credentials

import (
	"bytes"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DefaultIterations, DefaultKeyLength and DefaultDigest match the
	// parameters used by the pbkdf2-password provisioning tool.
	DefaultIterations = 10000
	DefaultKeyLength  = 128
	DefaultDigest     = "sha1"

	// DefaultSaltLength is the number of random bytes in a new salt.
	DefaultSaltLength = 128

	EncodingBase64 = "base64"
	EncodingHex    = "hex"
)

var (
	// ErrMalformedRecord indicates the stored credential could not be decoded.
	ErrMalformedRecord = errors.New("malformed credential record")

	// ErrVerifier indicates the hash could not be computed.
	ErrVerifier = errors.New("password verifier failure")
)

// Credential is a stored salt and password hash.
type Credential struct {
	Salt     string `json:"salt"`
	Password string `json:"password"`
}

// ParseCredential decodes a stored credential record.
func ParseCredential(data []byte) (*Credential, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty record", ErrMalformedRecord)
	}

	var cred *Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	if cred == nil || cred.Salt == "" || cred.Password == "" {
		return nil, fmt.Errorf("%w: missing salt or password", ErrMalformedRecord)
	}

	return cred, nil
}

// Marshal encodes the credential in the stored record format.
func (c Credential) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Hasher derives password hashes with PBKDF2. The parameters must be the
// same as those used when the stored hashes were created.
type Hasher struct {
	Iterations int    `yaml:"iterations" json:"iterations"`
	KeyLength  int    `yaml:"key_length" json:"key_length"`
	Digest     string `yaml:"digest" json:"digest"`     // sha1, sha256 or sha512
	Encoding   string `yaml:"encoding" json:"encoding"` // base64 or hex
}

// DefaultHasher returns a hasher with the default parameters.
func DefaultHasher() *Hasher {
	return &Hasher{
		Iterations: DefaultIterations,
		KeyLength:  DefaultKeyLength,
		Digest:     DefaultDigest,
		Encoding:   EncodingBase64,
	}
}

// digest returns the hash constructor for the configured digest.
func (h *Hasher) digest() (func() hash.Hash, error) {
	switch strings.ToLower(h.Digest) {
	case "", "sha1":
		return sha1.New, nil
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("%w: unsupported digest %q", ErrVerifier, h.Digest)
	}
}

// encode returns the stored string form of a derived key.
func (h *Hasher) encode(key []byte) (string, error) {
	switch strings.ToLower(h.Encoding) {
	case "", EncodingBase64:
		return base64.StdEncoding.EncodeToString(key), nil
	case EncodingHex:
		return hex.EncodeToString(key), nil
	default:
		return "", fmt.Errorf("%w: unsupported encoding %q", ErrVerifier, h.Encoding)
	}
}

// Hash derives the encoded hash of a password using the given salt. The salt
// string is used as is, not decoded.
func (h *Hasher) Hash(password, salt string) (string, error) {
	if h.Iterations <= 0 || h.KeyLength <= 0 {
		return "", fmt.Errorf("%w: iterations and key length must be positive", ErrVerifier)
	}

	fn, err := h.digest()
	if err != nil {
		return "", err
	}

	return h.encode(pbkdf2.Key([]byte(password), []byte(salt), h.Iterations, h.KeyLength, fn))
}

// Verify returns true if the password hashes to the stored credential hash.
func (h *Hasher) Verify(password string, cred *Credential) (bool, error) {
	if cred == nil {
		return false, nil
	}

	sum, err := h.Hash(password, cred.Salt)
	if err != nil {
		return false, err
	}

	expected := cred.Password
	if strings.EqualFold(h.Encoding, EncodingHex) {
		expected = strings.ToLower(expected)
	}

	return subtle.ConstantTimeCompare([]byte(sum), []byte(expected)) == 1, nil
}

// New creates a credential for a password with a fresh random salt.
func (h *Hasher) New(password string) (*Credential, error) {
	salt, err := NewSalt(DefaultSaltLength)
	if err != nil {
		return nil, err
	}

	sum, err := h.Hash(password, salt)
	if err != nil {
		return nil, err
	}

	return &Credential{Salt: salt, Password: sum}, nil
}

// NewSalt returns n random bytes encoded as base64.
func NewSalt(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random salt: %w", err)
	}

	return base64.StdEncoding.EncodeToString(b), nil
}
