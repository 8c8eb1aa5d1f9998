// Package creds manages per-identity backend credentials: the endpoint a
// user logged in with, their optional bearer secret, and the stable device
// ID the backend knows them by.
//
// Records are validated on read rather than trusted as stored — a store
// written by an older version or edited by hand must not crash the bot.
package creds

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when an identity has no stored credential.
var ErrNotFound = errors.New("creds: not logged in")

// Credential is one identity's backend login.
type Credential struct {
	// Endpoint is the backend base URL, stored with the trailing slash
	// stripped.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Secret is the optional bearer token. Empty means the backend is open.
	Secret string `yaml:"secret,omitempty" json:"secret,omitempty"`

	// DeviceID identifies this user's virtual device to the backend. It is
	// generated once at first login and survives re-logins; only a logout
	// discards it.
	DeviceID string `yaml:"device_id" json:"device_id"`
}

// Validate checks that a credential read from a store is usable.
func (c Credential) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Endpoint) == "" {
		errs = append(errs, errors.New("endpoint is empty"))
	}
	if strings.TrimSpace(c.DeviceID) == "" {
		errs = append(errs, errors.New("device_id is empty"))
	}
	return errors.Join(errs...)
}

// Store persists identity→credential mappings. Implementations read the
// whole mapping, mutate one entry, and write the whole mapping back; no
// per-identity atomicity is assumed from the storage layer. Last-writer-wins
// races between concurrent commands are accepted.
type Store interface {
	// Get returns the credential for identity or [ErrNotFound].
	Get(ctx context.Context, identity string) (Credential, error)

	// Put stores or replaces the credential for identity.
	Put(ctx context.Context, identity string, cred Credential) error

	// Delete removes the credential for identity. Deleting an absent
	// identity is not an error.
	Delete(ctx context.Context, identity string) error
}

// NewDeviceID generates a fresh device identifier: 4 random bytes, hex
// encoded (e.g. "a3f19c7e").
func NewDeviceID() (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("creds: generate device id: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}

// NormalizeEndpoint strips the trailing slash from a user-supplied endpoint.
func NormalizeEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/")
}
