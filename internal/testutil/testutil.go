// Package testutil provides shared fixtures for package tests.
package testutil

import (
	"io"
	"log/slog"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-server/storage"
	"github.com/giantswarm/oauth2-server/storage/memory"
)

// NewMemoryStore returns a memory store with the cleanup loop disabled,
// stopped when the test ends.
func NewMemoryStore(t *testing.T) *memory.Store {
	t.Helper()

	store := memory.NewWithInterval(0)
	t.Cleanup(store.Stop)
	return store
}

// NewClient builds a client whose secret hash uses bcrypt.MinCost to keep
// tests fast. Grants default to every supported grant type.
func NewClient(t *testing.T, id, secret string, grants ...storage.GrantType) *storage.Client {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt failed: %v", err)
	}
	if len(grants) == 0 {
		grants = storage.GrantTypes
	}
	return &storage.Client{
		ID:          id,
		SecretHash:  string(hash),
		Name:        "Test Client",
		RedirectURI: "https://app.example.com/callback",
		GrantTypes:  grants,
	}
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
