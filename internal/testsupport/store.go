package testsupport

import (
	"context"
	"testing"

	"chorus/internal/config"
	"chorus/internal/session"
)

// MustOpenStore opens a session.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *session.Store {
	t.Helper()

	store, err := session.Open(cfg)
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewSession creates a session for tests using the provided store.
func NewSession(t testing.TB, store *session.Store, reviewRef string) *session.Session {
	t.Helper()

	sess, err := store.NewSession(context.Background(), reviewRef)
	if err != nil {
		t.Fatalf("store.NewSession: %v", err)
	}
	return sess
}

// RegisterFile registers an audio file for tests using the provided store.
func RegisterFile(t testing.TB, store *session.Store, sessionID, filename, sourcePath string) *session.AudioFile {
	t.Helper()

	file, err := store.RegisterFile(context.Background(), sessionID, filename, sourcePath)
	if err != nil {
		t.Fatalf("store.RegisterFile: %v", err)
	}
	return file
}
