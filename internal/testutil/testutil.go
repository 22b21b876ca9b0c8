// Package testutil provides shared test helpers for setting up caches,
// search indexes, and scripted transports.
package testutil

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/starford/laguz/internal/cachestore"
	"github.com/starford/laguz/internal/searchindex"
	"github.com/starford/laguz/internal/transport"
)

// TestCache creates a temporary cache store that is automatically cleaned up.
func TestCache(t *testing.T) *cachestore.Store {
	t.Helper()
	cache, err := cachestore.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

// TestIndex creates a temporary SQLite search mirror that is automatically
// cleaned up.
func TestIndex(t *testing.T) *searchindex.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "laguz-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := searchindex.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Call records one transport exchange.
type Call struct {
	Method string
	Path   string
	Body   any
}

// FakeTransport is a scripted transport.Transport. Handler decides the
// outcome of each call; every call is recorded.
type FakeTransport struct {
	mu      sync.Mutex
	calls   []Call
	Handler func(method, path string, body any) (*transport.Response, error)
}

// Execute implements transport.Transport.
func (f *FakeTransport) Execute(_ context.Context, method, path string, body any, _ map[string]string) (*transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Path: path, Body: body})
	handler := f.Handler
	f.mu.Unlock()

	if handler == nil {
		return nil, errors.New("dial tcp: connection refused")
	}
	return handler(method, path, body)
}

// Calls returns a snapshot of the recorded exchanges.
func (f *FakeTransport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallCount returns how many exchanges reached the transport.
func (f *FakeTransport) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// NetworkError simulates a connection-level failure (no HTTP response).
func NetworkError() error {
	return errors.New("dial tcp: connection refused")
}
