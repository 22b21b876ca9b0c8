// Package cachestore implements the durable local cache backing the sync
// core: cached notes, the current CSRF token, auth state, and the queue of
// offline-issued deletes. Entries survive restart (BadgerDB); drafts are
// session-scoped and live only for the process lifetime.
package cachestore

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Persisted storage keys, namespaced under a fixed prefix.
const (
	keyPrefix         = "laguz:"
	keyNotes          = keyPrefix + "notes"
	keyCSRFToken      = keyPrefix + "csrf_token"
	keyAuthToken      = keyPrefix + "auth_token"
	keyProfile        = keyPrefix + "profile"
	keyPendingDeletes = keyPrefix + "pending_deletes"
)

// Entry TTLs.
const (
	DefaultTTL = 24 * time.Hour
	CSRFTTL    = 30 * time.Minute
)

// entry is the envelope every persisted value is wrapped in.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Expiry    time.Time       `json:"expiry"`
}

// Store is the durable key/value cache. The note collection is guarded by a
// mutex because its read-modify-write helpers would otherwise lose updates
// under concurrent callers.
type Store struct {
	db *badger.DB

	mu sync.Mutex

	draftMu sync.Mutex
	drafts  map[string]draftSlot

	now func() time.Time
}

// Open opens (or creates) the cache database in dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithLoggingLevel(badger.ERROR)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cachestore: open db: %w", err)
	}
	return &Store{
		db:     db,
		drafts: make(map[string]draftSlot),
		now:    time.Now,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists v under key with the given TTL. ttl <= 0 means DefaultTTL.
func (s *Store) Save(key string, v any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cachestore: marshal %s: %w", key, err)
	}
	now := s.now()
	env, err := json.Marshal(entry{
		Data:      data,
		Timestamp: now,
		Expiry:    now.Add(ttl),
	})
	if err != nil {
		return fmt.Errorf("cachestore: marshal envelope: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), env)
	})
	if err != nil {
		return fmt.Errorf("cachestore: save %s: %w", key, err)
	}
	return nil
}

// Get reads key into out. A read past expiry evicts the entry and reports
// not-found, unless ignoreExpiry is set (used so offline reads can still see
// stale-but-present data). The boolean result is false when the key is absent.
func (s *Store) Get(key string, out any, ignoreExpiry bool) (bool, error) {
	env, ok, err := s.getEntry(key)
	if err != nil || !ok {
		return false, err
	}
	if !ignoreExpiry && s.now().After(env.Expiry) {
		_ = s.Delete(key)
		return false, nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return false, fmt.Errorf("cachestore: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// getEntry reads the raw envelope without expiry handling.
func (s *Store) getEntry(key string) (entry, bool, error) {
	var env entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &env)
		})
	})
	if err == badger.ErrKeyNotFound {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, fmt.Errorf("cachestore: get %s: %w", key, err)
	}
	return env, true, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("cachestore: delete %s: %w", key, err)
	}
	return nil
}
