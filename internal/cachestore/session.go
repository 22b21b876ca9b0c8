package cachestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/laguz/internal/models"
)

// draftResaveWindow: an identical draft saved again within this window is a
// no-op instead of a timestamp churn.
const draftResaveWindow = 5 * time.Second

type draftSlot struct {
	draft models.Draft
}

// SaveDraft stores an unsaved edit buffer for a note. Empty content is
// rejected. Re-saving unchanged content within draftResaveWindow is a no-op.
// Drafts are overwritten, never merged.
func (s *Store) SaveDraft(noteID, title, content string) error {
	if noteID == "" || content == "" {
		return fmt.Errorf("cachestore: draft for %q rejected: empty content", noteID)
	}
	s.draftMu.Lock()
	defer s.draftMu.Unlock()

	now := s.now()
	if slot, ok := s.drafts[noteID]; ok {
		if slot.draft.Content == content && now.Sub(slot.draft.Timestamp) < draftResaveWindow {
			return nil
		}
	}
	s.drafts[noteID] = draftSlot{draft: models.Draft{
		NoteID:    noteID,
		Title:     title,
		Content:   content,
		Timestamp: now,
	}}
	return nil
}

// Draft returns the pending draft for a note, if any.
func (s *Store) Draft(noteID string) (models.Draft, bool) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()
	slot, ok := s.drafts[noteID]
	return slot.draft, ok
}

// RemoveDraft discards a draft, typically after a successful save.
func (s *Store) RemoveDraft(noteID string) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()
	delete(s.drafts, noteID)
}

// SaveCSRFToken persists the rotating CSRF token with its short TTL.
func (s *Store) SaveCSRFToken(token string) error {
	return s.Save(keyCSRFToken, token, CSRFTTL)
}

// CSRFToken returns the cached CSRF token. The expired token is never
// evicted here: ignoreExpiry supports the fall-back-to-stale-token behavior
// when a refresh fails, and eviction on the fresh-read path would make the
// stale copy unreachable.
func (s *Store) CSRFToken(ignoreExpiry bool) (string, bool, error) {
	env, ok, err := s.getEntry(keyCSRFToken)
	if err != nil || !ok {
		return "", ok, err
	}
	if !ignoreExpiry && s.now().After(env.Expiry) {
		return "", false, nil
	}
	var token string
	if err := json.Unmarshal(env.Data, &token); err != nil {
		return "", false, fmt.Errorf("cachestore: unmarshal %s: %w", keyCSRFToken, err)
	}
	return token, true, nil
}

// SaveAuthToken persists the JWT. The token carries its own expiry claim, so
// the cache entry itself gets the default TTL.
func (s *Store) SaveAuthToken(token string) error {
	return s.Save(keyAuthToken, token, DefaultTTL)
}

// AuthToken returns the persisted JWT, ignoring cache-level expiry: the
// token's own exp claim is authoritative.
func (s *Store) AuthToken() (string, bool, error) {
	var token string
	ok, err := s.Get(keyAuthToken, &token, true)
	return token, ok, err
}

// SaveProfile persists the authenticated user.
func (s *Store) SaveProfile(p models.Profile) error {
	return s.Save(keyProfile, p, DefaultTTL)
}

// Profile returns the persisted user profile.
func (s *Store) Profile() (models.Profile, bool, error) {
	var p models.Profile
	ok, err := s.Get(keyProfile, &p, true)
	return p, ok, err
}

// ClearAuthToken evicts the JWT only, leaving the profile in place. Used
// when the token merely expired.
func (s *Store) ClearAuthToken() error {
	return s.Delete(keyAuthToken)
}

// ClearSession drops the JWT and user profile, forcing re-authentication.
func (s *Store) ClearSession() error {
	if err := s.Delete(keyAuthToken); err != nil {
		return err
	}
	return s.Delete(keyProfile)
}
