package cachestore

import (
	"time"

	"github.com/starford/laguz/internal/models"
)

// CacheNotes replaces the whole note collection, as after a successful full
// list fetch.
func (s *Store) CacheNotes(notes []models.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]models.Note, len(notes))
	for _, n := range notes {
		byID[n.ID] = n
	}
	return s.Save(keyNotes, byID, DefaultTTL)
}

// Notes returns the cached note collection. ignoreExpiry lets offline reads
// see a nominally expired collection.
func (s *Store) Notes(ignoreExpiry bool) ([]models.Note, bool, error) {
	byID, ok, err := s.noteMap(ignoreExpiry)
	if err != nil || !ok {
		return nil, ok, err
	}
	out := make([]models.Note, 0, len(byID))
	for _, n := range byID {
		out = append(out, n)
	}
	return out, true, nil
}

// NoteMap returns the cached collection keyed by id. The returned map is a
// copy; mutating it does not touch the cache.
func (s *Store) NoteMap(ignoreExpiry bool) (map[string]models.Note, bool, error) {
	return s.noteMap(ignoreExpiry)
}

// Note returns a single cached note by id.
func (s *Store) Note(id string, ignoreExpiry bool) (models.Note, bool, error) {
	byID, ok, err := s.noteMap(ignoreExpiry)
	if err != nil || !ok {
		return models.Note{}, false, err
	}
	n, ok := byID[id]
	return n, ok, nil
}

// UpdateNoteInCache upserts a note by id. The incoming record replaces the
// cached one wholesale: callers always hold a complete record, and a field
// the server returned empty must stay empty rather than resurrect the old
// value.
func (s *Store) UpdateNoteInCache(n models.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok, err := s.noteMapLocked()
	if err != nil {
		return err
	}
	if !ok {
		byID = make(map[string]models.Note, 1)
	}
	byID[n.ID] = n
	return s.Save(keyNotes, byID, DefaultTTL)
}

// RemoveNotesFromCache drops the given ids from the collection.
func (s *Store) RemoveNotesFromCache(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok, err := s.noteMapLocked()
	if err != nil || !ok {
		return err
	}
	for _, id := range ids {
		delete(byID, id)
	}
	return s.Save(keyNotes, byID, DefaultTTL)
}

// RenameNoteID rewrites oldID to newID everywhere it is referenced: the note
// itself and the parent pointers of its children. Used when the server
// confirms a temporary note.
func (s *Store) RenameNoteID(oldID, newID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok, err := s.noteMapLocked()
	if err != nil || !ok {
		return err
	}
	n, found := byID[oldID]
	if found {
		delete(byID, oldID)
		n.ID = newID
		n.Temporary = false
		byID[newID] = n
	}
	for id, child := range byID {
		if child.Parent == oldID {
			child.Parent = newID
			byID[id] = child
		}
	}
	return s.Save(keyNotes, byID, DefaultTTL)
}

func (s *Store) noteMap(ignoreExpiry bool) (map[string]models.Note, bool, error) {
	var byID map[string]models.Note
	ok, err := s.Get(keyNotes, &byID, ignoreExpiry)
	return byID, ok, err
}

// noteMapLocked reads the collection ignoring expiry: a mutation must not
// silently drop a collection that merely aged out.
func (s *Store) noteMapLocked() (map[string]models.Note, bool, error) {
	return s.noteMap(true)
}

// QueueDelete records a delete issued while offline, for later replay.
func (s *Store) QueueDelete(noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, _, err := s.pendingDeletesLocked()
	if err != nil {
		return err
	}
	if queue == nil {
		queue = make(map[string]models.PendingDelete, 1)
	}
	queue[noteID] = models.PendingDelete{NoteID: noteID, QueuedAt: s.now()}
	return s.Save(keyPendingDeletes, queue, DefaultTTL)
}

// PendingDeletes returns the queued offline deletes.
func (s *Store) PendingDeletes() ([]models.PendingDelete, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, _, err := s.pendingDeletesLocked()
	if err != nil {
		return nil, err
	}
	out := make([]models.PendingDelete, 0, len(queue))
	for _, pd := range queue {
		out = append(out, pd)
	}
	return out, nil
}

// ClearPendingDelete drops a replayed (or abandoned) delete intent.
func (s *Store) ClearPendingDelete(noteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue, ok, err := s.pendingDeletesLocked()
	if err != nil || !ok {
		return err
	}
	delete(queue, noteID)
	return s.Save(keyPendingDeletes, queue, DefaultTTL)
}

func (s *Store) pendingDeletesLocked() (map[string]models.PendingDelete, bool, error) {
	var queue map[string]models.PendingDelete
	ok, err := s.Get(keyPendingDeletes, &queue, true)
	return queue, ok, err
}

// SetClock overrides the time source, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}
