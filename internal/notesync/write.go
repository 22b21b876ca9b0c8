package notesync

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/coordinator"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/notespath"
	"github.com/starford/laguz/internal/sanitize"
	"github.com/starford/laguz/internal/transport"
)

// CreateInput is the payload for Create.
type CreateInput struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
	Parent  string   `json:"parent,omitempty"`

	// Starter flags the tutorial note. Creation is idempotent by
	// classification: if one already exists it is returned unchanged.
	Starter bool `json:"starter,omitempty"`
}

// Create makes a new note. Online, the server assigns the id; offline, the
// note is created optimistically with a temporary id and Temporary set, to
// be replayed by Reconcile.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Note, error) {
	in.Title = sanitize.Title(in.Title)
	in.Content = sanitize.HTML(in.Content)

	if in.Starter {
		if existing := s.findStarter(); existing != nil {
			return existing, nil
		}
	}

	if !s.probe.Online() {
		return s.localCreate(in)
	}

	resp, err := s.coord.Do(ctx, coordinator.Request{
		Operation: coordinator.OpCreateNote,
		Payload:   in,
		Call: func(ctx context.Context, csrf string) (*transport.Response, error) {
			return s.tr.Execute(ctx, http.MethodPost, notespath.Build(csrf, "", ""), in, s.authHeaders())
		},
	})
	if err != nil {
		if offlineFallback(err) {
			return s.localCreate(in)
		}
		return nil, s.classify("create note", err)
	}

	var note models.Note
	if err := resp.Decode(&note); err != nil {
		return nil, err
	}
	if err := s.upsertLocal(note); err != nil {
		return nil, err
	}
	return &note, nil
}

// Update applies a partial change to a note. A parent change that would make
// the note an ancestor of itself is rejected and the tree left unchanged.
// When the server is unreachable the change is merged into the cached record
// and flagged Temporary; the caller cannot otherwise distinguish a confirmed
// write from a locally-applied one.
func (s *Service) Update(ctx context.Context, id string, patch models.NotePatch) (*models.Note, error) {
	if patch.Title != nil {
		t := sanitize.Title(*patch.Title)
		patch.Title = &t
	}
	if patch.Content != nil {
		c := sanitize.HTML(*patch.Content)
		patch.Content = &c
	}

	if patch.Parent != nil && *patch.Parent != "" {
		byID, ok, err := s.cache.NoteMap(true)
		if err != nil {
			return nil, err
		}
		if ok && wouldCycle(byID, id, *patch.Parent) {
			return nil, fmt.Errorf("notesync: parent %s is a descendant of %s: %w", *patch.Parent, id, apperr.ErrConflict)
		}
	}

	if !s.probe.Online() {
		return s.localUpdate(id, patch)
	}

	resp, err := s.coord.Do(ctx, coordinator.Request{
		Operation: coordinator.OpUpdateNote,
		TargetID:  id,
		Payload:   patch,
		Call: func(ctx context.Context, csrf string) (*transport.Response, error) {
			return s.tr.Execute(ctx, http.MethodPut, notespath.Build(csrf, id, ""), patch, s.authHeaders())
		},
	})
	if err != nil {
		if offlineFallback(err) {
			return s.localUpdate(id, patch)
		}
		return nil, s.classify("update note", err)
	}

	var note models.Note
	if err := resp.Decode(&note); err != nil {
		return nil, err
	}
	if err := s.upsertLocal(note); err != nil {
		return nil, err
	}
	s.cache.RemoveDraft(id)
	return &note, nil
}

// Delete removes a note and, transitively, every cached note whose parent
// chain resolves to it. Offline deletes hide the subtree immediately and
// queue the intent for replay.
func (s *Service) Delete(ctx context.Context, id string) error {
	byID, _, err := s.cache.NoteMap(true)
	if err != nil {
		return err
	}
	subtree := subtreeIDs(byID, id)

	if !s.probe.Online() {
		return s.localDelete(id, subtree)
	}

	_, err = s.coord.Do(ctx, coordinator.Request{
		Operation: coordinator.OpDeleteNote,
		TargetID:  id,
		Call: func(ctx context.Context, csrf string) (*transport.Response, error) {
			return s.tr.Execute(ctx, http.MethodDelete, notespath.Build(csrf, id, ""), nil, s.authHeaders())
		},
	})
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			// Already gone server-side; finish the local cleanup.
			return s.finishDelete(id, subtree)
		}
		if offlineFallback(err) {
			return s.localDelete(id, subtree)
		}
		return s.classify("delete note", err)
	}
	return s.finishDelete(id, subtree)
}

func (s *Service) finishDelete(id string, subtree []string) error {
	if err := s.removeLocal(subtree...); err != nil {
		return err
	}
	if err := s.cache.ClearPendingDelete(id); err != nil {
		return err
	}
	s.events.NoteDeleted(id)
	return nil
}

func (s *Service) localDelete(id string, subtree []string) error {
	if !models.IsTempID(id) {
		if err := s.cache.QueueDelete(id); err != nil {
			return err
		}
	}
	if err := s.removeLocal(subtree...); err != nil {
		return err
	}
	s.events.NoteDeleted(id)
	return nil
}

func (s *Service) localCreate(in CreateInput) (*models.Note, error) {
	now := s.now()
	note := models.Note{
		ID:        models.NewTempID(),
		Title:     in.Title,
		Content:   in.Content,
		Tags:      in.Tags,
		Parent:    in.Parent,
		CreatedAt: now,
		UpdatedAt: now,
		Temporary: true,
		Starter:   in.Starter,
	}
	if err := s.upsertLocal(note); err != nil {
		return nil, err
	}
	return &note, nil
}

func (s *Service) localUpdate(id string, patch models.NotePatch) (*models.Note, error) {
	n, ok, err := s.cache.Note(id, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("notesync: update note: %w", apperr.ErrNotFound)
	}
	patch.Apply(&n, s.now())
	n.Temporary = true
	if err := s.upsertLocal(n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *Service) findStarter() *models.Note {
	byID, ok, err := s.cache.NoteMap(true)
	if err != nil || !ok {
		return nil
	}
	for _, n := range byID {
		if n.Starter {
			starter := n
			return &starter
		}
	}
	return nil
}
