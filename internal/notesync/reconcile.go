package notesync

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/coordinator"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/notespath"
	"github.com/starford/laguz/internal/transport"
)

// Reconcile replays offline work to the server: queued deletes first, then
// every note flagged Temporary, parents before children so that a child's
// parent pointer always names a server-confirmed id. On a successful create
// the temporary id is rewritten everywhere it is referenced and Temporary
// cleared. Returns the number of replayed operations.
func (s *Service) Reconcile(ctx context.Context) (int, error) {
	if !s.probe.Online() {
		return 0, apperr.ErrOffline
	}

	reconciled := 0
	var errs []error

	deletes, err := s.cache.PendingDeletes()
	if err != nil {
		return 0, err
	}
	for _, pd := range deletes {
		if err := s.replayDelete(ctx, pd.NoteID); err != nil {
			slog.Warn("delete replay failed", slog.String("id", pd.NoteID), slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		reconciled++
	}

	// Parents before children: a temp note whose parent is itself a pending
	// temp note waits for the next pass, after the parent's id is rewritten.
	for {
		pending, err := s.pendingTempNotes()
		if err != nil {
			return reconciled, err
		}
		replayable := pickReplayable(pending)
		if len(replayable) == 0 {
			break
		}
		progressed := false
		for _, n := range replayable {
			if err := s.replayNote(ctx, n); err != nil {
				slog.Warn("note replay failed", slog.String("id", n.ID), slog.String("error", err.Error()))
				errs = append(errs, err)
				continue
			}
			reconciled++
			progressed = true
		}
		if !progressed {
			break
		}
	}

	return reconciled, errors.Join(errs...)
}

func (s *Service) pendingTempNotes() (map[string]models.Note, error) {
	byID, ok, err := s.cache.NoteMap(true)
	if err != nil || !ok {
		return nil, err
	}
	pending := make(map[string]models.Note)
	for id, n := range byID {
		if n.Temporary {
			pending[id] = n
		}
	}
	return pending, nil
}

// pickReplayable returns the pending notes whose parent is not itself a
// pending temporary create.
func pickReplayable(pending map[string]models.Note) []models.Note {
	var out []models.Note
	for _, n := range pending {
		if n.Parent != "" && models.IsTempID(n.Parent) {
			if _, parentPending := pending[n.Parent]; parentPending {
				continue
			}
		}
		out = append(out, n)
	}
	return out
}

func (s *Service) replayNote(ctx context.Context, n models.Note) error {
	if models.IsTempID(n.ID) {
		return s.replayCreate(ctx, n)
	}
	return s.replayUpdate(ctx, n)
}

func (s *Service) replayCreate(ctx context.Context, n models.Note) error {
	in := CreateInput{
		Title:   n.Title,
		Content: n.Content,
		Tags:    n.Tags,
		Parent:  n.Parent,
		Starter: n.Starter,
	}
	resp, err := s.coord.Do(ctx, coordinator.Request{
		Operation: coordinator.OpCreateNote,
		TargetID:  n.ID,
		Payload:   in,
		Force:     true,
		Call: func(ctx context.Context, csrf string) (*transport.Response, error) {
			return s.tr.Execute(ctx, http.MethodPost, notespath.Build(csrf, "", ""), in, s.authHeaders())
		},
	})
	if err != nil {
		return err
	}

	var confirmed models.Note
	if err := resp.Decode(&confirmed); err != nil {
		return err
	}
	if err := s.cache.RenameNoteID(n.ID, confirmed.ID); err != nil {
		return err
	}
	if err := s.index.RenameNote(n.ID, confirmed.ID); err != nil {
		slog.Warn("search index rename failed", slog.String("error", err.Error()))
	}
	confirmed.Temporary = false
	if err := s.upsertLocal(confirmed); err != nil {
		return err
	}
	s.events.NoteSynced(n.ID, confirmed.ID)
	return nil
}

func (s *Service) replayUpdate(ctx context.Context, n models.Note) error {
	patch := models.NotePatch{
		Title:   &n.Title,
		Content: &n.Content,
		Tags:    &n.Tags,
		Parent:  &n.Parent,
	}
	resp, err := s.coord.Do(ctx, coordinator.Request{
		Operation: coordinator.OpUpdateNote,
		TargetID:  n.ID,
		Payload:   patch,
		Force:     true,
		Call: func(ctx context.Context, csrf string) (*transport.Response, error) {
			return s.tr.Execute(ctx, http.MethodPut, notespath.Build(csrf, n.ID, ""), patch, s.authHeaders())
		},
	})
	if err != nil {
		var se *transport.StatusError
		if errors.As(err, &se) && se.Status == http.StatusNotFound {
			// Deleted server-side while we were away; drop the local copy.
			return s.removeLocal(n.ID)
		}
		return err
	}

	var confirmed models.Note
	if err := resp.Decode(&confirmed); err != nil {
		return err
	}
	confirmed.Temporary = false
	if err := s.upsertLocal(confirmed); err != nil {
		return err
	}
	s.events.NoteSynced(n.ID, confirmed.ID)
	return nil
}

func (s *Service) replayDelete(ctx context.Context, id string) error {
	_, err := s.coord.Do(ctx, coordinator.Request{
		Operation: coordinator.OpDeleteNote,
		TargetID:  id,
		Force:     true,
		Call: func(ctx context.Context, csrf string) (*transport.Response, error) {
			return s.tr.Execute(ctx, http.MethodDelete, notespath.Build(csrf, id, ""), nil, s.authHeaders())
		},
	})
	if err != nil {
		var se *transport.StatusError
		if !errors.As(err, &se) || se.Status != http.StatusNotFound {
			return err
		}
	}
	return s.cache.ClearPendingDelete(id)
}
