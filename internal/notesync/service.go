// Package notesync is the single entry point consumers use to work with
// notes. It hides the cache/offline/dedup/retry machinery: every call
// transparently serves from the local cache when the network is unreachable
// and reconciles locally-created notes once connectivity returns.
package notesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/cachestore"
	"github.com/starford/laguz/internal/coordinator"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/notespath"
	"github.com/starford/laguz/internal/searchindex"
	"github.com/starford/laguz/internal/token"
	"github.com/starford/laguz/internal/transport"
)

// Events receives notifications about sync milestones. All methods are
// called synchronously; implementations should not block.
type Events interface {
	NoteSynced(oldID, newID string)
	NoteDeleted(id string)
}

type nopEvents struct{}

func (nopEvents) NoteSynced(string, string) {}
func (nopEvents) NoteDeleted(string)        {}

// Service composes the request coordinator, token manager, cache store and
// search index behind the note operation surface.
type Service struct {
	cache  *cachestore.Store
	index  *searchindex.DB
	tokens *token.Manager
	coord  *coordinator.Coordinator
	tr     transport.Transport
	probe  ConnectivityProbe
	events Events
	now    func() time.Time
}

// NewService creates the sync service. probe decides online/offline routing
// and must not be nil.
func NewService(cache *cachestore.Store, index *searchindex.DB, tokens *token.Manager, coord *coordinator.Coordinator, tr transport.Transport, probe ConnectivityProbe) *Service {
	return &Service{
		cache:  cache,
		index:  index,
		tokens: tokens,
		coord:  coord,
		tr:     tr,
		probe:  probe,
		events: nopEvents{},
		now:    time.Now,
	}
}

// SetEvents installs an event sink. Passing nil restores the no-op sink.
func (s *Service) SetEvents(ev Events) {
	if ev == nil {
		ev = nopEvents{}
	}
	s.events = ev
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// authHeaders attaches the bearer credential when one is available. Absence
// is not fatal here: the server answers 401 and the taxonomy surfaces it.
func (s *Service) authHeaders() map[string]string {
	headers := map[string]string{}
	if tok, err := s.tokens.AuthToken(); err == nil {
		headers["Authorization"] = "Bearer " + tok
	}
	return headers
}

// List returns all notes. Offline it serves the cache immediately; online it
// goes through dedup and throttling, falling back to the cache when the
// network gives out or the rate guard rejects the call. forceRefresh
// bypasses throttling for user-initiated refreshes.
func (s *Service) List(ctx context.Context, forceRefresh bool) ([]models.Note, error) {
	if !s.probe.Online() {
		return s.cachedList(apperr.ErrOffline)
	}

	resp, err := s.coord.Do(ctx, coordinator.Request{
		Operation: coordinator.OpGetNotes,
		Force:     forceRefresh,
		Call: func(ctx context.Context, csrf string) (*transport.Response, error) {
			return s.tr.Execute(ctx, http.MethodGet, notespath.Build(csrf, "", ""), nil, s.authHeaders())
		},
	})
	if err != nil {
		if fallbackToCache(err) {
			return s.cachedList(err)
		}
		return nil, s.classify("list notes", err)
	}

	var notes []models.Note
	if err := resp.Decode(&notes); err != nil {
		return nil, err
	}
	if err := s.cache.CacheNotes(notes); err != nil {
		return nil, err
	}
	if err := s.index.ReplaceAll(notes); err != nil {
		slog.Warn("search index rebuild failed", slog.String("error", err.Error()))
	}
	return notes, nil
}

// Get returns one note by id, from the server when reachable and from the
// cache otherwise.
func (s *Service) Get(ctx context.Context, id string) (*models.Note, error) {
	if !s.probe.Online() {
		return s.cachedNote(id, apperr.ErrOffline)
	}

	resp, err := s.coord.Do(ctx, coordinator.Request{
		Operation: coordinator.OpGetNote,
		TargetID:  id,
		Call: func(ctx context.Context, csrf string) (*transport.Response, error) {
			return s.tr.Execute(ctx, http.MethodGet, notespath.Build(csrf, id, ""), nil, s.authHeaders())
		},
	})
	if err != nil {
		if fallbackToCache(err) {
			return s.cachedNote(id, err)
		}
		return nil, s.classify("get note", err)
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

// Search returns notes matching the query. Online it asks the server;
// offline (or when the network gives out) it falls back to the local
// full-text mirror of the cache.
func (s *Service) Search(ctx context.Context, query string) ([]models.Note, error) {
	if query == "" {
		return nil, fmt.Errorf("empty query: %w", apperr.ErrValidation)
	}
	if !s.probe.Online() {
		return s.localSearch(query)
	}

	resp, err := s.coord.Do(ctx, coordinator.Request{
		Operation: coordinator.OpSearch,
		Payload:   query,
		Call: func(ctx context.Context, csrf string) (*transport.Response, error) {
			return s.tr.Execute(ctx, http.MethodGet, notespath.Build(csrf, "", query), nil, s.authHeaders())
		},
	})
	if err != nil {
		if fallbackToCache(err) {
			return s.localSearch(query)
		}
		return nil, s.classify("search notes", err)
	}

	var notes []models.Note
	if err := resp.Decode(&notes); err != nil {
		return nil, err
	}
	for _, n := range notes {
		if err := s.cache.UpdateNoteInCache(n); err != nil {
			return nil, err
		}
	}
	return notes, nil
}

func (s *Service) localSearch(query string) ([]models.Note, error) {
	hits, err := s.index.Search(query, 20)
	if err != nil {
		return nil, err
	}
	byID, ok, err := s.cache.NoteMap(true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []models.Note{}, nil
	}
	out := make([]models.Note, 0, len(hits))
	for _, h := range hits {
		if n, found := byID[h.ID]; found {
			out = append(out, n)
		}
	}
	return out, nil
}

// SaveDraft stores a session-scoped edit buffer for a note.
func (s *Service) SaveDraft(noteID, title, content string) error {
	return s.cache.SaveDraft(noteID, title, content)
}

// Draft returns the pending draft for a note, if any.
func (s *Service) Draft(noteID string) (models.Draft, bool) {
	return s.cache.Draft(noteID)
}

// RemoveDraft discards a draft.
func (s *Service) RemoveDraft(noteID string) {
	s.cache.RemoveDraft(noteID)
}

func (s *Service) cachedList(cause error) ([]models.Note, error) {
	notes, ok, err := s.cache.Notes(true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("no cached notes: %w", rootCause(cause))
	}
	return notes, nil
}

func (s *Service) cachedNote(id string, cause error) (*models.Note, error) {
	n, ok, err := s.cache.Note(id, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("note %s not cached: %w", id, rootCause(cause))
	}
	return &n, nil
}

// upsertLocal patches both the cache and the search mirror.
func (s *Service) upsertLocal(n models.Note) error {
	if err := s.cache.UpdateNoteInCache(n); err != nil {
		return err
	}
	if err := s.index.UpsertNote(n); err != nil {
		slog.Warn("search index upsert failed", slog.String("id", n.ID), slog.String("error", err.Error()))
	}
	return nil
}

func (s *Service) removeLocal(ids ...string) error {
	if err := s.cache.RemoveNotesFromCache(ids...); err != nil {
		return err
	}
	if err := s.index.DeleteNotes(ids...); err != nil {
		slog.Warn("search index delete failed", slog.String("error", err.Error()))
	}
	return nil
}

// fallbackToCache reports whether the failure should be absorbed by serving
// cached data: throttle rejections and network-level failures, never HTTP
// error responses or credential problems.
func fallbackToCache(err error) bool {
	if errors.Is(err, apperr.ErrThrottled) || errors.Is(err, apperr.ErrOffline) {
		return true
	}
	if errors.Is(err, apperr.ErrUnauthorized) {
		return false
	}
	return transport.IsNetwork(err)
}

// offlineFallback reports whether a write failure should take the local
// optimistic path. Throttle rejections and credential problems propagate to
// the caller instead.
func offlineFallback(err error) bool {
	if errors.Is(err, apperr.ErrThrottled) || errors.Is(err, apperr.ErrUnauthorized) {
		return false
	}
	return transport.IsNetwork(err) || errors.Is(err, apperr.ErrOffline)
}

// rootCause reduces an absorbed failure to its taxonomy kind for callers
// that ended up with no cached data either.
func rootCause(err error) error {
	switch {
	case errors.Is(err, apperr.ErrThrottled):
		return err
	case errors.Is(err, apperr.ErrOffline):
		return apperr.ErrOffline
	default:
		return apperr.ErrOffline
	}
}

// classify maps transport failures onto the error taxonomy.
func (s *Service) classify(op string, err error) error {
	var se *transport.StatusError
	if errors.As(err, &se) {
		return fmt.Errorf("notesync: %s: %w", op, apperr.FromStatus(se.Status))
	}
	if errors.Is(err, apperr.ErrThrottled) || errors.Is(err, apperr.ErrUnauthorized) {
		return err
	}
	if transport.IsNetwork(err) {
		return fmt.Errorf("notesync: %s: %w", op, apperr.ErrOffline)
	}
	return fmt.Errorf("notesync: %s: %w", op, err)
}
