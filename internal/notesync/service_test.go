package notesync

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/laguz/internal/apperr"
	"github.com/starford/laguz/internal/cachestore"
	"github.com/starford/laguz/internal/coordinator"
	"github.com/starford/laguz/internal/models"
	"github.com/starford/laguz/internal/searchindex"
	"github.com/starford/laguz/internal/testutil"
	"github.com/starford/laguz/internal/token"
	"github.com/starford/laguz/internal/transport"
)

type fixture struct {
	t      *testing.T
	cache  *cachestore.Store
	index  *searchindex.DB
	tr     *testutil.FakeTransport
	svc    *Service
	online bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, online: true}
	f.cache = testutil.TestCache(t)
	f.index = testutil.TestIndex(t)
	f.tr = &testutil.FakeTransport{}

	tokens := token.NewManager(f.cache, f.tr)
	coord := coordinator.New(tokens)
	coord.SetRetryTiming(
		func(context.Context, time.Duration) error { return nil },
		func(time.Duration) time.Duration { return 0 },
	)
	f.svc = NewService(f.cache, f.index, tokens, coord, f.tr, ProbeFunc(func() bool { return f.online }))

	// A fresh CSRF token is cached so requests never detour through /csrf.
	if err := f.cache.SaveCSRFToken("tok"); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) seed(notes ...models.Note) {
	f.t.Helper()
	if err := f.cache.CacheNotes(notes); err != nil {
		f.t.Fatal(err)
	}
	if err := f.index.ReplaceAll(notes); err != nil {
		f.t.Fatal(err)
	}
}

func body(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type eventRecorder struct {
	synced  [][2]string
	deleted []string
}

func (e *eventRecorder) NoteSynced(oldID, newID string) {
	e.synced = append(e.synced, [2]string{oldID, newID})
}

func (e *eventRecorder) NoteDeleted(id string) {
	e.deleted = append(e.deleted, id)
}

func TestListOfflineServesCache(t *testing.T) {
	f := newFixture(t)
	f.seed(
		models.Note{ID: "a", Title: "A"},
		models.Note{ID: "b", Title: "B"},
		models.Note{ID: "c", Title: "C"},
	)
	f.online = false

	notes, err := f.svc.List(context.Background(), false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(notes) != 3 {
		t.Errorf("got %d notes, want 3", len(notes))
	}
	if f.tr.CallCount() != 0 {
		t.Errorf("offline list made %d network calls, want 0", f.tr.CallCount())
	}
}

func TestListOfflineNoCache(t *testing.T) {
	f := newFixture(t)
	f.online = false

	if _, err := f.svc.List(context.Background(), false); !errors.Is(err, apperr.ErrOffline) {
		t.Fatalf("got %v, want ErrOffline", err)
	}
}

func TestListOnlineReplacesCacheWholesale(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Note{ID: "stale", Title: "Gone"})

	server := []models.Note{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}}
	f.tr.Handler = func(method, path string, _ any) (*transport.Response, error) {
		if method != "GET" || path != "/tok/notes" {
			t.Errorf("unexpected request %s %s", method, path)
		}
		return &transport.Response{Status: 200, Body: body(t, server)}, nil
	}

	notes, err := f.svc.List(context.Background(), false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(notes) != 2 {
		t.Errorf("got %d notes, want 2", len(notes))
	}
	if _, ok, _ := f.cache.Note("stale", true); ok {
		t.Error("list must replace the cached collection wholesale")
	}
	if _, ok, _ := f.cache.Note("a", true); !ok {
		t.Error("server note missing from cache")
	}
}

func TestListNetworkFailureFallsBackToCache(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Note{ID: "a", Title: "A"})
	f.tr.Handler = func(string, string, any) (*transport.Response, error) {
		return nil, testutil.NetworkError()
	}

	notes, err := f.svc.List(context.Background(), false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != "a" {
		t.Errorf("got %v, want the cached note", notes)
	}
}

func TestGetOnlineUpdatesCache(t *testing.T) {
	f := newFixture(t)
	f.tr.Handler = func(method, path string, _ any) (*transport.Response, error) {
		if method != "GET" || path != "/tok/notes/n1" {
			t.Errorf("unexpected request %s %s", method, path)
		}
		return &transport.Response{Status: 200, Body: body(t, models.Note{ID: "n1", Title: "Fresh"})}, nil
	}

	n, err := f.svc.Get(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n.Title != "Fresh" {
		t.Errorf("title %q, want Fresh", n.Title)
	}
	if cached, ok, _ := f.cache.Note("n1", true); !ok || cached.Title != "Fresh" {
		t.Error("fetched note not upserted into cache")
	}
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)
	f.tr.Handler = func(string, string, any) (*transport.Response, error) {
		return nil, &transport.StatusError{Status: 404}
	}

	if _, err := f.svc.Get(context.Background(), "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Search(context.Background(), ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("got %v, want ErrValidation", err)
	}
	if f.tr.CallCount() != 0 {
		t.Error("empty query must not reach the network")
	}
}

func TestSearchOfflineUsesLocalIndex(t *testing.T) {
	f := newFixture(t)
	f.seed(
		models.Note{ID: "a", Title: "Grocery list", Content: "milk and eggs"},
		models.Note{ID: "b", Title: "Meeting notes", Content: "quarterly review"},
	)
	f.online = false

	notes, err := f.svc.Search(context.Background(), "milk")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != "a" {
		t.Errorf("got %v, want the grocery note", notes)
	}
	if f.tr.CallCount() != 0 {
		t.Error("offline search must not reach the network")
	}
}

func TestCreateOffline(t *testing.T) {
	f := newFixture(t)
	f.online = false

	n, err := f.svc.Create(context.Background(), CreateInput{Title: "Draft", Content: "body"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !models.IsTempID(n.ID) {
		t.Errorf("offline create id %q, want a temporary id", n.ID)
	}
	if !n.Temporary {
		t.Error("offline create must flag the note Temporary")
	}
	if cached, ok, _ := f.cache.Note(n.ID, true); !ok || cached.Title != "Draft" {
		t.Error("offline note not cached")
	}
	if f.tr.CallCount() != 0 {
		t.Errorf("offline create made %d network calls, want 0", f.tr.CallCount())
	}
}

func TestCreateNetworkExhaustionFallsBackLocal(t *testing.T) {
	f := newFixture(t)
	f.tr.Handler = func(string, string, any) (*transport.Response, error) {
		return nil, testutil.NetworkError()
	}

	n, err := f.svc.Create(context.Background(), CreateInput{Title: "T", Content: "c"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !models.IsTempID(n.ID) || !n.Temporary {
		t.Error("exhausted create should produce a local temporary note")
	}
	if f.tr.CallCount() != 3 {
		t.Errorf("made %d attempts before giving up, want 3", f.tr.CallCount())
	}
}

func TestCreateSanitizesInput(t *testing.T) {
	f := newFixture(t)
	f.online = false

	longTitle := strings.Repeat("x", 300)
	n, err := f.svc.Create(context.Background(), CreateInput{
		Title:   longTitle,
		Content: `hello <script>alert(1)</script>world`,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(n.Title) != models.MaxTitleLen {
		t.Errorf("title length %d, want %d", len(n.Title), models.MaxTitleLen)
	}
	if strings.Contains(n.Content, "<script") {
		t.Errorf("content not sanitized: %q", n.Content)
	}
}

func TestCreateStarterIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Note{ID: "s1", Title: "Welcome", Starter: true})

	n, err := f.svc.Create(context.Background(), CreateInput{Title: "Welcome again", Starter: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n.ID != "s1" {
		t.Errorf("got note %q, want the existing starter s1", n.ID)
	}
	if f.tr.CallCount() != 0 {
		t.Error("existing starter must short-circuit before the network")
	}
}

func TestCreateThrottledPropagates(t *testing.T) {
	f := newFixture(t)
	f.tr.Handler = func(_, _ string, b any) (*transport.Response, error) {
		in := b.(CreateInput)
		return &transport.Response{Status: 201, Body: body(t, models.Note{ID: "srv-1", Title: in.Title})}, nil
	}

	if _, err := f.svc.Create(context.Background(), CreateInput{Title: "one", Content: "c"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := f.svc.Create(context.Background(), CreateInput{Title: "two", Content: "c"})
	if !errors.Is(err, apperr.ErrThrottled) {
		t.Fatalf("got %v, want ErrThrottled", err)
	}
	// The rejected create must not leave a local temporary note behind.
	byID, _, _ := f.cache.NoteMap(true)
	for id := range byID {
		if models.IsTempID(id) {
			t.Errorf("throttled create left temporary note %s", id)
		}
	}
}

func TestUpdateCycleRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(
		models.Note{ID: "root", Title: "Root"},
		models.Note{ID: "child", Title: "Child", Parent: "root"},
	)

	parent := "child"
	_, err := f.svc.Update(context.Background(), "root", models.NotePatch{Parent: &parent})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("got %v, want ErrConflict", err)
	}
	if f.tr.CallCount() != 0 {
		t.Error("cycle rejection must happen before the network")
	}
	if n, _, _ := f.cache.Note("root", true); n.Parent != "" {
		t.Error("rejected update changed the cached tree")
	}
}

func TestUpdateOfflineMergesAndFlags(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Note{ID: "n1", Title: "Old", Content: "keep me", Tags: []string{"a"}})
	f.online = false

	title := "New"
	n, err := f.svc.Update(context.Background(), "n1", models.NotePatch{Title: &title})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if n.Title != "New" || n.Content != "keep me" {
		t.Errorf("merge lost fields: %+v", n)
	}
	if !n.Temporary {
		t.Error("offline update must flag the note Temporary")
	}
}

func TestUpdateOfflineUnknownNote(t *testing.T) {
	f := newFixture(t)
	f.online = false

	title := "x"
	if _, err := f.svc.Update(context.Background(), "missing", models.NotePatch{Title: &title}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestUpdateOnlineClearsDraft(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Note{ID: "n1", Title: "Old"})
	if err := f.svc.SaveDraft("n1", "Old", "work in progress"); err != nil {
		t.Fatal(err)
	}
	f.tr.Handler = func(_, _ string, _ any) (*transport.Response, error) {
		return &transport.Response{Status: 200, Body: body(t, models.Note{ID: "n1", Title: "New"})}, nil
	}

	title := "New"
	if _, err := f.svc.Update(context.Background(), "n1", models.NotePatch{Title: &title}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok := f.svc.Draft("n1"); ok {
		t.Error("confirmed update should discard the draft")
	}
}

func TestUpdateClearedFieldSticksInCache(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Note{ID: "n1", Title: "Keep", Content: "<p>old body</p>"})
	f.tr.Handler = func(_, _ string, _ any) (*transport.Response, error) {
		return &transport.Response{Status: 200, Body: body(t, models.Note{ID: "n1", Title: "Keep", Content: ""})}, nil
	}

	empty := ""
	if _, err := f.svc.Update(context.Background(), "n1", models.NotePatch{Content: &empty}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The server confirmed the cleared content; a later offline read must
	// not serve the deleted body.
	f.online = false
	got, err := f.svc.Get(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "" {
		t.Errorf("cleared content resurrected from cache: %q", got.Content)
	}
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture(t)
	f.seed(
		models.Note{ID: "root"},
		models.Note{ID: "c1", Parent: "root"},
		models.Note{ID: "c2", Parent: "root"},
		models.Note{ID: "c1a", Parent: "c1"},
		models.Note{ID: "other"},
	)
	f.tr.Handler = func(method, path string, _ any) (*transport.Response, error) {
		if method != "DELETE" || path != "/tok/notes/root" {
			t.Errorf("unexpected request %s %s", method, path)
		}
		return &transport.Response{Status: 204}, nil
	}
	ev := &eventRecorder{}
	f.svc.SetEvents(ev)

	if err := f.svc.Delete(context.Background(), "root"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, id := range []string{"root", "c1", "c2", "c1a"} {
		if _, ok, _ := f.cache.Note(id, true); ok {
			t.Errorf("note %s should have been removed with the subtree", id)
		}
	}
	if _, ok, _ := f.cache.Note("other", true); !ok {
		t.Error("unrelated note removed")
	}
	if f.tr.CallCount() != 1 {
		t.Errorf("cascade made %d network calls, want 1 for the root", f.tr.CallCount())
	}
	if len(ev.deleted) != 1 || ev.deleted[0] != "root" {
		t.Errorf("delete events %v, want [root]", ev.deleted)
	}
}

func TestDeleteNotFoundStillCleansUp(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Note{ID: "gone"})
	f.tr.Handler = func(string, string, any) (*transport.Response, error) {
		return nil, &transport.StatusError{Status: 404}
	}

	if err := f.svc.Delete(context.Background(), "gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := f.cache.Note("gone", true); ok {
		t.Error("note should be removed locally when the server says 404")
	}
}

func TestDeleteOfflineQueuesReplay(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Note{ID: "n1"})
	f.online = false

	if err := f.svc.Delete(context.Background(), "n1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := f.cache.Note("n1", true); ok {
		t.Error("offline delete should hide the note immediately")
	}
	pds, err := f.cache.PendingDeletes()
	if err != nil {
		t.Fatal(err)
	}
	if len(pds) != 1 || pds[0].NoteID != "n1" {
		t.Errorf("pending deletes %v, want [n1]", pds)
	}
}

func TestDeleteOfflineTempNoteNotQueued(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Note{ID: "temp-abc", Temporary: true})
	f.online = false

	if err := f.svc.Delete(context.Background(), "temp-abc"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	pds, _ := f.cache.PendingDeletes()
	if len(pds) != 0 {
		t.Errorf("temporary note must not be queued for server delete, got %v", pds)
	}
}

func TestReconcileOffline(t *testing.T) {
	f := newFixture(t)
	f.online = false
	if _, err := f.svc.Reconcile(context.Background()); !errors.Is(err, apperr.ErrOffline) {
		t.Fatalf("got %v, want ErrOffline", err)
	}
}

func TestReconcileNothingPending(t *testing.T) {
	f := newFixture(t)
	n, err := f.svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if n != 0 {
		t.Errorf("reconciled %d, want 0", n)
	}
}

func TestReconcileReplaysCreatesParentFirst(t *testing.T) {
	f := newFixture(t)
	parentID := models.NewTempID()
	childID := models.NewTempID()
	f.seed(
		models.Note{ID: parentID, Title: "Parent", Temporary: true},
		models.Note{ID: childID, Title: "Child", Parent: parentID, Temporary: true},
	)

	ids := map[string]string{"Parent": "srv-p", "Child": "srv-c"}
	f.tr.Handler = func(method, _ string, b any) (*transport.Response, error) {
		if method != "POST" {
			t.Errorf("unexpected method %s", method)
		}
		in := b.(CreateInput)
		if in.Title == "Child" && in.Parent != "srv-p" {
			t.Errorf("child replayed with parent %q before the parent's id was confirmed", in.Parent)
		}
		n := models.Note{ID: ids[in.Title], Title: in.Title, Parent: in.Parent}
		return &transport.Response{Status: 201, Body: body(t, n)}, nil
	}
	ev := &eventRecorder{}
	f.svc.SetEvents(ev)

	count, err := f.svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if count != 2 {
		t.Errorf("reconciled %d operations, want 2", count)
	}

	byID, _, _ := f.cache.NoteMap(true)
	for id, n := range byID {
		if models.IsTempID(id) || n.Temporary {
			t.Errorf("note %s still temporary after reconcile", id)
		}
	}
	if n, ok := byID["srv-c"]; !ok || n.Parent != "srv-p" {
		t.Errorf("child parent %q, want srv-p", n.Parent)
	}
	if len(ev.synced) != 2 {
		t.Errorf("sync events %v, want 2 entries", ev.synced)
	}
}

func TestReconcileReplaysQueuedDeletes(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Note{ID: "dead"})
	f.online = false
	if err := f.svc.Delete(context.Background(), "dead"); err != nil {
		t.Fatal(err)
	}
	f.online = true

	var deleted []string
	f.tr.Handler = func(method, path string, _ any) (*transport.Response, error) {
		if method == "DELETE" {
			deleted = append(deleted, path)
		}
		return &transport.Response{Status: 204}, nil
	}

	count, err := f.svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if count != 1 {
		t.Errorf("reconciled %d, want 1", count)
	}
	if len(deleted) != 1 || deleted[0] != "/tok/notes/dead" {
		t.Errorf("deletes sent %v, want [/tok/notes/dead]", deleted)
	}
	if pds, _ := f.cache.PendingDeletes(); len(pds) != 0 {
		t.Errorf("pending deletes not cleared: %v", pds)
	}
}

func TestReconcileReplaysOfflineEdits(t *testing.T) {
	f := newFixture(t)
	f.seed(models.Note{ID: "n1", Title: "Old", Content: "c"})
	f.online = false
	title := "Edited"
	if _, err := f.svc.Update(context.Background(), "n1", models.NotePatch{Title: &title}); err != nil {
		t.Fatal(err)
	}
	f.online = true

	f.tr.Handler = func(method, path string, b any) (*transport.Response, error) {
		if method != "PUT" || path != "/tok/notes/n1" {
			t.Errorf("unexpected request %s %s", method, path)
		}
		patch := b.(models.NotePatch)
		return &transport.Response{Status: 200, Body: body(t, models.Note{ID: "n1", Title: *patch.Title, Content: *patch.Content})}, nil
	}

	count, err := f.svc.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if count != 1 {
		t.Errorf("reconciled %d, want 1", count)
	}
	if n, _, _ := f.cache.Note("n1", true); n.Temporary || n.Title != "Edited" {
		t.Errorf("replayed note %+v, want confirmed Edited", n)
	}
}

func TestSubtreeIDs(t *testing.T) {
	byID := map[string]models.Note{
		"r":  {ID: "r"},
		"a":  {ID: "a", Parent: "r"},
		"b":  {ID: "b", Parent: "r"},
		"a1": {ID: "a1", Parent: "a"},
		"x":  {ID: "x"},
	}
	got := subtreeIDs(byID, "r")
	if len(got) != 4 {
		t.Fatalf("subtree %v, want 4 ids", got)
	}
	seen := map[string]bool{}
	for _, id := range got {
		seen[id] = true
	}
	for _, id := range []string{"r", "a", "b", "a1"} {
		if !seen[id] {
			t.Errorf("subtree missing %s", id)
		}
	}
	if seen["x"] {
		t.Error("unrelated note included in subtree")
	}
}

func TestWouldCycle(t *testing.T) {
	byID := map[string]models.Note{
		"r": {ID: "r"},
		"a": {ID: "a", Parent: "r"},
		"b": {ID: "b", Parent: "a"},
	}
	if !wouldCycle(byID, "r", "b") {
		t.Error("moving r under its descendant b must be detected as a cycle")
	}
	if !wouldCycle(byID, "a", "a") {
		t.Error("self-parenting must be detected as a cycle")
	}
	if wouldCycle(byID, "b", "r") {
		t.Error("moving b under r is legal")
	}
}
