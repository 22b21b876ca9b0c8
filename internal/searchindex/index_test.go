package searchindex

import (
	"os"
	"testing"

	"github.com/starford/laguz/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "searchindex-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ids(hits []SearchResult) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.ID
	}
	return out
}

func TestUpsertAndSearch(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertNote(models.Note{ID: "n1", Title: "Grocery list", Content: "<p>milk and eggs</p>"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertNote(models.Note{ID: "n2", Title: "Meeting", Content: "<p>quarterly review</p>"}); err != nil {
		t.Fatal(err)
	}

	hits, err := db.Search("milk", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "n1" {
		t.Errorf("got %v, want [n1]", ids(hits))
	}
}

func TestSearchStripsHTML(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertNote(models.Note{ID: "n1", Title: "T", Content: "<div><b>bold</b> claim</div>"}); err != nil {
		t.Fatal(err)
	}

	// Markup is not indexable text.
	hits, err := db.Search("div", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("tag names should not match, got %v", ids(hits))
	}

	hits, err = db.Search("claim", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("text content should match, got %v", ids(hits))
	}
}

func TestUpsertOverwrites(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertNote(models.Note{ID: "n1", Title: "Old", Content: "alpha"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertNote(models.Note{ID: "n1", Title: "New", Content: "beta"}); err != nil {
		t.Fatal(err)
	}

	hits, err := db.Search("alpha", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("stale content still matches: %v", ids(hits))
	}
	hits, err = db.Search("beta", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Title != "New" {
		t.Errorf("got %v, want the rewritten note", hits)
	}
}

func TestReplaceAll(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertNote(models.Note{ID: "old", Title: "Old", Content: "stale"}); err != nil {
		t.Fatal(err)
	}
	if err := db.ReplaceAll([]models.Note{
		{ID: "a", Title: "A", Content: "fresh one"},
		{ID: "b", Title: "B", Content: "fresh two"},
	}); err != nil {
		t.Fatal(err)
	}

	hits, err := db.Search("stale", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("rebuild left stale rows: %v", ids(hits))
	}
	hits, err = db.Search("fresh", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Errorf("got %v, want both fresh notes", ids(hits))
	}
}

func TestDeleteNotes(t *testing.T) {
	db := testDB(t)
	for _, n := range []models.Note{
		{ID: "a", Content: "shared word"},
		{ID: "b", Content: "shared word"},
		{ID: "c", Content: "shared word"},
	} {
		if err := db.UpsertNote(n); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.DeleteNotes("a", "c"); err != nil {
		t.Fatal(err)
	}

	hits, err := db.Search("shared", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "b" {
		t.Errorf("got %v, want [b]", ids(hits))
	}
}

func TestRenameNote(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertNote(models.Note{ID: "temp-1", Title: "Parent", Content: "findable"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertNote(models.Note{ID: "child", Parent: "temp-1", Content: "child body"}); err != nil {
		t.Fatal(err)
	}
	if err := db.RenameNote("temp-1", "srv-1"); err != nil {
		t.Fatal(err)
	}

	hits, err := db.Search("findable", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != "srv-1" {
		t.Errorf("got %v, want the renamed id srv-1", ids(hits))
	}

	var parent string
	if err := db.conn.QueryRow(`SELECT parent FROM notes WHERE id = ?`, "child").Scan(&parent); err != nil {
		t.Fatal(err)
	}
	if parent != "srv-1" {
		t.Errorf("child parent %q, want srv-1", parent)
	}
}

func TestSearchLimit(t *testing.T) {
	db := testDB(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := db.UpsertNote(models.Note{ID: id, Content: "common token"}); err != nil {
			t.Fatal(err)
		}
	}
	hits, err := db.Search("common", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Errorf("got %d hits, want the limit of 2", len(hits))
	}
}

func TestStripTags(t *testing.T) {
	cases := []struct{ in, want string }{
		{"<p>hello</p>", "hello"},
		{"plain text", "plain text"},
		{"<div><b>a</b>b</div>", "a b"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := stripTags(tc.in); got != tc.want {
			t.Errorf("stripTags(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
