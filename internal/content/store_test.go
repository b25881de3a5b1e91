package content

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DucVuong2901/internal-management/internal/category"
	"github.com/DucVuong2901/internal-management/internal/storage"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

type env struct {
	notes   *Store
	docs    *Store
	cats    *category.Store
	uploads *storage.FileStore
	dataDir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	cats, err := category.New(filepath.Join(dir, "categories.json"))
	if err != nil {
		t.Fatal(err)
	}
	meta := storage.NewCollection(filepath.Join(dir, "metadata.json"))
	noteUploads, err := storage.NewFileStore(filepath.Join(dir, "uploads", "notes"))
	if err != nil {
		t.Fatal(err)
	}
	docUploads, err := storage.NewFileStore(filepath.Join(dir, "uploads", "docs"))
	if err != nil {
		t.Fatal(err)
	}
	notes, err := New(domain.KindNote, meta, filepath.Join(dir, "notes"), noteUploads, cats)
	if err != nil {
		t.Fatal(err)
	}
	docs, err := New(domain.KindDoc, meta, filepath.Join(dir, "docs"), docUploads, cats)
	if err != nil {
		t.Fatal(err)
	}
	return &env{notes: notes, docs: docs, cats: cats, uploads: noteUploads, dataDir: dir}
}

func TestCreateThenGetRoundTrip(t *testing.T) {
	e := newEnv(t)
	created, err := e.notes.Create("Hello", "World", "general", 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID != 1 {
		t.Fatalf("id = %d, want 1", created.ID)
	}
	got, err := e.notes.Get(created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "Hello" || got.Content != "World" || got.CategoryKey != "general" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestCreateEmptyTitle(t *testing.T) {
	e := newEnv(t)
	if _, err := e.notes.Create("<p><br></p>", "body", "general", 1); !errors.Is(err, ErrEmptyTitle) {
		t.Fatalf("err = %v, want ErrEmptyTitle", err)
	}
}

func TestCreateCoercesUnknownCategory(t *testing.T) {
	e := newEnv(t)
	created, err := e.notes.Create("t", "c", "nope", 1)
	if err != nil {
		t.Fatal(err)
	}
	if created.CategoryKey != category.GeneralKey {
		t.Fatalf("category = %q, want general", created.CategoryKey)
	}
}

func TestIDSequencesAreIndependentPerKind(t *testing.T) {
	e := newEnv(t)
	n, _ := e.notes.Create("n1", "", "general", 1)
	d, _ := e.docs.Create("d1", "", "general", 1)
	if n.ID != 1 || d.ID != 1 {
		t.Fatalf("ids = note %d, doc %d, want 1 and 1", n.ID, d.ID)
	}
	n2, _ := e.notes.Create("n2", "", "general", 1)
	if n2.ID != 2 {
		t.Fatalf("second note id = %d, want 2", n2.ID)
	}
}

func TestUpdateKeepsPreviousCategoryOnInvalid(t *testing.T) {
	e := newEnv(t)
	if _, err := e.cats.Add("work", ""); err != nil {
		t.Fatal(err)
	}
	created, _ := e.notes.Create("t", "c", "work", 1)
	updated, coerced, err := e.notes.Update(created.ID, "t2", "c2", "bogus", 2)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !coerced {
		t.Fatal("expected category coercion warning")
	}
	if updated.CategoryKey != "work" {
		t.Fatalf("category = %q, want previous work", updated.CategoryKey)
	}
	if updated.Title != "t2" || updated.UpdatedBy != 2 {
		t.Fatalf("update mismatch: %+v", updated)
	}
	got, _ := e.notes.Get(created.ID)
	if got.Content != "c2" {
		t.Fatalf("body = %q, want c2", got.Content)
	}
}

func TestUpdateNotFound(t *testing.T) {
	e := newEnv(t)
	if _, _, err := e.notes.Update(99, "t", "c", "general", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteRemovesMetadataBodyAndAttachments(t *testing.T) {
	e := newEnv(t)
	created, _ := e.notes.Create("t", "body", "general", 1)
	att, err := e.notes.AddAttachment(created.ID, strings.NewReader("file data"), "report.pdf")
	if err != nil {
		t.Fatalf("add attachment: %v", err)
	}
	if err := e.notes.Delete(created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := e.notes.Get(created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete err = %v, want ErrNotFound", err)
	}
	if _, err := os.Stat(filepath.Join(e.dataDir, "notes", "1.txt")); !os.IsNotExist(err) {
		t.Fatal("body file still present")
	}
	if _, ok := e.uploads.Size(att.Filename); ok {
		t.Fatal("attachment file still present")
	}
}

func TestAttachmentOwnershipGuard(t *testing.T) {
	e := newEnv(t)
	first, _ := e.notes.Create("first", "", "general", 1)
	second, _ := e.notes.Create("second", "", "general", 1)
	att, err := e.notes.AddAttachment(first.ID, strings.NewReader("data"), "a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !e.notes.HasAttachment(first.ID, att.Filename) {
		t.Fatal("owner pairing not recognized")
	}
	if e.notes.HasAttachment(second.ID, att.Filename) {
		t.Fatal("foreign pairing accepted")
	}
	// Deleting through the wrong item must fail and keep the file.
	if e.notes.DeleteAttachment(second.ID, att.Filename) {
		t.Fatal("delete through foreign item succeeded")
	}
	if _, ok := e.uploads.Size(att.Filename); !ok {
		t.Fatal("file deleted despite ownership mismatch")
	}
	// Correct pairing removes the record and the file.
	if !e.notes.DeleteAttachment(first.ID, att.Filename) {
		t.Fatal("delete with correct pairing failed")
	}
	got, _ := e.notes.Get(first.ID)
	if len(got.Attachments) != 0 {
		t.Fatalf("attachments = %v, want none", got.Attachments)
	}
	if _, ok := e.uploads.Size(att.Filename); ok {
		t.Fatal("file still present after delete")
	}
}

func TestIncrementViewCountAndRecentOrder(t *testing.T) {
	e := newEnv(t)
	a, _ := e.notes.Create("a", "", "general", 1)
	b, _ := e.notes.Create("b", "", "general", 1)
	for i := 0; i < 3; i++ {
		if err := e.notes.IncrementViewCount(b.ID); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.notes.IncrementViewCount(a.ID); err != nil {
		t.Fatal(err)
	}
	recent, err := e.notes.Recent(5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].ID != b.ID {
		t.Fatalf("recent order = %+v", recent)
	}
	if recent[0].ViewCount != 3 {
		t.Fatalf("view count = %d, want 3", recent[0].ViewCount)
	}
}

func TestListFilterAndSearch(t *testing.T) {
	e := newEnv(t)
	if _, err := e.cats.Add("work", ""); err != nil {
		t.Fatal(err)
	}
	e.notes.Create("Weekly report", "numbers are up", "work", 1)
	e.notes.Create("Groceries", "milk and BREAD", "general", 1)

	all, _ := e.notes.List("all", "")
	if len(all) != 2 {
		t.Fatalf("all = %d items", len(all))
	}
	work, _ := e.notes.List("work", "")
	if len(work) != 1 || work[0].Title != "Weekly report" {
		t.Fatalf("category filter = %+v", work)
	}
	// case-insensitive body search
	hits, _ := e.notes.List("", "bread")
	if len(hits) != 1 || hits[0].Title != "Groceries" {
		t.Fatalf("search = %+v", hits)
	}
	// title search
	hits, _ = e.notes.List("", "weekly")
	if len(hits) != 1 {
		t.Fatalf("title search = %+v", hits)
	}
	none, _ := e.notes.List("", "absent")
	if len(none) != 0 {
		t.Fatalf("expected no hits, got %+v", none)
	}
}

func TestCategoriesReturnsOnlyUsedKeys(t *testing.T) {
	e := newEnv(t)
	if _, err := e.cats.Add("work", ""); err != nil {
		t.Fatal(err)
	}
	e.notes.Create("n", "", "work", 1)
	e.docs.Create("d", "", "general", 1)
	keys, err := e.notes.Categories()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "work" {
		t.Fatalf("note categories = %v, want [work]", keys)
	}
}
