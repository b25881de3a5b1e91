package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCollectionLoadMissingFile(t *testing.T) {
	c := NewCollection(filepath.Join(t.TempDir(), "items.json"))
	var items []string
	if err := c.Load(&items); err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if items != nil {
		t.Fatalf("expected zero value, got %v", items)
	}
}

func TestCollectionSaveThenLoad(t *testing.T) {
	c := NewCollection(filepath.Join(t.TempDir(), "items.json"))
	if err := c.Save([]string{"a", "b"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	var items []string
	if err := c.Load(&items); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Fatalf("round trip mismatch: %v", items)
	}
}

func TestCollectionLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	var items []string
	if err := NewCollection(path).Load(&items); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestWriteFileAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")
	if err := WriteFileAtomic(path, []byte("data")); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStoreSaveOpenDeleteList(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "uploads"))
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	n, err := fs.Save("a.txt", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if n != 5 {
		t.Fatalf("size = %d, want 5", n)
	}
	if size, ok := fs.Size("a.txt"); !ok || size != 5 {
		t.Fatalf("Size = %d,%v", size, ok)
	}
	names, err := fs.List()
	if err != nil || len(names) != 1 || names[0] != "a.txt" {
		t.Fatalf("List = %v, %v", names, err)
	}
	if err := fs.Delete("a.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := fs.Size("a.txt"); ok {
		t.Fatal("file still present after delete")
	}
	// deleting again is not an error
	if err := fs.Delete("a.txt"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestFileStoreSaveRejectsPathTraversal(t *testing.T) {
	base := filepath.Join(t.TempDir(), "uploads")
	fs, err := NewFileStore(base)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Save("../escape.txt", strings.NewReader("x")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "escape.txt")); err != nil {
		t.Fatalf("expected file inside base dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(base), "escape.txt")); err == nil {
		t.Fatal("file escaped the base dir")
	}
}
