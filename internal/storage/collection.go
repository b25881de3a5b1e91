// Package storage provides the flat-file persistence primitives shared by
// the stores: whole-file collections rewritten atomically, and blob stores
// for uploaded files.
package storage

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Collection owns one collection file. Every mutation loads the full
// contents, applies the change, and rewrites the file through a temp path
// and atomic rename. A mutex serializes writers; the legacy system wrote
// in place and raced.
type Collection struct {
	mu   sync.Mutex
	path string
}

func NewCollection(path string) *Collection {
	return &Collection{path: path}
}

// Path returns the backing file path.
func (c *Collection) Path() string {
	return c.path
}

// WithLock runs fn while holding the collection write lock.
func (c *Collection) WithLock(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}

// Load decodes the collection file into v. A missing file leaves v at its
// zero value and returns nil.
func (c *Collection) Load(v any) error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", filepath.Base(c.path), err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(c.path), err)
	}
	return nil
}

// Save rewrites the collection file with v.
func (c *Collection) Save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(c.path), err)
	}
	return WriteFileAtomic(c.path, data)
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partial write.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+".tmp-"+tempSuffix())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// tempSuffix keeps concurrent writers from colliding on the temp path.
func tempSuffix() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
