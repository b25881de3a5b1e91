// Package backup exports the whole data set to a ZIP archive and
// restores it in merge or replace mode.
package backup

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/DucVuong2901/internal-management/internal/audit"
	"github.com/DucVuong2901/internal-management/internal/category"
	"github.com/DucVuong2901/internal-management/internal/content"
	"github.com/DucVuong2901/internal-management/internal/storage"
	"github.com/DucVuong2901/internal-management/internal/user"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

var ErrInvalidArchive = errors.New("invalid backup archive")

// Mode selects how Import treats existing data.
type Mode string

const (
	ModeMerge   Mode = "merge"
	ModeReplace Mode = "replace"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMerge:
		return ModeMerge, nil
	case ModeReplace:
		return ModeReplace, nil
	}
	return "", fmt.Errorf("unknown import mode %q", s)
}

// Report carries per-kind import counts. It is returned even on
// failure so callers can report what landed before the error.
type Report struct {
	Users        int `json:"users"`
	Notes        int `json:"notes"`
	Docs         int `json:"docs"`
	Attachments  int `json:"attachments"`
	Categories   int `json:"categories"`
	AuditEntries int `json:"audit_entries"`
}

// archiveMetadata matches the on-disk metadata.json envelope.
type archiveMetadata struct {
	Notes []domain.Item `json:"notes"`
	Docs  []domain.Item `json:"docs"`
}

type Coordinator struct {
	users      *user.Store
	categories *category.Store
	notes      *content.Store
	docs       *content.Store
	auditLog   *audit.Log
	metaPath   string
	now        func() time.Time
}

func New(users *user.Store, categories *category.Store, notes, docs *content.Store, auditLog *audit.Log, metaPath string) *Coordinator {
	return &Coordinator{
		users:      users,
		categories: categories,
		notes:      notes,
		docs:       docs,
		auditLog:   auditLog,
		metaPath:   metaPath,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock for tests.
func (c *Coordinator) SetNow(now func() time.Time) {
	c.now = now
}

// Export builds the archive and returns its bytes with a timestamped
// filename.
func (c *Coordinator) Export() (string, []byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	usersCSV, err := c.users.RawCSV()
	if err != nil {
		return "", nil, fmt.Errorf("export users: %w", err)
	}
	if err := writeEntry(zw, "users.csv", usersCSV); err != nil {
		return "", nil, err
	}

	notes, err := c.notes.Snapshot()
	if err != nil {
		return "", nil, fmt.Errorf("export notes metadata: %w", err)
	}
	docs, err := c.docs.Snapshot()
	if err != nil {
		return "", nil, fmt.Errorf("export docs metadata: %w", err)
	}
	metaJSON, err := json.MarshalIndent(archiveMetadata{Notes: notes, Docs: docs}, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("export metadata: %w", err)
	}
	if err := writeEntry(zw, "metadata.json", metaJSON); err != nil {
		return "", nil, err
	}

	cats, err := c.categories.List()
	if err != nil {
		return "", nil, fmt.Errorf("export categories: %w", err)
	}
	catsJSON, err := json.MarshalIndent(cats, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("export categories: %w", err)
	}
	if err := writeEntry(zw, "categories.json", catsJSON); err != nil {
		return "", nil, err
	}

	entries, err := c.auditLog.All()
	if err != nil {
		return "", nil, fmt.Errorf("export audit log: %w", err)
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	logJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", nil, fmt.Errorf("export audit log: %w", err)
	}
	if err := writeEntry(zw, "edit_logs.json", logJSON); err != nil {
		return "", nil, err
	}

	if err := addBodyFiles(zw, "notes/", c.notes.BodiesDir()); err != nil {
		return "", nil, err
	}
	if err := addBodyFiles(zw, "docs/", c.docs.BodiesDir()); err != nil {
		return "", nil, err
	}
	if err := addUploads(zw, "uploads/notes/", c.notes.Uploads()); err != nil {
		return "", nil, err
	}
	if err := addUploads(zw, "uploads/docs/", c.docs.Uploads()); err != nil {
		return "", nil, err
	}

	if err := zw.Close(); err != nil {
		return "", nil, fmt.Errorf("finalize archive: %w", err)
	}
	filename := "backup_" + c.now().Format("20060102_150405") + ".zip"
	return filename, buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("archive entry %s: %w", name, err)
	}
	return nil
}

func addBodyFiles(zw *zip.Writer, prefix, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return fmt.Errorf("read body %s: %w", e.Name(), err)
		}
		if err := writeEntry(zw, prefix+e.Name(), data); err != nil {
			return err
		}
	}
	return nil
}

func addUploads(zw *zip.Writer, prefix string, uploads storage.BlobStore) error {
	names, err := uploads.List()
	if err != nil {
		return fmt.Errorf("list uploads: %w", err)
	}
	for _, name := range names {
		r, err := uploads.Open(name)
		if err != nil {
			slog.Warn("export skipped unreadable attachment", "file", name, "err", err)
			continue
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return fmt.Errorf("read attachment %s: %w", name, err)
		}
		if err := writeEntry(zw, prefix+name, data); err != nil {
			return err
		}
	}
	return nil
}

// Import restores an exported archive. Each sub-collection write is
// all-or-nothing, but the import as a whole is not transactional: the
// report always reflects what landed before any error.
func (c *Coordinator) Import(data []byte, mode Mode) (Report, error) {
	var report Report
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return report, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	files := make(map[string][]byte)
	for _, f := range zr.File {
		name := path.Clean(f.Name)
		if f.FileInfo().IsDir() || strings.HasPrefix(name, "..") || path.IsAbs(name) {
			continue
		}
		if !recognized(name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return report, fmt.Errorf("%w: open %s: %v", ErrInvalidArchive, name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return report, fmt.Errorf("%w: read %s: %v", ErrInvalidArchive, name, err)
		}
		files[name] = body
	}
	if len(files) == 0 {
		return report, fmt.Errorf("%w: no recognizable entries", ErrInvalidArchive)
	}

	if mode == ModeReplace {
		if raw, ok := files["users.csv"]; ok {
			users, err := user.ParseCSV(raw)
			if err != nil {
				return report, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
			}
			if err := sidecarBackup(c.users.Path()); err != nil {
				return report, err
			}
			if err := c.users.Replace(users); err != nil {
				return report, fmt.Errorf("import users: %w", err)
			}
			report.Users = len(users)
		}
	}

	if raw, ok := files["metadata.json"]; ok {
		var meta archiveMetadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			return report, fmt.Errorf("%w: metadata.json: %v", ErrInvalidArchive, err)
		}
		if mode == ModeReplace {
			if err := sidecarBackup(c.metaPath); err != nil {
				return report, err
			}
			if err := c.notes.Replace(meta.Notes); err != nil {
				return report, fmt.Errorf("import notes metadata: %w", err)
			}
			if err := c.docs.Replace(meta.Docs); err != nil {
				return report, fmt.Errorf("import docs metadata: %w", err)
			}
			report.Notes = len(meta.Notes)
			report.Docs = len(meta.Docs)
		} else {
			n, err := c.notes.Merge(meta.Notes)
			if err != nil {
				return report, fmt.Errorf("import notes metadata: %w", err)
			}
			report.Notes = n
			n, err = c.docs.Merge(meta.Docs)
			if err != nil {
				return report, fmt.Errorf("import docs metadata: %w", err)
			}
			report.Docs = n
		}
	}

	if raw, ok := files["categories.json"]; ok {
		cats := make(map[string]*domain.Category)
		if err := json.Unmarshal(raw, &cats); err != nil {
			return report, fmt.Errorf("%w: categories.json: %v", ErrInvalidArchive, err)
		}
		if mode == ModeReplace {
			if err := c.categories.Replace(cats); err != nil {
				return report, fmt.Errorf("import categories: %w", err)
			}
			report.Categories = len(cats)
		} else {
			n, err := c.categories.Merge(cats)
			if err != nil {
				return report, fmt.Errorf("import categories: %w", err)
			}
			report.Categories = n
			if fixed, err := c.categories.ReconcileOrphans(); err != nil {
				return report, fmt.Errorf("reconcile categories: %w", err)
			} else if fixed > 0 {
				slog.Info("import reparented orphaned categories", "count", fixed)
			}
		}
	}

	if raw, ok := files["edit_logs.json"]; ok {
		var entries []domain.AuditEntry
		if err := json.Unmarshal(raw, &entries); err != nil {
			return report, fmt.Errorf("%w: edit_logs.json: %v", ErrInvalidArchive, err)
		}
		if mode == ModeReplace {
			if err := c.auditLog.Replace(entries); err != nil {
				return report, fmt.Errorf("import audit log: %w", err)
			}
			report.AuditEntries = len(entries)
		} else {
			n, err := c.auditLog.Merge(entries)
			if err != nil {
				return report, fmt.Errorf("import audit log: %w", err)
			}
			report.AuditEntries = n
		}
	}

	for name, data := range files {
		switch {
		case strings.HasPrefix(name, "notes/"):
			if err := restoreBody(c.notes.BodiesDir(), strings.TrimPrefix(name, "notes/"), data); err != nil {
				return report, err
			}
		case strings.HasPrefix(name, "docs/"):
			if err := restoreBody(c.docs.BodiesDir(), strings.TrimPrefix(name, "docs/"), data); err != nil {
				return report, err
			}
		case strings.HasPrefix(name, "uploads/notes/"):
			if _, err := c.notes.Uploads().Save(strings.TrimPrefix(name, "uploads/notes/"), bytes.NewReader(data)); err != nil {
				return report, fmt.Errorf("import attachment %s: %w", name, err)
			}
			report.Attachments++
		case strings.HasPrefix(name, "uploads/docs/"):
			if _, err := c.docs.Uploads().Save(strings.TrimPrefix(name, "uploads/docs/"), bytes.NewReader(data)); err != nil {
				return report, fmt.Errorf("import attachment %s: %w", name, err)
			}
			report.Attachments++
		}
	}

	slog.Info("import finished", "mode", mode,
		"users", report.Users, "notes", report.Notes, "docs", report.Docs,
		"attachments", report.Attachments)
	return report, nil
}

func recognized(name string) bool {
	switch name {
	case "users.csv", "metadata.json", "categories.json", "edit_logs.json":
		return true
	}
	for _, prefix := range []string{"notes/", "docs/", "uploads/notes/", "uploads/docs/"} {
		if strings.HasPrefix(name, prefix) && len(name) > len(prefix) {
			return true
		}
	}
	return false
}

// sidecarBackup copies the current file to a .backup sibling before a
// replace-mode overwrite.
func sidecarBackup(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("backup %s: %w", path, err)
	}
	if err := storage.WriteFileAtomic(path+".backup", data); err != nil {
		return fmt.Errorf("backup %s: %w", path, err)
	}
	return nil
}

func restoreBody(dir, name string, data []byte) error {
	name = filepath.Base(name)
	if name == "." || name == "" {
		return nil
	}
	if err := storage.WriteFileAtomic(filepath.Join(dir, name), data); err != nil {
		return fmt.Errorf("import body %s: %w", name, err)
	}
	return nil
}
