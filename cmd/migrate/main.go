// Command migrate copies the flat-file data set into Postgres. It never
// deletes or rewrites the source files, and rows already present in the
// database are left untouched, so the tool is safe to re-run.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/DucVuong2901/internal-management/internal/audit"
	"github.com/DucVuong2901/internal-management/internal/category"
	"github.com/DucVuong2901/internal-management/internal/config"
	"github.com/DucVuong2901/internal-management/internal/content"
	"github.com/DucVuong2901/internal-management/internal/storage"
	"github.com/DucVuong2901/internal-management/internal/user"
	"github.com/DucVuong2901/internal-management/internal/util"
	"github.com/DucVuong2901/internal-management/pkg/domain"
	"github.com/DucVuong2901/internal-management/pkg/store"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	util.InitLogger(cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		slog.Error("migration aborted", "err", store.ErrNoDatabase)
		os.Exit(1)
	}

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to open database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := run(cfg.DataDir, db); err != nil {
		slog.Error("migration failed", "err", err)
		os.Exit(1)
	}
}

func run(dataDir string, db *store.GormStore) error {
	users := user.New(filepath.Join(dataDir, "users.csv"))
	categories, err := category.New(filepath.Join(dataDir, "categories.json"))
	if err != nil {
		return err
	}
	meta := storage.NewCollection(filepath.Join(dataDir, "metadata.json"))
	noteUploads, err := storage.NewFileStore(filepath.Join(dataDir, "uploads", "notes"))
	if err != nil {
		return err
	}
	docUploads, err := storage.NewFileStore(filepath.Join(dataDir, "uploads", "docs"))
	if err != nil {
		return err
	}
	notes, err := content.New(domain.KindNote, meta, filepath.Join(dataDir, "notes"), noteUploads, categories)
	if err != nil {
		return err
	}
	docs, err := content.New(domain.KindDoc, meta, filepath.Join(dataDir, "docs"), docUploads, categories)
	if err != nil {
		return err
	}
	auditLog := audit.New(filepath.Join(dataDir, "edit_logs.json"))

	if err := migrateUsers(db, users); err != nil {
		return err
	}
	if err := migrateCategories(db, categories); err != nil {
		return err
	}
	if err := migrateItems(db, notes); err != nil {
		return err
	}
	if err := migrateItems(db, docs); err != nil {
		return err
	}
	if err := migrateEditLogs(db, auditLog); err != nil {
		return err
	}

	total, err := db.CountUsers()
	if err != nil {
		return err
	}
	slog.Info("migration complete", "db_users", total)
	return nil
}

func migrateUsers(db *store.GormStore, users *user.Store) error {
	all, err := users.All()
	if err != nil {
		return err
	}
	copied := 0
	for _, u := range all {
		inserted, err := db.ImportUser(u)
		if err != nil {
			return err
		}
		if inserted {
			copied++
		} else {
			slog.Info("user exists, skipping", "username", u.Username)
		}
	}
	slog.Info("migrated users", "copied", copied, "total", len(all))
	return nil
}

func migrateCategories(db *store.GormStore, categories *category.Store) error {
	all, err := categories.List()
	if err != nil {
		return err
	}
	copied := 0
	for key, cat := range all {
		c := *cat
		c.Key = key
		inserted, err := db.ImportCategory(c)
		if err != nil {
			return err
		}
		if inserted {
			copied++
		}
	}
	slog.Info("migrated categories", "copied", copied, "total", len(all))
	return nil
}

func migrateItems(db *store.GormStore, items *content.Store) error {
	snapshot, err := items.Snapshot()
	if err != nil {
		return err
	}
	copied := 0
	for _, meta := range snapshot {
		item, err := items.Get(meta.ID)
		if err != nil {
			slog.Warn("skipping unreadable item", "kind", items.Kind(), "id", meta.ID, "err", err)
			continue
		}
		inserted, err := db.ImportItem(items.Kind(), item)
		if err != nil {
			return err
		}
		if inserted {
			copied++
		}
	}
	slog.Info("migrated items", "kind", items.Kind(), "copied", copied, "total", len(snapshot))
	return nil
}

func migrateEditLogs(db *store.GormStore, auditLog *audit.Log) error {
	entries, err := auditLog.All()
	if err != nil {
		return err
	}
	copied := 0
	for _, entry := range entries {
		inserted, err := db.ImportEditLog(entry)
		if err != nil {
			return err
		}
		if inserted {
			copied++
		}
	}
	slog.Info("migrated edit logs", "copied", copied, "total", len(entries))
	return nil
}
