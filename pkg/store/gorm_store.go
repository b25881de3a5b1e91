// Package store persists the flat-file data model in Postgres via GORM.
// It backs the one-shot migration tool; the HTTP server keeps reading
// from the flat files.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DucVuong2901/internal-management/pkg/domain"
)

const migrateLockID int64 = 29014412

// GormStore implements the migration target on GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory
// lock so concurrent runs don't race.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&CategoryModel{},
			&NoteModel{},
			&DocumentModel{},
			&AttachmentModel{},
			&EditLogModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// ImportUser inserts a user unless the username already exists. Returns
// true when a row was written.
func (s *GormStore) ImportUser(u domain.User) (bool, error) {
	var email *string
	if u.Email != "" {
		e := u.Email
		email = &e
	}
	model := UserModel{
		ID:           u.ID,
		Username:     u.Username,
		Email:        email,
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return false, fmt.Errorf("import user %q: %w", u.Username, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ImportCategory inserts a category unless its key already exists.
func (s *GormStore) ImportCategory(c domain.Category) (bool, error) {
	var parent *string
	if c.Parent != "" {
		p := c.Parent
		parent = &p
	}
	model := CategoryModel{
		Key:         c.Key,
		Name:        c.Name,
		DisplayName: c.DisplayName,
		ParentKey:   parent,
		CreatedAt:   time.Now().UTC(),
	}
	res := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&model)
	if res.Error != nil {
		return false, fmt.Errorf("import category %q: %w", c.Key, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ImportItem inserts a note or document with its attachments, skipping
// ids already present. The item must carry its body in Content.
func (s *GormStore) ImportItem(kind domain.Kind, item domain.Item) (bool, error) {
	var inserted bool
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(itemToModel(kind, item))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true
		for _, att := range item.Attachments {
			model := AttachmentModel{
				Filename:         att.Filename,
				OriginalFilename: att.OriginalFilename,
				FileType:         string(kind),
				UploadedAt:       att.UploadedAt,
			}
			id := item.ID
			if kind == domain.KindNote {
				model.NoteID = &id
			} else {
				model.DocumentID = &id
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "filename"}},
				DoNothing: true,
			}).Create(&model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("import %s %d: %w", kind, item.ID, err)
	}
	return inserted, nil
}

func itemToModel(kind domain.Kind, item domain.Item) any {
	var userID, updatedBy *int
	if item.UserID != 0 {
		v := item.UserID
		userID = &v
	}
	if item.UpdatedBy != 0 {
		v := item.UpdatedBy
		updatedBy = &v
	}
	if kind == domain.KindNote {
		return &NoteModel{
			ID:          item.ID,
			Title:       item.Title,
			Content:     item.Content,
			CategoryKey: item.CategoryKey,
			UserID:      userID,
			UpdatedBy:   updatedBy,
			ViewCount:   item.ViewCount,
			CreatedAt:   item.CreatedAt,
			UpdatedAt:   item.UpdatedAt,
		}
	}
	return &DocumentModel{
		ID:          item.ID,
		Title:       item.Title,
		Content:     item.Content,
		CategoryKey: item.CategoryKey,
		UserID:      userID,
		UpdatedBy:   updatedBy,
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}

// ImportEditLog inserts an audit entry, skipping ids already present.
func (s *GormStore) ImportEditLog(entry domain.AuditEntry) (bool, error) {
	var changes datatypes.JSON
	if entry.Changes != "" {
		changes = datatypes.JSON(entry.Changes)
	}
	model := EditLogModel{
		ID:        entry.ID,
		ItemType:  entry.ItemType,
		ItemID:    entry.ItemID,
		Action:    entry.Action,
		UserID:    entry.UserID,
		Changes:   changes,
		Timestamp: entry.CreatedAt,
	}
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	if res.Error != nil {
		return false, fmt.Errorf("import edit log %d: %w", entry.ID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CountUsers reports how many users the target database holds.
func (s *GormStore) CountUsers() (int64, error) {
	var count int64
	err := s.db.Model(&UserModel{}).Count(&count).Error
	return count, err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ErrNoDatabase is returned by the migration tool when no DSN is set.
var ErrNoDatabase = errors.New("store: database url is not configured")
