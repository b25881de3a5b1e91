package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used by the database migration.
type UserModel struct {
	ID           int    `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	Email        *string
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null;default:user"`
	IsActive     bool      `gorm:"not null;default:true"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type CategoryModel struct {
	ID          int    `gorm:"primaryKey"`
	Key         string `gorm:"uniqueIndex;not null"`
	Name        string `gorm:"not null"`
	DisplayName string `gorm:"not null"`
	ParentKey   *string
	CreatedAt   time.Time `gorm:"not null"`
}

type NoteModel struct {
	ID          int    `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Content     string `gorm:"not null"`
	CategoryKey string `gorm:"not null;index"`
	UserID      *int
	UpdatedBy   *int
	ViewCount   int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type DocumentModel struct {
	ID          int    `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Content     string `gorm:"not null"`
	CategoryKey string `gorm:"not null;index"`
	UserID      *int
	UpdatedBy   *int
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// AttachmentModel links an uploaded file to either a note or a document,
// discriminated by FileType.
type AttachmentModel struct {
	ID               int    `gorm:"primaryKey"`
	Filename         string `gorm:"uniqueIndex;not null"`
	OriginalFilename string `gorm:"not null"`
	FileType         string `gorm:"not null"` // note | doc
	NoteID           *int   `gorm:"index"`
	DocumentID       *int   `gorm:"index"`
	UploadedAt       time.Time
}

type EditLogModel struct {
	ID        int    `gorm:"primaryKey"`
	ItemType  string `gorm:"not null;index"`
	ItemID    int    `gorm:"not null;index"`
	Action    string `gorm:"not null"`
	UserID    int    `gorm:"not null"`
	Changes   datatypes.JSON
	Timestamp time.Time `gorm:"not null;index"`
}
