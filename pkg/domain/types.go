package domain

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleUser   Role = "user"
	RoleViewer Role = "viewer"
)

// ParseRole maps a stored role string to a known role, defaulting to viewer.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleEditor, RoleUser, RoleViewer:
		return Role(s)
	default:
		return RoleViewer
	}
}

type User struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email,omitempty"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Category is one node of the category tree. Key is path-like: a root
// category's key equals its name, a child's key is "parent/name".
type Category struct {
	Key         string   `json:"-"`
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Parent      string   `json:"parent,omitempty"`
	Children    []string `json:"children"`
}

// Kind discriminates notes from documents. They share record shape but
// have independent id sequences and storage paths.
type Kind string

const (
	KindNote Kind = "note"
	KindDoc  Kind = "doc"
)

type Attachment struct {
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// Item is a note or document. Content lives in a separate body file and is
// only populated on single-item reads.
type Item struct {
	ID          int          `json:"id"`
	Title       string       `json:"title"`
	Content     string       `json:"content,omitempty"`
	CategoryKey string       `json:"category"`
	UserID      int          `json:"user_id,omitempty"`
	UpdatedBy   int          `json:"updated_by,omitempty"`
	ViewCount   int          `json:"view_count"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// GroupReceiverID marks a chat message addressed to the shared group
// channel rather than a single user.
const GroupReceiverID = 0

type ChatMessage struct {
	ID                     int       `json:"id"`
	SenderID               int       `json:"sender_id"`
	ReceiverID             int       `json:"receiver_id"`
	Message                string    `json:"message,omitempty"`
	AttachmentFilename     string    `json:"attachment_filename,omitempty"`
	AttachmentOriginalName string    `json:"attachment_original_name,omitempty"`
	IsRead                 bool      `json:"is_read"`
	CreatedAt              time.Time `json:"created_at"`
}

type Notification struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	UserID    *int      `json:"user_id"` // nil = broadcast to all users
	Link      string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ReadBy    []int     `json:"read_by"`
}

type AuditEntry struct {
	ID        int       `json:"id"`
	ItemType  string    `json:"item_type"`
	ItemID    int       `json:"item_id"`
	Action    string    `json:"action"`
	UserID    int       `json:"user_id"`
	Changes   string    `json:"changes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	// EditTimestamp is set when an entry is back-dated to the time the
	// underlying file was actually modified.
	EditTimestamp *time.Time `json:"edit_timestamp,omitempty"`
}
