// Package user manages accounts in a CSV-backed table.
package user

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/DucVuong2901/internal-management/internal/storage"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

var (
	ErrDuplicateUsername  = errors.New("username already taken")
	ErrDuplicateEmail     = errors.New("email already taken")
	ErrNotFound           = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
)

var csvHeader = []string{"id", "username", "email", "password_hash", "role", "created_at", "is_active"}

// DefaultAdmin describes the account seeded when the table is empty.
type DefaultAdmin struct {
	Username string
	Password string
	Email    string
}

type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func New(path string) *Store {
	return &Store{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock for tests.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

func (s *Store) load() ([]domain.User, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open users file: %w", err)
	}
	return ParseCSV(data)
}

func (s *Store) save(users []domain.User) error {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, u := range users {
		row := []string{
			strconv.Itoa(u.ID),
			u.Username,
			u.Email,
			u.PasswordHash,
			string(u.Role),
			u.CreatedAt.Format(time.RFC3339),
			strconv.FormatBool(u.IsActive),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return storage.WriteFileAtomic(s.path, []byte(b.String()))
}

// All returns every account, password hashes included.
func (s *Store) All() ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) ByID(id int) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return domain.User{}, err
	}
	for _, u := range users {
		if u.ID == id {
			return u, nil
		}
	}
	return domain.User{}, ErrNotFound
}

func (s *Store) ByUsername(username string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return domain.User{}, err
	}
	for _, u := range users {
		if u.Username == username {
			return u, nil
		}
	}
	return domain.User{}, ErrNotFound
}

// Create registers a new account. Username is unique; email is unique
// when present (case-insensitive).
func (s *Store) Create(username, password, email string, role domain.Role) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return domain.User{}, err
	}
	nextID := 1
	for _, u := range users {
		if u.Username == username {
			return domain.User{}, ErrDuplicateUsername
		}
		if email != "" && u.Email != "" && strings.EqualFold(u.Email, email) {
			return domain.User{}, ErrDuplicateEmail
		}
		if u.ID >= nextID {
			nextID = u.ID + 1
		}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		ID:           nextID,
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.now(),
		IsActive:     true,
	}
	if err := s.save(append(users, u)); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Update describes a partial account change. Nil fields are left as-is.
type Update struct {
	Username *string
	Email    *string
	Role     *domain.Role
	Password *string
	IsActive *bool
}

func (s *Store) Update(id int, upd Update) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return domain.User{}, err
	}
	idx := -1
	for i, u := range users {
		if u.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.User{}, ErrNotFound
	}
	if upd.Username != nil {
		for _, u := range users {
			if u.ID != id && u.Username == *upd.Username {
				return domain.User{}, ErrDuplicateUsername
			}
		}
		users[idx].Username = *upd.Username
	}
	if upd.Email != nil {
		if *upd.Email != "" {
			for _, u := range users {
				if u.ID != id && u.Email != "" && strings.EqualFold(u.Email, *upd.Email) {
					return domain.User{}, ErrDuplicateEmail
				}
			}
		}
		users[idx].Email = *upd.Email
	}
	if upd.Role != nil {
		users[idx].Role = *upd.Role
	}
	if upd.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*upd.Password), bcrypt.DefaultCost)
		if err != nil {
			return domain.User{}, fmt.Errorf("hash password: %w", err)
		}
		users[idx].PasswordHash = string(hash)
	}
	if upd.IsActive != nil {
		users[idx].IsActive = *upd.IsActive
	}
	if err := s.save(users); err != nil {
		return domain.User{}, err
	}
	return users[idx], nil
}

func (s *Store) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, err := s.load()
	if err != nil {
		return err
	}
	kept := users[:0]
	found := false
	for _, u := range users {
		if u.ID == id {
			found = true
			continue
		}
		kept = append(kept, u)
	}
	if !found {
		return ErrNotFound
	}
	return s.save(kept)
}

// Authenticate verifies credentials for an active account.
func (s *Store) Authenticate(username, password string) (domain.User, error) {
	u, err := s.ByUsername(username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.User{}, ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	if !u.IsActive {
		return domain.User{}, ErrAccountDisabled
	}
	return u, nil
}

// EnsureAdmin seeds the default admin account when the table is empty.
func (s *Store) EnsureAdmin(def DefaultAdmin) error {
	users, err := s.All()
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}
	u, err := s.Create(def.Username, def.Password, def.Email, domain.RoleAdmin)
	if err != nil {
		return err
	}
	slog.Info("seeded default admin account", "username", u.Username, "id", u.ID)
	return nil
}

// Replace overwrites the whole table. Used by replace-mode import.
func (s *Store) Replace(users []domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(users)
}

// RawCSV returns the current users file contents as written to disk.
// Used by export.
func (s *Store) RawCSV() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			var b strings.Builder
			w := csv.NewWriter(&b)
			if err := w.Write(csvHeader); err != nil {
				return nil, err
			}
			w.Flush()
			return []byte(b.String()), nil
		}
		return nil, err
	}
	return data, nil
}

// ParseCSV decodes a users table from CSV bytes. Used by import.
func ParseCSV(data []byte) ([]domain.User, error) {
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse users csv: %w", err)
	}
	users := make([]domain.User, 0, len(rows))
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "id" {
			continue
		}
		if len(row) < 7 {
			return nil, fmt.Errorf("users csv row %d: expected 7 columns, got %d", i+1, len(row))
		}
		id, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("users csv row %d: bad id %q", i+1, row[0])
		}
		createdAt, _ := time.Parse(time.RFC3339, row[5])
		users = append(users, domain.User{
			ID:           id,
			Username:     row[1],
			Email:        row[2],
			PasswordHash: row[3],
			Role:         domain.ParseRole(row[4]),
			CreatedAt:    createdAt,
			IsActive:     strings.EqualFold(row[6], "true"),
		})
	}
	return users, nil
}

// Path returns the backing file location. Used by export/import.
func (s *Store) Path() string {
	return s.path
}
