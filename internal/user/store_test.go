package user

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DucVuong2901/internal-management/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "users.csv"))
}

func TestCreateAndLookup(t *testing.T) {
	s := newTestStore(t)

	u, err := s.Create("alice", "s3cret", "alice@example.com", domain.RoleEditor)
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != 1 {
		t.Fatalf("id = %d, want 1", u.ID)
	}
	if u.PasswordHash == "s3cret" || u.PasswordHash == "" {
		t.Fatal("password stored without hashing")
	}
	if !u.IsActive {
		t.Fatal("new account should be active")
	}

	byName, err := s.ByUsername("alice")
	if err != nil {
		t.Fatal(err)
	}
	if byName.ID != u.ID || byName.Role != domain.RoleEditor {
		t.Fatalf("lookup mismatch: %+v", byName)
	}
	if _, err := s.ByID(1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ByID(99); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateUniqueness(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("alice", "pw", "alice@example.com", domain.RoleUser); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("alice", "pw", "other@example.com", domain.RoleUser); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("err = %v, want ErrDuplicateUsername", err)
	}
	if _, err := s.Create("bob", "pw", "ALICE@example.com", domain.RoleUser); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}
	// Empty email never collides.
	if _, err := s.Create("carol", "pw", "", domain.RoleUser); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("dave", "pw", "", domain.RoleUser); err != nil {
		t.Fatal(err)
	}
}

func TestAuthenticate(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("alice", "s3cret", "", domain.RoleAdmin); err != nil {
		t.Fatal(err)
	}

	u, err := s.Authenticate("alice", "s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if u.Username != "alice" {
		t.Fatalf("username = %q", u.Username)
	}
	if _, err := s.Authenticate("alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := s.Authenticate("nobody", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}

	inactive := false
	if _, err := s.Update(u.ID, Update{IsActive: &inactive}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Authenticate("alice", "s3cret"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("err = %v, want ErrAccountDisabled", err)
	}
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	a, err := s.Create("alice", "pw", "alice@example.com", domain.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Create("bob", "pw", "bob@example.com", domain.RoleUser); err != nil {
		t.Fatal(err)
	}

	taken := "bob"
	if _, err := s.Update(a.ID, Update{Username: &taken}); !errors.Is(err, ErrDuplicateUsername) {
		t.Fatalf("err = %v, want ErrDuplicateUsername", err)
	}
	dupEmail := "BOB@example.com"
	if _, err := s.Update(a.ID, Update{Email: &dupEmail}); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("err = %v, want ErrDuplicateEmail", err)
	}

	role := domain.RoleAdmin
	pw := "newpw"
	got, err := s.Update(a.ID, Update{Role: &role, Password: &pw})
	if err != nil {
		t.Fatal(err)
	}
	if got.Role != domain.RoleAdmin {
		t.Fatalf("role = %q", got.Role)
	}
	if _, err := s.Authenticate("alice", "newpw"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	if _, err := s.Update(99, Update{Role: &role}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	u, err := s.Create("alice", "pw", "", domain.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(u.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestIDsSurviveDeletes(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("alice", "pw", "", domain.RoleUser); err != nil {
		t.Fatal(err)
	}
	b, err := s.Create("bob", "pw", "", domain.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(b.ID); err != nil {
		t.Fatal(err)
	}
	c, err := s.Create("carol", "pw", "", domain.RoleUser)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != 2 {
		t.Fatalf("id = %d, want 2 (max existing + 1)", c.ID)
	}
}

func TestEnsureAdmin(t *testing.T) {
	s := newTestStore(t)
	def := DefaultAdmin{Username: "admin", Password: "admin123", Email: "admin@example.com"}
	if err := s.EnsureAdmin(def); err != nil {
		t.Fatal(err)
	}
	u, err := s.ByUsername("admin")
	if err != nil {
		t.Fatal(err)
	}
	if u.Role != domain.RoleAdmin {
		t.Fatalf("role = %q, want admin", u.Role)
	}

	// A non-empty table is left alone.
	if err := s.EnsureAdmin(DefaultAdmin{Username: "admin2", Password: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ByUsername("admin2"); !errors.Is(err, ErrNotFound) {
		t.Fatal("second admin seeded into non-empty table")
	}
}

func TestRawCSVRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Create("alice", "pw", "alice@example.com", domain.RoleEditor); err != nil {
		t.Fatal(err)
	}
	raw, err := s.RawCSV()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), "id,username,email,password_hash,role,created_at,is_active") {
		t.Fatalf("unexpected header: %q", strings.SplitN(string(raw), "\n", 2)[0])
	}

	users, err := ParseCSV(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Username != "alice" || users[0].Role != domain.RoleEditor {
		t.Fatalf("round trip mismatch: %+v", users)
	}

	other := New(filepath.Join(t.TempDir(), "users.csv"))
	if err := other.Replace(users); err != nil {
		t.Fatal(err)
	}
	if _, err := other.ByUsername("alice"); err != nil {
		t.Fatal(err)
	}
}

func TestRawCSVEmptyTable(t *testing.T) {
	s := newTestStore(t)
	raw, err := s.RawCSV()
	if err != nil {
		t.Fatal(err)
	}
	users, err := ParseCSV(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 0 {
		t.Fatalf("len = %d, want 0", len(users))
	}
}
