package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/DucVuong2901/internal-management/internal/backup"
	"github.com/DucVuong2901/internal-management/internal/category"
	"github.com/DucVuong2901/internal-management/internal/user"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	switch r.Method {
	case http.MethodGet:
		users, err := s.users.All()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": users,
			"count": len(users),
		})
	case http.MethodPost:
		s.handleCreateUser(w, r)
	default:
		methodNotAllowed(w)
	}
}

type userRequest struct {
	Username string  `json:"username"`
	Password *string `json:"password"`
	Email    *string `json:"email"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"isActive"`
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == nil || *req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	email := ""
	if req.Email != nil {
		email = *req.Email
	}
	role := domain.RoleUser
	if req.Role != nil {
		role = domain.ParseRole(*req.Role)
	}
	u, err := s.users.Create(req.Username, *req.Password, email, role)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrDuplicateUsername):
			writeError(w, http.StatusConflict, "username already taken")
		case errors.Is(err, user.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "email already taken")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleAdminUserByID(w http.ResponseWriter, r *http.Request, admin domain.User) {
	id, rest, ok := pathID(r, "/api/admin/users/")
	if !ok || rest != "" {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		u, err := s.users.ByID(id)
		if err != nil {
			if errors.Is(err, user.ErrNotFound) {
				notFound(w, "user not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, u)
	case http.MethodPut:
		s.handleUpdateUser(w, r, id)
	case http.MethodDelete:
		if id == admin.ID {
			writeError(w, http.StatusBadRequest, "cannot delete your own account")
			return
		}
		if err := s.users.Delete(id); err != nil {
			if errors.Is(err, user.ErrNotFound) {
				notFound(w, "user not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, id int) {
	var req userRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	upd := user.Update{
		Email:    req.Email,
		Password: req.Password,
		IsActive: req.IsActive,
	}
	if strings.TrimSpace(req.Username) != "" {
		upd.Username = &req.Username
	}
	if req.Role != nil {
		role := domain.ParseRole(*req.Role)
		upd.Role = &role
	}
	u, err := s.users.Update(id, upd)
	if err != nil {
		switch {
		case errors.Is(err, user.ErrNotFound):
			notFound(w, "user not found")
		case errors.Is(err, user.ErrDuplicateUsername):
			writeError(w, http.StatusConflict, "username already taken")
		case errors.Is(err, user.ErrDuplicateEmail):
			writeError(w, http.StatusConflict, "email already taken")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type categoryRequest struct {
	Name   string `json:"name"`
	Parent string `json:"parent"`
	Key    string `json:"key"`
}

func (s *Server) handleAdminCategories(w http.ResponseWriter, r *http.Request, _ domain.User) {
	switch r.Method {
	case http.MethodGet:
		cats, err := s.categories.List()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, cats)
	case http.MethodPost:
		var req categoryRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		cat, err := s.categories.Add(req.Name, req.Parent)
		if err != nil {
			switch {
			case errors.Is(err, category.ErrDuplicateKey):
				writeError(w, http.StatusConflict, "category already exists")
			case errors.Is(err, category.ErrUnknownParent):
				writeError(w, http.StatusBadRequest, "parent category does not exist")
			case errors.Is(err, category.ErrSelfParent):
				writeError(w, http.StatusBadRequest, "category cannot parent itself")
			default:
				writeError(w, http.StatusBadRequest, "invalid category")
			}
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"key": cat.Key, "category": cat})
	case http.MethodDelete:
		key := r.URL.Query().Get("key")
		if key == "" {
			writeError(w, http.StatusBadRequest, "key is required")
			return
		}
		if err := s.categories.Delete(key); err != nil {
			switch {
			case errors.Is(err, category.ErrProtectedCategory):
				writeError(w, http.StatusForbidden, "the general category cannot be deleted")
			case errors.Is(err, category.ErrHasChildren):
				writeError(w, http.StatusBadRequest, "category still has children")
			case errors.Is(err, category.ErrNotFound):
				notFound(w, "category not found")
			default:
				writeError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminReconcile(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	fixed, err := s.categories.ReconcileOrphans()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reparented": fixed})
}

func (s *Server) handleAdminEditLogs(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var entries []domain.AuditEntry
	var err error
	if itemType := r.URL.Query().Get("item_type"); itemType != "" {
		entries, err = s.audit.ListByItem(itemType, queryInt(r, "item_id", 0))
	} else {
		entries, err = s.audit.List(queryInt(r, "limit", 0))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": entries,
		"count": len(entries),
	})
}

func (s *Server) handleAdminExport(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filename, data, err := s.backup.Export()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = w.Write(data)
}

func (s *Server) handleAdminImport(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	mode, err := backup.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "mode must be merge or replace")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read archive")
		return
	}
	report, err := s.backup.Import(data, mode)
	if err != nil {
		if errors.Is(err, backup.ErrInvalidArchive) {
			// The report still carries whatever landed before the failure.
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "invalid archive",
				"code":   "INVALID_ARCHIVE",
				"report": report,
			})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":  "import failed",
			"code":   "INTERNAL_ERROR",
			"report": report,
		})
		return
	}
	writeJSON(w, http.StatusOK, report)
}
