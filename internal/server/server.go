// Package server exposes the JSON API.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/DucVuong2901/internal-management/internal/audit"
	"github.com/DucVuong2901/internal-management/internal/backup"
	"github.com/DucVuong2901/internal-management/internal/category"
	"github.com/DucVuong2901/internal-management/internal/chat"
	"github.com/DucVuong2901/internal-management/internal/content"
	"github.com/DucVuong2901/internal-management/internal/notification"
	"github.com/DucVuong2901/internal-management/internal/ratelimit"
	"github.com/DucVuong2901/internal-management/internal/session"
	"github.com/DucVuong2901/internal-management/internal/user"
	"github.com/DucVuong2901/internal-management/internal/util"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Users         *user.Store
	Sessions      session.Store
	LoginLimiter  *ratelimit.FixedWindowLimiter
	Notes         *content.Store
	Docs          *content.Store
	Categories    *category.Store
	Chat          *chat.Store
	Notifications *notification.Store
	Audit         *audit.Log
	Backup        *backup.Coordinator

	MaxUploadBytes int64
}

// Server routes API requests to the stores.
type Server struct {
	users         *user.Store
	sessions      session.Store
	loginLimiter  *ratelimit.FixedWindowLimiter
	notes         *content.Store
	docs          *content.Store
	categories    *category.Store
	chat          *chat.Store
	notifications *notification.Store
	audit         *audit.Log
	backup        *backup.Coordinator

	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Users == nil || cfg.Sessions == nil {
		return nil, errors.New("server requires user store and session store")
	}
	if cfg.Notes == nil || cfg.Docs == nil || cfg.Categories == nil {
		return nil, errors.New("server requires content and category stores")
	}
	if cfg.Chat == nil || cfg.Notifications == nil || cfg.Audit == nil || cfg.Backup == nil {
		return nil, errors.New("server requires chat, notification, audit, and backup stores")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		users:          cfg.Users,
		sessions:       cfg.Sessions,
		loginLimiter:   cfg.LoginLimiter,
		notes:          cfg.Notes,
		docs:           cfg.Docs,
		categories:     cfg.Categories,
		chat:           cfg.Chat,
		notifications:  cfg.Notifications,
		audit:          cfg.Audit,
		backup:         cfg.Backup,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestLog(util.WithHeaders(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	s.mux.HandleFunc("/api/auth/login", s.handleLogin)
	s.mux.Handle("/api/auth/logout", s.authenticated(s.handleLogout))
	s.mux.Handle("/api/auth/me", s.authenticated(s.handleMe))

	s.mux.Handle("/api/notes", s.authenticated(s.contentCollection(s.notes)))
	s.mux.Handle("/api/notes/", s.authenticated(s.contentItem(s.notes)))
	s.mux.Handle("/api/docs", s.authenticated(s.contentCollection(s.docs)))
	s.mux.Handle("/api/docs/", s.authenticated(s.contentItem(s.docs)))
	s.mux.Handle("/api/search", s.authenticated(s.handleSearch))
	s.mux.Handle("/api/dashboard", s.authenticated(s.handleDashboard))

	s.mux.Handle("/api/chat/messages", s.authenticated(s.handleChatMessages))
	s.mux.Handle("/api/chat/messages/", s.authenticated(s.handleChatMessageByID))
	s.mux.Handle("/api/chat/read", s.authenticated(s.handleChatRead))
	s.mux.Handle("/api/chat/storage", s.authenticated(s.handleChatStorage))
	s.mux.Handle("/api/chat/files", s.authenticated(s.handleChatFiles))
	s.mux.Handle("/api/chat/attachments/", s.authenticated(s.handleChatAttachment))

	s.mux.Handle("/api/notifications", s.authenticated(s.handleNotifications))
	s.mux.Handle("/api/notifications/read-all", s.authenticated(s.handleNotificationsReadAll))
	s.mux.Handle("/api/notifications/", s.authenticated(s.handleNotificationByID))

	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/", s.adminOnly(s.handleAdminUserByID))
	s.mux.Handle("/api/admin/categories", s.adminOnly(s.handleAdminCategories))
	s.mux.Handle("/api/admin/categories/reconcile", s.adminOnly(s.handleAdminReconcile))
	s.mux.Handle("/api/admin/edit-logs", s.adminOnly(s.handleAdminEditLogs))
	s.mux.Handle("/api/admin/export", s.adminOnly(s.handleAdminExport))
	s.mux.Handle("/api/admin/import", s.adminOnly(s.handleAdminImport))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := session.BearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.sessions.Resolve(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		u, err := s.users.ByID(userID)
		if err != nil || !u.IsActive {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, u)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, u domain.User) {
		if !domain.CanPerform(u.Role, domain.ActionAdmin) {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, u)
	})
}

// requireAction gates one request inside a handler that serves several
// methods with different privilege levels.
func requireAction(w http.ResponseWriter, u domain.User, action domain.Action) bool {
	if !domain.CanPerform(u.Role, action) {
		writeError(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: errorCode(status)})
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_REQUEST"
	case http.StatusUnauthorized:
		return "AUTH_INVALID_TOKEN"
	case http.StatusForbidden:
		return "FORBIDDEN"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "QUOTA_EXCEEDED"
	default:
		if status >= http.StatusInternalServerError {
			return "INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}

// pathID parses the numeric id segment after a route prefix, along with
// the rest of the path ("" when the id is the last segment).
func pathID(r *http.Request, prefix string) (int, string, bool) {
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	id, err := strconv.Atoi(parts[0])
	if err != nil || id <= 0 {
		return 0, "", false
	}
	if len(parts) == 2 {
		return id, parts[1], true
	}
	return id, "", true
}
