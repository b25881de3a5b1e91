package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/DucVuong2901/internal-management/internal/notification"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, u domain.User) {
	switch r.Method {
	case http.MethodGet:
		unreadOnly := r.URL.Query().Get("unread") == "true"
		limit := queryInt(r, "limit", 0)
		items, err := s.notifications.List(u.ID, unreadOnly, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		unread, err := s.notifications.UnreadCount(u.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":  items,
			"count":  len(items),
			"unread": unread,
		})
	case http.MethodPost:
		if !requireAction(w, u, domain.ActionAdmin) {
			return
		}
		s.handleCreateNotification(w, r)
	default:
		methodNotAllowed(w)
	}
}

type notificationRequest struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type"`
	UserID  *int   `json:"user_id"`
	Link    string `json:"link"`
}

func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var req notificationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	n, err := s.notifications.Create(req.Title, req.Message, req.Type, req.UserID, req.Link)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleNotificationsReadAll(w http.ResponseWriter, r *http.Request, u domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	count, err := s.notifications.MarkAllRead(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": count})
}

// /api/notifications/{id} (DELETE, admin) and /{id}/read (POST).
func (s *Server) handleNotificationByID(w http.ResponseWriter, r *http.Request, u domain.User) {
	id, rest, ok := pathID(r, "/api/notifications/")
	if !ok {
		notFound(w, "not found")
		return
	}
	switch {
	case rest == "read" && r.Method == http.MethodPost:
		found, err := s.notifications.MarkRead(id, u.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !found {
			notFound(w, "notification not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
	case rest == "" && r.Method == http.MethodDelete:
		if !requireAction(w, u, domain.ActionAdmin) {
			return
		}
		if err := s.notifications.Delete(id); err != nil {
			if errors.Is(err, notification.ErrNotFound) {
				notFound(w, "notification not found")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case rest == "":
		methodNotAllowed(w)
	default:
		notFound(w, "not found")
	}
}
