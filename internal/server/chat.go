package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/DucVuong2901/internal-management/internal/chat"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

func (s *Server) handleChatMessages(w http.ResponseWriter, r *http.Request, u domain.User) {
	switch r.Method {
	case http.MethodGet:
		s.handleChatList(w, r, u)
	case http.MethodPost:
		s.handleChatSend(w, r, u)
	case http.MethodDelete:
		// Admin clear of the whole group channel.
		if !requireAction(w, u, domain.ActionAdmin) {
			return
		}
		count, err := s.chat.ClearAllGroupMessages()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"deleted": count})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleChatList(w http.ResponseWriter, r *http.Request, u domain.User) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	msgs, err := s.chat.ListMessages(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	unread, err := s.chat.UnreadCount(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
		"unread":   unread,
	})
}

// handleChatSend accepts multipart form data: a "message" text field and
// an optional "attachment" file. The quota check runs before the store
// touches the file.
func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request, u domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	message := r.FormValue("message")

	var (
		attachment   io.Reader
		originalName string
	)
	file, header, err := r.FormFile("attachment")
	if err == nil {
		defer file.Close()
		if _, err := s.chat.CanUpload(u.ID, header.Size); err != nil {
			var quotaErr *chat.QuotaError
			if errors.As(err, &quotaErr) {
				writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{
					"error":           "chat storage quota exceeded",
					"code":            "QUOTA_EXCEEDED",
					"remaining_bytes": quotaErr.RemainingBytes,
					"needed_bytes":    quotaErr.NeededBytes,
				})
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		attachment = file
		originalName = header.Filename
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, "invalid attachment")
		return
	}

	msg, err := s.chat.SendGroupMessage(u.ID, message, attachment, originalName)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, "message needs text or an attachment")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleChatMessageByID(w http.ResponseWriter, r *http.Request, u domain.User) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	id, rest, ok := pathID(r, "/api/chat/messages/")
	if !ok || rest != "" {
		notFound(w, "not found")
		return
	}
	if !s.chat.DeleteMessage(id, u.ID) {
		writeError(w, http.StatusForbidden, "only the sender can delete a message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type chatReadRequest struct {
	MessageID int `json:"message_id"`
}

func (s *Server) handleChatRead(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatReadRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	found, err := s.chat.MarkRead(req.MessageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !found {
		notFound(w, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (s *Server) handleChatStorage(w http.ResponseWriter, r *http.Request, u domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	info, err := s.chat.StorageInfo(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleChatFiles(w http.ResponseWriter, r *http.Request, u domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	files, err := s.chat.UserFiles(u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"files": files,
		"count": len(files),
	})
}

func (s *Server) handleChatAttachment(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	filename := r.URL.Path[len("/api/chat/attachments/"):]
	if filename == "" {
		notFound(w, "not found")
		return
	}
	rc, err := s.chat.Uploads().Open(filename)
	if err != nil {
		notFound(w, "attachment not found")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = io.Copy(w, rc)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
