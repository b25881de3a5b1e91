package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/DucVuong2901/internal-management/internal/content"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

type itemRequest struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

func (s *Server) contentCollection(store *content.Store) authHandler {
	return func(w http.ResponseWriter, r *http.Request, u domain.User) {
		switch r.Method {
		case http.MethodGet:
			s.handleListContent(w, r, store)
		case http.MethodPost:
			if !requireAction(w, u, domain.ActionCreate) {
				return
			}
			s.handleCreateContent(w, r, store, u)
		default:
			methodNotAllowed(w)
		}
	}
}

func (s *Server) handleListContent(w http.ResponseWriter, r *http.Request, store *content.Store) {
	items, err := store.List(r.URL.Query().Get("category"), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleCreateContent(w http.ResponseWriter, r *http.Request, store *content.Store, u domain.User) {
	var req itemRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 10<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	item, err := store.Create(req.Title, req.Content, req.Category, u.ID)
	if err != nil {
		if errors.Is(err, content.ErrEmptyTitle) {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.recordAudit(store.Kind(), item.ID, "create", u.ID, "")
	s.broadcastNewContent(store.Kind(), item)
	writeJSON(w, http.StatusCreated, item)
}

// contentItem routes /{id}, /{id}/view, /{id}/attachments, and
// /{id}/attachments/{filename}.
func (s *Server) contentItem(store *content.Store) authHandler {
	prefix := "/api/notes/"
	if store.Kind() == domain.KindDoc {
		prefix = "/api/docs/"
	}
	return func(w http.ResponseWriter, r *http.Request, u domain.User) {
		id, rest, ok := pathID(r, prefix)
		if !ok {
			notFound(w, "not found")
			return
		}
		switch {
		case rest == "":
			s.handleContentByID(w, r, store, u, id)
		case rest == "view" && store.Kind() == domain.KindNote:
			s.handleViewContent(w, r, store, id)
		case rest == "attachments":
			s.handleUploadAttachment(w, r, store, u, id)
		case strings.HasPrefix(rest, "attachments/") && rest != "attachments/":
			s.handleAttachmentByName(w, r, store, u, id, strings.TrimPrefix(rest, "attachments/"))
		default:
			notFound(w, "not found")
		}
	}
}

func (s *Server) handleContentByID(w http.ResponseWriter, r *http.Request, store *content.Store, u domain.User, id int) {
	switch r.Method {
	case http.MethodGet:
		item, err := store.Get(id)
		if err != nil {
			if errors.Is(err, content.ErrNotFound) {
				notFound(w, fmt.Sprintf("%s not found", store.Kind()))
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodPut:
		if !requireAction(w, u, domain.ActionEdit) {
			return
		}
		s.handleUpdateContent(w, r, store, u, id)
	case http.MethodDelete:
		if !requireAction(w, u, domain.ActionDelete) {
			return
		}
		if err := store.Delete(id); err != nil {
			if errors.Is(err, content.ErrNotFound) {
				notFound(w, fmt.Sprintf("%s not found", store.Kind()))
				return
			}
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		s.recordAudit(store.Kind(), id, "delete", u.ID, "")
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleUpdateContent(w http.ResponseWriter, r *http.Request, store *content.Store, u domain.User, id int) {
	var req itemRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 10<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	before, err := store.Get(id)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			notFound(w, fmt.Sprintf("%s not found", store.Kind()))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	item, coerced, err := store.Update(id, req.Title, req.Content, req.Category, u.ID)
	if err != nil {
		switch {
		case errors.Is(err, content.ErrEmptyTitle):
			writeError(w, http.StatusBadRequest, "title is required")
		case errors.Is(err, content.ErrNotFound):
			notFound(w, fmt.Sprintf("%s not found", store.Kind()))
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	s.recordAudit(store.Kind(), id, "edit", u.ID, diffChanges(before, item))
	writeJSON(w, http.StatusOK, map[string]any{
		"item":            item,
		"categoryCoerced": coerced,
	})
}

func (s *Server) handleViewContent(w http.ResponseWriter, r *http.Request, store *content.Store, id int) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if err := store.IncrementViewCount(id); err != nil {
		if errors.Is(err, content.ErrNotFound) {
			notFound(w, "note not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "counted"})
}

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request, store *content.Store, u domain.User, id int) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !requireAction(w, u, domain.ActionEdit) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	att, err := store.AddAttachment(id, file, header.Filename)
	if err != nil {
		if errors.Is(err, content.ErrNotFound) {
			notFound(w, fmt.Sprintf("%s not found", store.Kind()))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.recordAudit(store.Kind(), id, "edit", u.ID, fmt.Sprintf(`{"attachment_added":%q}`, att.OriginalFilename))
	writeJSON(w, http.StatusCreated, att)
}

func (s *Server) handleAttachmentByName(w http.ResponseWriter, r *http.Request, store *content.Store, u domain.User, id int, filename string) {
	// The (id, filename) pairing is the ownership check: a filename that
	// belongs to another item must 404, not leak.
	if !store.HasAttachment(id, filename) {
		notFound(w, "attachment not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.serveAttachment(w, store, filename)
	case http.MethodDelete:
		if !requireAction(w, u, domain.ActionEdit) {
			return
		}
		if !store.DeleteAttachment(id, filename) {
			notFound(w, "attachment not found")
			return
		}
		s.recordAudit(store.Kind(), id, "edit", u.ID, fmt.Sprintf(`{"attachment_deleted":%q}`, filename))
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) serveAttachment(w http.ResponseWriter, store *content.Store, filename string) {
	rc, err := store.Uploads().Open(filename)
	if err != nil {
		notFound(w, "attachment not found")
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	_, _ = io.Copy(w, rc)
}

const quickSearchLimit = 5

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query().Get("q")
	notes, err := s.notes.List("", q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	docs, err := s.docs.List("", q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(notes) > quickSearchLimit {
		notes = notes[:quickSearchLimit]
	}
	if len(docs) > quickSearchLimit {
		docs = docs[:quickSearchLimit]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notes": notes,
		"docs":  docs,
	})
}

const dashboardLimit = 5

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	noteCount, err := s.notes.Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	docCount, err := s.docs.Count()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	recentNotes, err := s.notes.Recent(dashboardLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	recentDocs, err := s.docs.Recent(dashboardLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"note_count":   noteCount,
		"doc_count":    docCount,
		"recent_notes": recentNotes,
		"recent_docs":  recentDocs,
	})
}

// recordAudit appends an audit entry. Failures are logged by the audit
// package; the request itself never fails on audit errors.
func (s *Server) recordAudit(kind domain.Kind, itemID int, action string, userID int, changes string) {
	_, _ = s.audit.Append(domain.AuditEntry{
		ItemType: string(kind),
		ItemID:   itemID,
		Action:   action,
		UserID:   userID,
		Changes:  changes,
	})
}

func (s *Server) broadcastNewContent(kind domain.Kind, item domain.Item) {
	title := "New note"
	link := fmt.Sprintf("/notes/%d", item.ID)
	if kind == domain.KindDoc {
		title = "New document"
		link = fmt.Sprintf("/docs/%d", item.ID)
	}
	_, _ = s.notifications.Create(title, item.Title, "info", nil, link)
}

// diffChanges serializes the fields an edit touched, with old and new
// values, for the audit trail.
func diffChanges(before, after domain.Item) string {
	changes := map[string]map[string]string{}
	if before.Title != after.Title {
		changes["title"] = map[string]string{"old": before.Title, "new": after.Title}
	}
	if before.Content != after.Content {
		changes["content"] = map[string]string{"old": before.Content, "new": after.Content}
	}
	if before.CategoryKey != after.CategoryKey {
		changes["category"] = map[string]string{"old": before.CategoryKey, "new": after.CategoryKey}
	}
	if len(changes) == 0 {
		return ""
	}
	out, err := json.Marshal(changes)
	if err != nil {
		return ""
	}
	return string(out)
}
