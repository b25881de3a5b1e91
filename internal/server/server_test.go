package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DucVuong2901/internal-management/internal/audit"
	"github.com/DucVuong2901/internal-management/internal/backup"
	"github.com/DucVuong2901/internal-management/internal/category"
	"github.com/DucVuong2901/internal-management/internal/chat"
	"github.com/DucVuong2901/internal-management/internal/content"
	"github.com/DucVuong2901/internal-management/internal/notification"
	"github.com/DucVuong2901/internal-management/internal/session"
	"github.com/DucVuong2901/internal-management/internal/storage"
	"github.com/DucVuong2901/internal-management/internal/user"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

type testEnv struct {
	srv    *httptest.Server
	tokens map[string]string // username -> session token
	notes  *content.Store
	audit  *audit.Log
	users  *user.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	users := user.New(filepath.Join(dir, "users.csv"))
	cats, err := category.New(filepath.Join(dir, "categories.json"))
	if err != nil {
		t.Fatal(err)
	}
	metaPath := filepath.Join(dir, "metadata.json")
	meta := storage.NewCollection(metaPath)
	noteUploads, err := storage.NewFileStore(filepath.Join(dir, "uploads", "notes"))
	if err != nil {
		t.Fatal(err)
	}
	docUploads, err := storage.NewFileStore(filepath.Join(dir, "uploads", "docs"))
	if err != nil {
		t.Fatal(err)
	}
	chatUploads, err := storage.NewFileStore(filepath.Join(dir, "uploads", "chat"))
	if err != nil {
		t.Fatal(err)
	}
	notes, err := content.New(domain.KindNote, meta, filepath.Join(dir, "notes"), noteUploads, cats)
	if err != nil {
		t.Fatal(err)
	}
	docs, err := content.New(domain.KindDoc, meta, filepath.Join(dir, "docs"), docUploads, cats)
	if err != nil {
		t.Fatal(err)
	}
	chatStore, err := chat.New(filepath.Join(dir, "chat_messages.json"), chatUploads)
	if err != nil {
		t.Fatal(err)
	}
	notifications := notification.New(filepath.Join(dir, "notifications.json"))
	auditLog := audit.New(filepath.Join(dir, "edit_logs.json"))
	coordinator := backup.New(users, cats, notes, docs, auditLog, metaPath)
	sessions := session.NewMemoryStore(time.Hour)

	srv, err := New(Config{
		Users:         users,
		Sessions:      sessions,
		Notes:         notes,
		Docs:          docs,
		Categories:    cats,
		Chat:          chatStore,
		Notifications: notifications,
		Audit:         auditLog,
		Backup:        coordinator,
	})
	if err != nil {
		t.Fatal(err)
	}

	env := &testEnv{
		srv:    httptest.NewServer(srv.Router()),
		tokens: map[string]string{},
		notes:  notes,
		audit:  auditLog,
		users:  users,
	}
	t.Cleanup(env.srv.Close)

	for _, acc := range []struct {
		username string
		role     domain.Role
	}{
		{"root", domain.RoleAdmin},
		{"editor", domain.RoleEditor},
		{"viewer", domain.RoleViewer},
	} {
		u, err := users.Create(acc.username, "pw-"+acc.username, "", acc.role)
		if err != nil {
			t.Fatal(err)
		}
		token, err := sessions.Issue(u.ID)
		if err != nil {
			t.Fatal(err)
		}
		env.tokens[acc.username] = token
	}
	return env
}

func (e *testEnv) do(t *testing.T, method, path, as string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[as])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatal(err)
	}
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestLoginAndMe(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "editor", "password": "pw-editor",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var login struct {
		Token string      `json:"token"`
		User  domain.User `json:"user"`
	}
	decode(t, resp, &login)
	if login.Token == "" || login.User.Username != "editor" {
		t.Fatalf("login = %+v", login)
	}

	req, _ := http.NewRequest(http.MethodGet, e.srv.URL+"/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	meResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer meResp.Body.Close()
	if meResp.StatusCode != http.StatusOK {
		t.Fatalf("me status = %d", meResp.StatusCode)
	}

	bad := e.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "editor", "password": "wrong",
	})
	if bad.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d", bad.StatusCode)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/auth/logout", "viewer", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	after := e.do(t, http.MethodGet, "/api/auth/me", "viewer", nil)
	if after.StatusCode != http.StatusUnauthorized {
		t.Fatalf("me after logout = %d, want 401", after.StatusCode)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/notes", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestNoteLifecycleWithAudit(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/notes", "editor", map[string]string{
		"title": "Hello", "content": "World", "category": "general",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created domain.Item
	decode(t, resp, &created)
	if created.ID != 1 || created.Title != "Hello" {
		t.Fatalf("created = %+v", created)
	}

	upd := e.do(t, http.MethodPut, "/api/notes/1", "editor", map[string]string{
		"title": "Hello2", "content": "World", "category": "general",
	})
	if upd.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", upd.StatusCode)
	}

	get := e.do(t, http.MethodGet, "/api/notes/1", "viewer", nil)
	var fetched domain.Item
	decode(t, get, &fetched)
	if fetched.Title != "Hello2" || fetched.Content != "World" {
		t.Fatalf("fetched = %+v", fetched)
	}

	entries, err := e.audit.ListByItem("note", 1)
	if err != nil {
		t.Fatal(err)
	}
	var actions []string
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	if len(entries) != 2 {
		t.Fatalf("audit actions = %v, want one create and one edit", actions)
	}
	var sawCreate, sawEdit bool
	for _, entry := range entries {
		switch entry.Action {
		case "create":
			sawCreate = true
		case "edit":
			sawEdit = true
			if !strings.Contains(entry.Changes, "Hello2") {
				t.Fatalf("edit changes = %q, want title diff", entry.Changes)
			}
		}
	}
	if !sawCreate || !sawEdit {
		t.Fatalf("audit actions = %v", actions)
	}
}

func TestCreateEmitsBroadcastNotification(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/notes", "editor", map[string]string{
		"title": "Announce me", "content": "x", "category": "general",
	})

	resp := e.do(t, http.MethodGet, "/api/notifications", "viewer", nil)
	var out struct {
		Unread int `json:"unread"`
	}
	decode(t, resp, &out)
	if out.Unread != 1 {
		t.Fatalf("unread = %d, want 1", out.Unread)
	}
}

func TestRolePolicy(t *testing.T) {
	e := newTestEnv(t)

	if resp := e.do(t, http.MethodPost, "/api/notes", "viewer", map[string]string{
		"title": "nope", "content": "", "category": "general",
	}); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("viewer create = %d, want 403", resp.StatusCode)
	}

	e.do(t, http.MethodPost, "/api/notes", "editor", map[string]string{
		"title": "Keep", "content": "x", "category": "general",
	})
	if resp := e.do(t, http.MethodDelete, "/api/notes/1", "editor", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("editor delete = %d, want 403", resp.StatusCode)
	}
	if resp := e.do(t, http.MethodDelete, "/api/notes/1", "root", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("admin delete = %d, want 200", resp.StatusCode)
	}

	if resp := e.do(t, http.MethodGet, "/api/admin/users", "editor", nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("editor admin access = %d, want 403", resp.StatusCode)
	}
}

func TestEmptyTitleRejected(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/notes", "editor", map[string]string{
		"title": "<b></b>", "content": "x", "category": "general",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func multipartBody(t *testing.T, fields map[string]string, fileField, filename, fileContent string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, filename)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(fw, fileContent); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestAttachmentUploadDownloadAndOwnership(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/notes", "editor", map[string]string{
		"title": "One", "content": "x", "category": "general",
	})
	e.do(t, http.MethodPost, "/api/notes", "editor", map[string]string{
		"title": "Two", "content": "y", "category": "general",
	})

	body, contentType := multipartBody(t, nil, "file", "plan.txt", "the plan")
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/api/notes/1/attachments", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+e.tokens["editor"])
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var att domain.Attachment
	decode(t, resp, &att)
	if att.OriginalFilename != "plan.txt" {
		t.Fatalf("att = %+v", att)
	}

	download := e.do(t, http.MethodGet, "/api/notes/1/attachments/"+att.Filename, "viewer", nil)
	if download.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", download.StatusCode)
	}
	data, _ := io.ReadAll(download.Body)
	if string(data) != "the plan" {
		t.Fatalf("downloaded = %q", data)
	}

	// The same filename under the wrong item id must 404 and the file
	// must survive.
	wrong := e.do(t, http.MethodDelete, "/api/notes/2/attachments/"+att.Filename, "editor", nil)
	if wrong.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-item delete status = %d, want 404", wrong.StatusCode)
	}
	stillThere := e.do(t, http.MethodGet, "/api/notes/1/attachments/"+att.Filename, "viewer", nil)
	if stillThere.StatusCode != http.StatusOK {
		t.Fatal("file deleted through a foreign item id")
	}
}

func TestQuickSearchCapsResults(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 7; i++ {
		e.do(t, http.MethodPost, "/api/notes", "editor", map[string]string{
			"title": fmt.Sprintf("meeting %d", i), "content": "x", "category": "general",
		})
	}
	resp := e.do(t, http.MethodGet, "/api/search?q=meeting", "viewer", nil)
	var out struct {
		Notes []domain.Item `json:"notes"`
		Docs  []domain.Item `json:"docs"`
	}
	decode(t, resp, &out)
	if len(out.Notes) != 5 {
		t.Fatalf("notes = %d, want capped at 5", len(out.Notes))
	}
	if len(out.Docs) != 0 {
		t.Fatalf("docs = %d, want 0", len(out.Docs))
	}
}

func TestDashboard(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 7; i++ {
		e.do(t, http.MethodPost, "/api/notes", "editor", map[string]string{
			"title": fmt.Sprintf("note %d", i), "content": "x", "category": "general",
		})
	}
	e.do(t, http.MethodPost, "/api/docs", "editor", map[string]string{
		"title": "Handbook", "content": "y", "category": "general",
	})
	// Viewing note 3 twice should float it to the top of the projection.
	e.do(t, http.MethodPost, "/api/notes/3/view", "viewer", nil)
	e.do(t, http.MethodPost, "/api/notes/3/view", "viewer", nil)

	resp := e.do(t, http.MethodGet, "/api/dashboard", "viewer", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status = %d", resp.StatusCode)
	}
	var out struct {
		NoteCount   int           `json:"note_count"`
		DocCount    int           `json:"doc_count"`
		RecentNotes []domain.Item `json:"recent_notes"`
		RecentDocs  []domain.Item `json:"recent_docs"`
	}
	decode(t, resp, &out)
	if out.NoteCount != 7 || out.DocCount != 1 {
		t.Fatalf("counts = %d notes, %d docs", out.NoteCount, out.DocCount)
	}
	if len(out.RecentNotes) != 5 {
		t.Fatalf("recent notes = %d, want capped at 5", len(out.RecentNotes))
	}
	if out.RecentNotes[0].ID != 3 {
		t.Fatalf("top recent note = %d, want most viewed", out.RecentNotes[0].ID)
	}
	if len(out.RecentDocs) != 1 {
		t.Fatalf("recent docs = %d", len(out.RecentDocs))
	}
}

func TestEditLogsFilterByItem(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/notes", "editor", map[string]string{
		"title": "First", "content": "x", "category": "general",
	})
	e.do(t, http.MethodPost, "/api/notes", "editor", map[string]string{
		"title": "Second", "content": "y", "category": "general",
	})
	e.do(t, http.MethodPut, "/api/notes/2", "editor", map[string]string{
		"title": "Second v2", "content": "y", "category": "general",
	})

	resp := e.do(t, http.MethodGet, "/api/admin/edit-logs?item_type=note&item_id=2", "root", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit-logs status = %d", resp.StatusCode)
	}
	var out struct {
		Items []domain.AuditEntry `json:"items"`
		Count int                 `json:"count"`
	}
	decode(t, resp, &out)
	if out.Count != 2 {
		t.Fatalf("filtered entries = %d, want create and edit for item 2", out.Count)
	}
	for _, entry := range out.Items {
		if entry.ItemID != 2 || entry.ItemType != "note" {
			t.Fatalf("entry = %+v, want item 2 only", entry)
		}
	}
}

func TestChatSendListAndRead(t *testing.T) {
	e := newTestEnv(t)

	body, contentType := multipartBody(t, map[string]string{"message": "hello team"}, "", "", "")
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/api/chat/messages", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+e.tokens["editor"])
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d", resp.StatusCode)
	}
	var msg domain.ChatMessage
	decode(t, resp, &msg)
	if msg.Message != "hello team" || msg.ReceiverID != domain.GroupReceiverID {
		t.Fatalf("msg = %+v", msg)
	}

	list := e.do(t, http.MethodGet, "/api/chat/messages", "viewer", nil)
	var out struct {
		Messages []domain.ChatMessage `json:"messages"`
	}
	decode(t, list, &out)
	if len(out.Messages) != 1 {
		t.Fatalf("messages = %d", len(out.Messages))
	}

	read := e.do(t, http.MethodPost, "/api/chat/read", "viewer", map[string]int{"message_id": msg.ID})
	if read.StatusCode != http.StatusOK {
		t.Fatalf("read status = %d", read.StatusCode)
	}

	storageResp := e.do(t, http.MethodGet, "/api/chat/storage", "editor", nil)
	var info chat.StorageInfo
	decode(t, storageResp, &info)
	if info.LimitBytes != chat.StorageLimitBytes {
		t.Fatalf("limit = %d", info.LimitBytes)
	}
}

func TestChatDeleteOwnerOnly(t *testing.T) {
	e := newTestEnv(t)
	body, contentType := multipartBody(t, map[string]string{"message": "mine"}, "", "", "")
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/api/chat/messages", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+e.tokens["editor"])
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if del := e.do(t, http.MethodDelete, "/api/chat/messages/1", "viewer", nil); del.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign delete = %d, want 403", del.StatusCode)
	}
	if del := e.do(t, http.MethodDelete, "/api/chat/messages/1", "editor", nil); del.StatusCode != http.StatusOK {
		t.Fatalf("owner delete = %d, want 200", del.StatusCode)
	}
}

func TestNotificationsReadAll(t *testing.T) {
	e := newTestEnv(t)
	for i := 0; i < 3; i++ {
		resp := e.do(t, http.MethodPost, "/api/notifications", "root", map[string]any{
			"title": fmt.Sprintf("n%d", i), "message": "m",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create notification = %d", resp.StatusCode)
		}
	}
	resp := e.do(t, http.MethodPost, "/api/notifications/read-all", "viewer", nil)
	var marked struct {
		Marked int `json:"marked"`
	}
	decode(t, resp, &marked)
	if marked.Marked != 3 {
		t.Fatalf("marked = %d, want 3", marked.Marked)
	}

	after := e.do(t, http.MethodGet, "/api/notifications", "viewer", nil)
	var out struct {
		Unread int `json:"unread"`
	}
	decode(t, after, &out)
	if out.Unread != 0 {
		t.Fatalf("unread = %d, want 0", out.Unread)
	}
}

func TestAdminCategoryEndpoints(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/admin/categories", "root", map[string]string{"name": "Projects"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add status = %d", resp.StatusCode)
	}

	dup := e.do(t, http.MethodPost, "/api/admin/categories", "root", map[string]string{"name": "Projects"})
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", dup.StatusCode)
	}

	protected := e.do(t, http.MethodDelete, "/api/admin/categories?key=general", "root", nil)
	if protected.StatusCode != http.StatusForbidden {
		t.Fatalf("delete general = %d, want 403", protected.StatusCode)
	}

	rec := e.do(t, http.MethodPost, "/api/admin/categories/reconcile", "root", nil)
	if rec.StatusCode != http.StatusOK {
		t.Fatalf("reconcile status = %d", rec.StatusCode)
	}
}

func TestAdminUserManagement(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/admin/users", "root", map[string]string{
		"username": "newbie", "password": "pw", "role": "editor",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user = %d", resp.StatusCode)
	}
	var created domain.User
	decode(t, resp, &created)
	if created.Role != domain.RoleEditor {
		t.Fatalf("role = %q", created.Role)
	}

	deactivate := false
	upd := e.do(t, http.MethodPut, fmt.Sprintf("/api/admin/users/%d", created.ID), "root", map[string]any{
		"isActive": &deactivate,
	})
	if upd.StatusCode != http.StatusOK {
		t.Fatalf("update user = %d", upd.StatusCode)
	}

	rootUser, err := e.users.ByUsername("root")
	if err != nil {
		t.Fatal(err)
	}
	self := e.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/users/%d", rootUser.ID), "root", nil)
	if self.StatusCode != http.StatusBadRequest {
		t.Fatalf("self delete = %d, want 400", self.StatusCode)
	}
}

func TestExportAndImportEndpoints(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodPost, "/api/notes", "editor", map[string]string{
		"title": "Exported", "content": "body", "category": "general",
	})

	resp := e.do(t, http.MethodGet, "/api/admin/export", "root", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Fatalf("content type = %q", ct)
	}
	archive, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	// Import it back in merge mode.
	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/api/admin/import?mode=merge", bytes.NewReader(archive))
	req.Header.Set("Authorization", "Bearer "+e.tokens["root"])
	importResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer importResp.Body.Close()
	if importResp.StatusCode != http.StatusOK {
		t.Fatalf("import status = %d", importResp.StatusCode)
	}
	var report backup.Report
	decode(t, importResp, &report)
	if report.Notes != 1 || report.Users != 0 {
		t.Fatalf("report = %+v", report)
	}

	bad := e.do(t, http.MethodPost, "/api/admin/import?mode=replace", "root", "garbage")
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("garbage import = %d, want 400", bad.StatusCode)
	}
}
