package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"taskhub/api/internal/store"
)

type testServer struct {
	*testEnv
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	env := newTestService(t)
	srv := NewHTTPServer(env.svc, "*", nil, zerolog.Nop())
	return &testServer{testEnv: env, handler: srv.Handler()}
}

func (ts *testServer) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewBuffer(raw)
	} else {
		payload = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

// sessionToken seeds a user mapped in the directory and returns a live
// access token for them.
func (ts *testServer) sessionToken(t *testing.T, email, role, domain string) string {
	t.Helper()
	id := "usr_" + email
	ts.seedUser(id, email, email, role, domain)
	switch role {
	case "admin", "super-admin":
		ts.store.specials[email] = role
	case "domain-lead":
		if _, ok := ts.store.domains[domain]; !ok {
			ts.seedDomain(domain, email)
		}
	default:
		existing := ts.store.domains[domain]
		if existing.Name == "" {
			ts.seedDomain(domain, "lead@"+domain+".test", email)
		} else {
			existing.Members = append(existing.Members, email)
			ts.store.domains[domain] = existing
		}
	}
	session, err := ts.svc.CreateSession(context.Background(), id)
	if err != nil {
		t.Fatalf("create session for %s: %v", email, err)
	}
	return session.Token
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = ts.request(t, http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	ts.store.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rec = ts.request(t, http.MethodGet, "/api/ready", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeResponse(t, rec)
	if body["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", body["status"])
	}
}

func TestRequireSession(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/tasks", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = ts.request(t, http.MethodGet, "/api/tasks", "garbage-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rec.Code, rec.Body.String())
	}

	// The anonymous session probe never 401s.
	rec = ts.request(t, http.MethodGet, "/api/session", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if body := decodeResponse(t, rec); body["authenticated"] != false {
		t.Fatalf("expected authenticated=false, got %v", body)
	}
}

func TestSignUpAndSignInFlow(t *testing.T) {
	ts := newTestServer(t)

	// SMTP is not configured, so the verification token comes back inline.
	rec := ts.request(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "ana@example.com", "password": "hunter2hunter2", "displayName": "Ana",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeResponse(t, rec)
	verifyToken, _ := body["devVerificationToken"].(string)
	if verifyToken == "" {
		t.Fatalf("expected a dev verification token, got %v", body)
	}

	// Duplicate email is a conflict.
	rec = ts.request(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "ana@example.com", "password": "hunter2hunter2", "displayName": "Ana",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d body=%s", rec.Code, rec.Body.String())
	}

	// Signing in before verification is refused.
	rec = ts.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "ana@example.com", "password": "hunter2hunter2",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rec.Code, rec.Body.String())
	}
	if body := decodeResponse(t, rec); body["code"] != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("expected EMAIL_NOT_VERIFIED, got %v", body)
	}

	rec = ts.request(t, http.MethodPost, "/api/auth/verify-email", "", map[string]string{"token": verifyToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	// Verified but not in the directory: still no session.
	rec = ts.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "ana@example.com", "password": "hunter2hunter2",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rec.Code, rec.Body.String())
	}
	if body := decodeResponse(t, rec); body["code"] != "NOT_IN_DIRECTORY" {
		t.Fatalf("expected NOT_IN_DIRECTORY, got %v", body)
	}

	// Once rostered, sign-in succeeds with resolved role and domain.
	ts.seedDomain("web", "lead@example.com", "ana@example.com")
	rec = ts.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "ana@example.com", "password": "hunter2hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	body = decodeResponse(t, rec)
	if body["role"] != "member" || body["domain"] != "web" {
		t.Fatalf("expected member/web, got %v", body)
	}
	accessToken, _ := body["accessToken"].(string)
	if accessToken == "" {
		t.Fatalf("expected an access token")
	}

	// Wrong password stays a generic 401.
	rec = ts.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "ana@example.com", "password": "wrong-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d body=%s", rec.Code, rec.Body.String())
	}

	// The session probe recognizes the token.
	rec = ts.request(t, http.MethodGet, "/api/session", accessToken, nil)
	body = decodeResponse(t, rec)
	if body["authenticated"] != true || body["email"] != "ana@example.com" {
		t.Fatalf("expected an authenticated probe, got %v", body)
	}
}

func TestAuthRateLimit(t *testing.T) {
	ts := newTestServer(t)

	var last int
	for i := 0; i < 11; i++ {
		rec := ts.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
			"email": "nobody@example.com", "password": "nope",
		})
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected the 11th attempt to get 429, got %d", last)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	leadToken := ts.sessionToken(t, "lead@example.com", "domain-lead", "web")
	adminToken := ts.sessionToken(t, "admin@example.com", "admin", "")

	domain := ts.store.domains["web"]
	domain.Members = append(domain.Members, "ana@example.com")
	ts.store.domains["web"] = domain
	memberToken := ts.sessionToken(t, "ana@example.com", "member", "web")

	rec := ts.request(t, http.MethodPost, "/api/tasks", leadToken, map[string]any{
		"title": "Ship the release", "domain": "web", "assignees": []string{"ana@example.com"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	created := decodeResponse(t, rec)["task"].(map[string]any)
	taskID := created["id"].(string)

	// Members may not create tasks.
	rec = ts.request(t, http.MethodPost, "/api/tasks", memberToken, map[string]any{
		"title": "Nope", "domain": "web", "assignees": []string{"ana@example.com"},
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rec.Code, rec.Body.String())
	}

	// The assignee sees the task and submits work.
	rec = ts.request(t, http.MethodGet, "/api/tasks", memberToken, nil)
	tasks := decodeResponse(t, rec)["tasks"].([]any)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 visible task, got %d", len(tasks))
	}

	rec = ts.request(t, http.MethodPost, "/api/tasks/"+taskID+"/submissions", memberToken, map[string]string{
		"contentKey": "submissions/report.pdf", "note": "done",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	submission := decodeResponse(t, rec)["submission"].(map[string]any)
	submissionID := submission["id"].(string)

	// The admin rates it; the author cannot.
	rec = ts.request(t, http.MethodPost, "/api/tasks/"+taskID+"/submissions/"+submissionID+"/rating", memberToken, map[string]int{"score": 5})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = ts.request(t, http.MethodPost, "/api/tasks/"+taskID+"/submissions/"+submissionID+"/rating", adminToken, map[string]int{"score": 4})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	// The leaderboard now carries the author.
	rec = ts.request(t, http.MethodGet, "/api/leaderboard", memberToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	entries := decodeResponse(t, rec)["leaderboard"].([]any)
	if len(entries) != 1 {
		t.Fatalf("expected 1 leaderboard entry, got %d", len(entries))
	}
	entry := entries[0].(map[string]any)
	if entry["email"] != "ana@example.com" || entry["averageScore"] != 4.0 {
		t.Fatalf("unexpected entry %v", entry)
	}

	// Unknown task ids map to 404.
	rec = ts.request(t, http.MethodGet, "/api/tasks/task_missing", adminToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestActivityLogEndpoint(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.sessionToken(t, "admin@example.com", "admin", "")
	memberToken := ts.sessionToken(t, "ana@example.com", "member", "web")

	ts.store.mu.Lock()
	ts.store.logs = append(ts.store.logs, store.LogEntry{ID: 1, Message: "seeded"})
	ts.store.mu.Unlock()

	rec := ts.request(t, http.MethodGet, "/api/logs", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeResponse(t, rec)
	if _, ok := body["entries"].([]any); !ok {
		t.Fatalf("expected an entries array, got %v", body)
	}
	if _, ok := body["hasMore"]; !ok {
		t.Fatalf("expected hasMore in the page, got %v", body)
	}

	rec = ts.request(t, http.MethodGet, "/api/logs", memberToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAnnouncementRoutes(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.sessionToken(t, "admin@example.com", "admin", "")
	memberToken := ts.sessionToken(t, "ana@example.com", "member", "web")

	rec := ts.request(t, http.MethodPost, "/api/announcements", adminToken, map[string]string{
		"title": "Maintenance window", "content": "Saturday 02:00 UTC", "audience": "everyone",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rec.Code, rec.Body.String())
	}
	announcement := decodeResponse(t, rec)["announcement"].(map[string]any)
	id := announcement["id"].(string)

	// Drafts are hidden from members.
	rec = ts.request(t, http.MethodGet, "/api/announcements", memberToken, nil)
	if list := decodeResponse(t, rec)["announcements"].([]any); len(list) != 0 {
		t.Fatalf("expected no visible announcements, got %d", len(list))
	}

	rec = ts.request(t, http.MethodPut, "/api/announcements/"+id+"/status", adminToken, map[string]string{"status": "published"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = ts.request(t, http.MethodGet, "/api/announcements", memberToken, nil)
	if list := decodeResponse(t, rec)["announcements"].([]any); len(list) != 1 {
		t.Fatalf("expected 1 visible announcement, got %d", len(list))
	}

	// A lifecycle regression surfaces as 422.
	rec = ts.request(t, http.MethodPut, "/api/announcements/"+id+"/status", adminToken, map[string]string{"status": "draft"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body=%s", rec.Code, rec.Body.String())
	}

	// Members cannot manage announcements.
	rec = ts.request(t, http.MethodPost, "/api/announcements", memberToken, map[string]string{"title": "Nope"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestDirectoryAdminRoutes(t *testing.T) {
	ts := newTestServer(t)
	adminToken := ts.sessionToken(t, "admin@example.com", "admin", "")
	memberToken := ts.sessionToken(t, "ana@example.com", "member", "web")

	rec := ts.request(t, http.MethodPost, "/api/admin/domains", adminToken, map[string]any{
		"name": "mobile", "lead": "mlead@example.com", "members": []string{"bruno@example.com"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rec.Code, rec.Body.String())
	}

	// Cross-domain membership is refused.
	rec = ts.request(t, http.MethodPost, "/api/admin/domains/web/members", adminToken, map[string]string{"email": "bruno@example.com"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = ts.request(t, http.MethodGet, "/api/admin/directory", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeResponse(t, rec)
	if _, ok := body["domains"].([]any); !ok {
		t.Fatalf("expected a domains array, got %v", body)
	}

	rec = ts.request(t, http.MethodGet, "/api/admin/directory", memberToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUploadsRoute(t *testing.T) {
	ts := newTestServer(t)
	leadToken := ts.sessionToken(t, "lead@example.com", "domain-lead", "web")
	memberToken := ts.sessionToken(t, "ana@example.com", "member", "web")

	rec := ts.request(t, http.MethodPost, "/api/uploads", leadToken, map[string]string{
		"folder": "tasks", "filename": "brief.pdf",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeResponse(t, rec)
	if body["key"] == "" || body["uploadUrl"] == "" {
		t.Fatalf("expected key and uploadUrl, got %v", body)
	}

	// Members cannot presign task attachments, only submissions.
	rec = ts.request(t, http.MethodPost, "/api/uploads", memberToken, map[string]string{
		"folder": "tasks", "filename": "brief.pdf",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d body=%s", rec.Code, rec.Body.String())
	}
	rec = ts.request(t, http.MethodPost, "/api/uploads", memberToken, map[string]string{
		"folder": "submissions", "filename": "work.zip",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestSearchRouteWithTypeFilter(t *testing.T) {
	ts := newTestServer(t)
	token := ts.sessionToken(t, "ana@web.test", "member", "web")

	rec := ts.request(t, http.MethodGet, "/api/search?q=widget&type=tasks", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeResponse(t, rec)
	results, ok := body["results"].([]any)
	if !ok {
		t.Fatalf("expected a results array, got %v", body["results"])
	}
	if len(results) != 0 {
		t.Fatalf("expected no results without a search backend, got %d", len(results))
	}
}
