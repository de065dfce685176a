package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"askova/internal/ratelimit"
	"askova/pkg/ai"
	"askova/pkg/domain"
	"askova/services/server/internal/app"
	"askova/services/server/internal/store"
)

type scriptedGenerator struct {
	chunks []string
	err    error
}

func (g scriptedGenerator) StreamGenerate(_ context.Context, _ ai.GenerateRequest, onChunk func(string) error) error {
	for _, chunk := range g.chunks {
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	return g.err
}

func newFixture(t *testing.T, gen ai.StreamGenerator) *Server {
	t.Helper()
	sessions, err := store.NewJWTSessionStore("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	appCore, err := app.New(app.Config{
		Store:     store.NewMemoryStore(),
		Sessions:  sessions,
		Generator: gen,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return New(Config{App: appCore})
}

func doJSON(t *testing.T, srv *Server, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func registerUser(t *testing.T, srv *Server, email string) string {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": "Str0ng!Passw0rd",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", rec.Code, rec.Body.String())
	}
	var res struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil || res.Token == "" {
		t.Fatalf("decode register response: err=%v body=%s", err, rec.Body.String())
	}
	return res.Token
}

func quizPayload(id string) domain.Quiz {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return domain.Quiz{
		ID: id, Title: "Quiz " + id, Status: domain.QuizDone,
		CreatedAt: now, UpdatedAt: now, LastMessageAt: now,
	}
}

func TestAuthFlow(t *testing.T) {
	srv := newFixture(t, nil)
	token := registerUser(t, srv, "sam@example.com")

	rec := doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": "sam@example.com", "password": "Str0ng!Passw0rd",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate register status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "sam@example.com", "password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad login status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/user", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("user status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/auth/logout", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout status %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/user", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("logged-out token still accepted: %d", rec.Code)
	}
}

func TestSyncSurfaceRequiresToken(t *testing.T) {
	srv := newFixture(t, nil)
	for _, path := range []string{"/api/user", "/api/quizzes", "/api/messages"} {
		rec := doJSON(t, srv, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: status %d", path, rec.Code)
		}
	}
}

func TestQuizUpsertAndRead(t *testing.T) {
	srv := newFixture(t, nil)
	token := registerUser(t, srv, "sam@example.com")

	rec := doJSON(t, srv, http.MethodPost, "/api/quizzes", token, quizPayload("q-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert quiz status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/quizzes", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status %d", rec.Code)
	}
	var quizzes []domain.Quiz
	if err := json.Unmarshal(rec.Body.Bytes(), &quizzes); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(quizzes) != 1 || quizzes[0].ID != "q-1" {
		t.Fatalf("unexpected list: %+v", quizzes)
	}

	msg := domain.ChatMessage{
		ID: "m-1", QuizID: "q-1", Role: domain.RoleUser,
		Content: "hi", Status: domain.MessageDone, CreatedAt: time.Now().UTC(),
	}
	rec = doJSON(t, srv, http.MethodPost, "/api/messages", token, msg)
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert message status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/quizzes/q-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get quiz status %d", rec.Code)
	}
	var detail struct {
		Quiz     domain.Quiz          `json:"quiz"`
		Messages []domain.ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Quiz.ID != "q-1" || len(detail.Messages) != 1 {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	rec = doJSON(t, srv, http.MethodPatch, "/api/quizzes/q-1", token, map[string]string{"title": "Renamed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/quizzes/q-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/quizzes/q-1", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestQuizOwnershipOverHTTP(t *testing.T) {
	srv := newFixture(t, nil)
	alice := registerUser(t, srv, "alice@example.com")
	mallory := registerUser(t, srv, "mallory@example.com")

	rec := doJSON(t, srv, http.MethodPost, "/api/quizzes", alice, quizPayload("q-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("upsert quiz status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/quizzes", mallory, quizPayload("q-1"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign upsert status %d", rec.Code)
	}
	rec = doJSON(t, srv, http.MethodGet, "/api/quizzes/q-1", mallory, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign read status %d", rec.Code)
	}
}

func TestMessageRequiresParentQuiz(t *testing.T) {
	srv := newFixture(t, nil)
	token := registerUser(t, srv, "sam@example.com")
	msg := domain.ChatMessage{
		ID: "m-1", QuizID: "q-missing", Role: domain.RoleUser,
		Content: "hi", Status: domain.MessageDone, CreatedAt: time.Now().UTC(),
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/messages", token, msg)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("orphan message status %d", rec.Code)
	}
}

func TestGenerateStreamsEvents(t *testing.T) {
	srv := newFixture(t, scriptedGenerator{chunks: []string{"Water moves ", "by osmosis."}})

	rec := doJSON(t, srv, http.MethodPost, "/api/generate", "", map[string]any{
		"quizId": "q-1", "prompt": "explain osmosis",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("generate status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	want := "event: message\ndata: \"Water moves \"\n\n" +
		"event: message\ndata: \"by osmosis.\"\n\n" +
		"event: done\ndata: {}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("stream mismatch:\n got %q\nwant %q", rec.Body.String(), want)
	}
}

func TestGenerateSafetyError(t *testing.T) {
	srv := newFixture(t, scriptedGenerator{err: ai.ErrSafetyBlocked})

	rec := doJSON(t, srv, http.MethodPost, "/api/generate", "", map[string]any{
		"prompt": "nope",
	})
	want := "event: error\ndata: {\"message\":\"blocked by the provider safety filter\"}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("stream mismatch:\n got %q\nwant %q", rec.Body.String(), want)
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	srv := newFixture(t, scriptedGenerator{})
	rec := doJSON(t, srv, http.MethodPost, "/api/generate", "", map[string]any{"prompt": "  "})
	want := "event: error\ndata: {\"message\":\"generation failed\"}\n\n"
	if rec.Body.String() != want {
		t.Fatalf("stream mismatch:\n got %q\nwant %q", rec.Body.String(), want)
	}
}

func TestGenerateRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(mr.Addr(), "", "test:generate", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}

	sessions, err := store.NewJWTSessionStore("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	appCore, err := app.New(app.Config{
		Store:     store.NewMemoryStore(),
		Sessions:  sessions,
		Generator: scriptedGenerator{chunks: []string{"ok"}},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv := New(Config{App: appCore, GenerateLimits: limiter})

	first := doJSON(t, srv, http.MethodPost, "/api/generate", "", map[string]any{"prompt": "hi"})
	if first.Code != http.StatusOK {
		t.Fatalf("first request status %d", first.Code)
	}
	second := doJSON(t, srv, http.MethodPost, "/api/generate", "", map[string]any{"prompt": "hi"})
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status %d, want 429", second.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newFixture(t, nil)
	rec := doJSON(t, srv, http.MethodDelete, "/api/auth/login", "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
