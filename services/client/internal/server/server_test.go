package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"askova/pkg/domain"
	"askova/services/client/internal/app"
	"askova/services/client/internal/gateway"
	"askova/services/client/internal/store"
)

// newFixture wires the app against a memory store and a stub sync server that
// serves generation streams.
func newFixture(t *testing.T) (*Server, store.Store) {
	t.Helper()
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/generate" {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte("event: message\ndata: \"stub answer\"\n\n"))
			w.Write([]byte("event: done\ndata: {}\n\n"))
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(remote.Close)

	memStore := store.NewMemoryStore()
	appCore, err := app.New(app.Config{
		Store:   memStore,
		Gateway: gateway.NewClient(remote.URL),
	})
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	t.Cleanup(appCore.Shutdown)
	return New(Config{App: appCore}), memStore
}

func doJSON(t *testing.T, srv *Server, method, path string, payload any) *httptest.ResponseRecorder {
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
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newFixture(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
}

func TestAskCreatesQuizAndMessages(t *testing.T) {
	srv, memStore := newFixture(t)

	rec := doJSON(t, srv, http.MethodPost, "/api/ask", map[string]string{
		"question": "What is photosynthesis?",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("ask status %d: %s", rec.Code, rec.Body.String())
	}
	var res app.AskResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.QuizID == "" || res.UserMessageID == "" || res.PlaceholderID == "" {
		t.Fatalf("incomplete result: %+v", res)
	}

	ctx := context.Background()
	quiz, ok, err := memStore.GetQuiz(ctx, res.QuizID)
	if err != nil || !ok {
		t.Fatalf("quiz not stored: ok=%v err=%v", ok, err)
	}
	if quiz.Title != "What is photosynthesis?" {
		t.Fatalf("title not derived from question: %q", quiz.Title)
	}
	userMsg, ok, _ := memStore.GetMessage(ctx, res.UserMessageID)
	if !ok || userMsg.Status != domain.MessageDone || userMsg.Synced {
		t.Fatalf("user message wrong: %+v", userMsg)
	}

	// The stub stream completes; the placeholder converges to done.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg, ok, _ := memStore.GetMessage(ctx, res.PlaceholderID)
		if ok && msg.Status == domain.MessageDone {
			if msg.Content != "stub answer" {
				t.Fatalf("unexpected streamed content: %q", msg.Content)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("placeholder never reached done")
}

func TestAskRejectsEmptyQuestion(t *testing.T) {
	srv, _ := newFixture(t)
	rec := doJSON(t, srv, http.MethodPost, "/api/ask", map[string]string{"question": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty question status %d", rec.Code)
	}
}

func TestQuizCRUD(t *testing.T) {
	srv, memStore := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()
	quiz := domain.Quiz{
		ID: "q-1", Title: "Algebra", Owner: domain.Anonymous(),
		Status: domain.QuizIdle, CreatedAt: now, UpdatedAt: now, LastMessageAt: now,
	}
	if err := memStore.PutQuiz(ctx, quiz); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	rec := doJSON(t, srv, http.MethodGet, "/api/quizzes", nil)
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

	rec = doJSON(t, srv, http.MethodPatch, "/api/quizzes/q-1", map[string]string{"title": "Linear algebra"})
	if rec.Code != http.StatusOK {
		t.Fatalf("rename status %d: %s", rec.Code, rec.Body.String())
	}
	renamed, _, _ := memStore.GetQuiz(ctx, "q-1")
	if renamed.Title != "Linear algebra" {
		t.Fatalf("rename not applied: %q", renamed.Title)
	}
	if renamed.Synced {
		t.Fatalf("rename must mark quiz unsynced")
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/quizzes/q-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}

	rec = doJSON(t, srv, http.MethodDelete, "/api/quizzes/q-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status %d", rec.Code)
	}
	if _, ok, _ := memStore.GetQuiz(ctx, "q-1"); ok {
		t.Fatalf("quiz survived delete")
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/quizzes/q-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestUserRequiresCache(t *testing.T) {
	srv, _ := newFixture(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/user", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without cached identity, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newFixture(t)
	rec := doJSON(t, srv, http.MethodDelete, "/api/ask", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
