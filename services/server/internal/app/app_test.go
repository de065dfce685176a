package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"askova/pkg/ai"
	"askova/pkg/domain"
	"askova/services/server/internal/store"
)

const testPassword = "Str0ng!Passw0rd"

func newTestApp(t *testing.T) *App {
	t.Helper()
	sessions, err := store.NewJWTSessionStore("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	a, err := New(Config{
		Store:     store.NewMemoryStore(),
		Sessions:  sessions,
		Generator: scriptedGenerator{chunks: []string{"scripted ", "answer"}},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

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

func register(t *testing.T, a *App, email string) (domain.User, string) {
	t.Helper()
	user, token, err := a.Register(email, testPassword)
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return user, token
}

func TestRegisterLoginLogout(t *testing.T) {
	a := newTestApp(t)
	user, token := register(t, a, "sam@example.com")
	if user.ID == "" || token == "" {
		t.Fatalf("incomplete registration: %+v token=%q", user, token)
	}

	if _, _, err := a.Register("sam@example.com", testPassword); !errors.Is(err, ErrEmailAlreadyExists) {
		t.Fatalf("duplicate registration: %v", err)
	}

	resolved, ok := a.UserFromToken(token)
	if !ok || resolved.ID != user.ID {
		t.Fatalf("token did not resolve to user: ok=%v %+v", ok, resolved)
	}

	if _, _, err := a.Login("sam@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}
	if _, _, err := a.Login("sam@example.com", testPassword); err != nil {
		t.Fatalf("login: %v", err)
	}

	if err := a.Logout(token); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, ok := a.UserFromToken(token); ok {
		t.Fatalf("token still valid after logout")
	}
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	a := newTestApp(t)
	if _, _, err := a.Register("sam@example.com", "short"); err == nil {
		t.Fatalf("expected weak password rejection")
	}
}

func seedQuiz(t *testing.T, a *App, user domain.User, id string) domain.Quiz {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	quiz := domain.Quiz{
		ID: id, Title: "Quiz " + id, Status: domain.QuizDone,
		CreatedAt: now, UpdatedAt: now, LastMessageAt: now,
	}
	if err := a.UpsertQuiz(user, quiz); err != nil {
		t.Fatalf("upsert quiz: %v", err)
	}
	return quiz
}

func TestOwnershipEnforcement(t *testing.T) {
	a := newTestApp(t)
	alice, _ := register(t, a, "alice@example.com")
	mallory, _ := register(t, a, "mallory@example.com")

	quiz := seedQuiz(t, a, alice, "q-1")

	// A different account cannot overwrite the quiz, read it, or attach
	// messages to it.
	if err := a.UpsertQuiz(mallory, quiz); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign quiz upsert: %v", err)
	}
	if _, _, err := a.GetQuizWithMessages(mallory, "q-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign quiz read: %v", err)
	}
	msg := domain.ChatMessage{
		ID: "m-1", QuizID: "q-1", Role: domain.RoleUser,
		Content: "hi", Status: domain.MessageDone,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.UpsertChatMessage(mallory, msg); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign message upsert: %v", err)
	}
	if err := a.DeleteQuiz(mallory, "q-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign quiz delete: %v", err)
	}

	// The owner can do all of it.
	if err := a.UpsertChatMessage(alice, msg); err != nil {
		t.Fatalf("owner message upsert: %v", err)
	}
	if _, msgs, err := a.GetQuizWithMessages(alice, "q-1"); err != nil || len(msgs) != 1 {
		t.Fatalf("owner read: err=%v msgs=%d", err, len(msgs))
	}
}

func TestUpsertMessageRequiresParentQuiz(t *testing.T) {
	a := newTestApp(t)
	alice, _ := register(t, a, "alice@example.com")
	msg := domain.ChatMessage{
		ID: "m-1", QuizID: "q-missing", Role: domain.RoleUser,
		Content: "hi", Status: domain.MessageDone, CreatedAt: time.Now().UTC(),
	}
	if err := a.UpsertChatMessage(alice, msg); !errors.Is(err, ErrQuizNotFound) {
		t.Fatalf("orphan message upsert: %v", err)
	}
}

func TestMessagesReadAsDone(t *testing.T) {
	a := newTestApp(t)
	alice, _ := register(t, a, "alice@example.com")
	seedQuiz(t, a, alice, "q-1")

	msg := domain.ChatMessage{
		ID: "m-1", QuizID: "q-1", Role: domain.RoleModel,
		Content: "Error generating response. Please try again.",
		Status:  domain.MessageError, CreatedAt: time.Now().UTC(),
	}
	if err := a.UpsertChatMessage(alice, msg); err != nil {
		t.Fatalf("upsert message: %v", err)
	}
	msgs, err := a.ListMessages(alice)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("list messages: err=%v n=%d", err, len(msgs))
	}
	if msgs[0].Status != domain.MessageDone {
		t.Fatalf("stored message should read as done, got %s", msgs[0].Status)
	}
}

func TestUserDataSnapshot(t *testing.T) {
	a := newTestApp(t)
	alice, _ := register(t, a, "alice@example.com")
	bob, _ := register(t, a, "bob@example.com")

	seedQuiz(t, a, alice, "q-alice")
	seedQuiz(t, a, bob, "q-bob")

	data, err := a.UserData(alice)
	if err != nil {
		t.Fatalf("user data: %v", err)
	}
	if data.User.ID != alice.ID {
		t.Fatalf("wrong user in snapshot: %+v", data.User)
	}
	if len(data.Quizzes) != 1 || data.Quizzes[0].ID != "q-alice" {
		t.Fatalf("snapshot leaked foreign quizzes: %+v", data.Quizzes)
	}
}

func TestGenerate(t *testing.T) {
	a := newTestApp(t)
	var got string
	err := a.Generate(context.Background(), GenerateRequest{Prompt: "explain"}, func(text string) error {
		got += text
		return nil
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "scripted answer" {
		t.Fatalf("unexpected output: %q", got)
	}

	if err := a.Generate(context.Background(), GenerateRequest{Prompt: "  "}, func(string) error { return nil }); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("empty prompt: %v", err)
	}
}
