package lifecycle

import (
	"context"
	"testing"
	"time"

	"askova/pkg/domain"
	"askova/services/client/internal/store"
)

func seedQuiz(t *testing.T, s store.Store) domain.Quiz {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	quiz := domain.Quiz{
		ID:            "q-1",
		Title:         "Cell biology",
		Owner:         domain.Anonymous(),
		Status:        domain.QuizIdle,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastMessageAt: now,
	}
	if err := s.PutQuiz(context.Background(), quiz); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}
	return quiz
}

func TestCreatePlaceholder(t *testing.T) {
	s := store.NewMemoryStore()
	ctrl := New(s)
	seedQuiz(t, s)

	msg, err := ctrl.CreatePlaceholder(context.Background(), "q-1")
	if err != nil {
		t.Fatalf("create placeholder: %v", err)
	}
	if msg.Role != domain.RoleModel || msg.Status != domain.MessageWaiting || msg.Content != "" {
		t.Fatalf("unexpected placeholder: %+v", msg)
	}
	quiz, _, err := s.GetQuiz(context.Background(), "q-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if quiz.Status != domain.QuizWaiting {
		t.Fatalf("quiz not marked waiting, got %s", quiz.Status)
	}
}

func TestAppendThenFinalize(t *testing.T) {
	s := store.NewMemoryStore()
	ctrl := New(s)
	seedQuiz(t, s)
	ctx := context.Background()

	msg, err := ctrl.CreatePlaceholder(ctx, "q-1")
	if err != nil {
		t.Fatalf("create placeholder: %v", err)
	}

	ctrl.AppendContent(ctx, msg.ID, "Mitochondria ")
	ctrl.AppendContent(ctx, msg.ID, "produce ATP.")

	got, _, err := s.GetMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got.Content != "Mitochondria produce ATP." {
		t.Fatalf("chunks out of order: %q", got.Content)
	}
	if got.Status != domain.MessageStreaming {
		t.Fatalf("first chunk should move waiting -> streaming, got %s", got.Status)
	}

	ctrl.Finalize(ctx, msg.ID, domain.MessageDone, "")
	got, _, _ = s.GetMessage(ctx, msg.ID)
	if got.Status != domain.MessageDone {
		t.Fatalf("finalize did not land, got %s", got.Status)
	}
	if got.Content != "Mitochondria produce ATP." {
		t.Fatalf("finalize without replacement changed content: %q", got.Content)
	}
	quiz, _, _ := s.GetQuiz(ctx, "q-1")
	if quiz.Status != domain.QuizDone {
		t.Fatalf("quiz status not mirrored, got %s", quiz.Status)
	}
}

func TestFinalizeErrorReplacesContent(t *testing.T) {
	s := store.NewMemoryStore()
	ctrl := New(s)
	seedQuiz(t, s)
	ctx := context.Background()

	msg, _ := ctrl.CreatePlaceholder(ctx, "q-1")
	ctrl.AppendContent(ctx, msg.ID, "partial out")
	ctrl.Finalize(ctx, msg.ID, domain.MessageError, "Error generating response. Please try again.")

	got, _, _ := s.GetMessage(ctx, msg.ID)
	if got.Status != domain.MessageError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if got.Content != "Error generating response. Please try again." {
		t.Fatalf("error replacement not applied: %q", got.Content)
	}
	quiz, _, _ := s.GetQuiz(ctx, "q-1")
	if quiz.Status != domain.QuizError {
		t.Fatalf("quiz error not mirrored, got %s", quiz.Status)
	}
}

func TestTerminalIsTerminal(t *testing.T) {
	s := store.NewMemoryStore()
	ctrl := New(s)
	seedQuiz(t, s)
	ctx := context.Background()

	msg, _ := ctrl.CreatePlaceholder(ctx, "q-1")
	ctrl.AppendContent(ctx, msg.ID, "answer")
	ctrl.Finalize(ctx, msg.ID, domain.MessageDone, "")

	// Late events after finalization must not disturb the record.
	ctrl.AppendContent(ctx, msg.ID, " trailing chunk")
	ctrl.Finalize(ctx, msg.ID, domain.MessageError, "late error")

	got, _, _ := s.GetMessage(ctx, msg.ID)
	if got.Status != domain.MessageDone || got.Content != "answer" {
		t.Fatalf("terminal message mutated: status=%s content=%q", got.Status, got.Content)
	}
}

func TestFinalizeRejectsNonTerminal(t *testing.T) {
	s := store.NewMemoryStore()
	ctrl := New(s)
	seedQuiz(t, s)
	ctx := context.Background()

	msg, _ := ctrl.CreatePlaceholder(ctx, "q-1")
	ctrl.Finalize(ctx, msg.ID, domain.MessageStreaming, "")

	got, _, _ := s.GetMessage(ctx, msg.ID)
	if got.Status != domain.MessageWaiting {
		t.Fatalf("non-terminal finalize should be ignored, got %s", got.Status)
	}
}
