package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"askova/internal/util"
	"askova/pkg/domain"
	"askova/services/client/internal/store"
)

// Controller owns the per-message status state machine for model messages
// (waiting -> streaming -> done | error) and mirrors each transition onto the
// parent quiz so the session list can show generation progress without
// polling the message table. All side effects stay in the local store; the
// sync engine picks finalized records up separately.
type Controller struct {
	store store.Store
}

// New builds a controller over the local store.
func New(s store.Store) *Controller {
	return &Controller{store: s}
}

// CreatePlaceholder writes an empty waiting model message for quizID and
// marks the quiz waiting. Returns the new message.
func (c *Controller) CreatePlaceholder(ctx context.Context, quizID string) (domain.ChatMessage, error) {
	now := time.Now().UTC()
	msg := domain.ChatMessage{
		ID:        util.NewID(),
		QuizID:    quizID,
		Role:      domain.RoleModel,
		Content:   "",
		Status:    domain.MessageWaiting,
		Synced:    false,
		CreatedAt: now,
	}
	if err := c.store.PutMessage(ctx, msg); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("create placeholder: %w", err)
	}
	c.mirrorQuiz(ctx, quizID, domain.QuizWaiting, now)
	return msg, nil
}

// AppendContent concatenates chunk onto the message in arrival order. The
// first chunk moves waiting -> streaming. A message that no longer exists or
// already reached a terminal status is logged and skipped, never an error:
// deletion can race a live stream.
func (c *Controller) AppendContent(ctx context.Context, id string, chunk string) {
	hit, err := c.store.AppendMessageContent(ctx, id, chunk)
	if err != nil {
		slog.Warn("append content failed", "message_id", id, "err", err)
		return
	}
	if !hit {
		slog.Debug("append to missing or finalized message skipped", "message_id", id)
		return
	}
	if msg, ok, err := c.store.GetMessage(ctx, id); err == nil && ok {
		c.mirrorQuiz(ctx, msg.QuizID, domain.QuizWaiting, time.Now().UTC())
	}
}

// Finalize sets a terminal status. When replacement is non-empty the content
// is replaced wholesale (used for error text) instead of appended. Finalizing
// an already-terminal or missing message is a no-op.
func (c *Controller) Finalize(ctx context.Context, id string, status domain.MessageStatus, replacement string) {
	if !status.Terminal() {
		slog.Warn("finalize called with non-terminal status", "message_id", id, "status", status)
		return
	}
	msg, ok, err := c.store.GetMessage(ctx, id)
	if err != nil {
		slog.Warn("finalize load failed", "message_id", id, "err", err)
		return
	}
	if !ok {
		slog.Debug("finalize of missing message skipped", "message_id", id)
		return
	}
	if msg.Status.Terminal() {
		return
	}
	update := store.MessageUpdate{Status: &status}
	if replacement != "" {
		update.Content = &replacement
	}
	if _, err := c.store.UpdateMessage(ctx, id, update); err != nil {
		slog.Warn("finalize update failed", "message_id", id, "err", err)
		return
	}
	quizStatus := domain.QuizDone
	if status == domain.MessageError {
		quizStatus = domain.QuizError
	}
	c.mirrorQuiz(ctx, msg.QuizID, quizStatus, time.Now().UTC())
}

// mirrorQuiz pushes message progress onto the parent quiz. updatedAt and
// lastMessageAt only move forward.
func (c *Controller) mirrorQuiz(ctx context.Context, quizID string, status domain.QuizStatus, at time.Time) {
	quiz, ok, err := c.store.GetQuiz(ctx, quizID)
	if err != nil || !ok {
		if err != nil {
			slog.Warn("mirror quiz load failed", "quiz_id", quizID, "err", err)
		}
		return
	}
	update := store.QuizUpdate{Status: &status}
	if at.After(quiz.UpdatedAt) {
		update.UpdatedAt = &at
	}
	if at.After(quiz.LastMessageAt) {
		update.LastMessageAt = &at
	}
	if _, err := c.store.UpdateQuiz(ctx, quizID, update); err != nil {
		slog.Warn("mirror quiz update failed", "quiz_id", quizID, "err", err)
	}
}
