package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"askova/pkg/domain"
	"askova/services/client/internal/store"
)

// Remote is the slice of the gateway the sync engine needs. Satisfied by
// *gateway.Client.
type Remote interface {
	Authenticated() bool
	UpsertQuiz(ctx context.Context, quiz domain.Quiz) error
	UpsertChatMessage(ctx context.Context, msg domain.ChatMessage) error
	GetQuizzesByUser(ctx context.Context) ([]domain.Quiz, error)
	GetChatMessagesByUser(ctx context.Context) ([]domain.ChatMessage, error)
	GetUserData(ctx context.Context) (domain.UserData, error)
}

// Summary reports the outcome of one bulk sync run.
type Summary struct {
	UploadedQuizzes    int `json:"uploadedQuizzes"`
	FailedQuizzes      int `json:"failedQuizzes"`
	UploadedMessages   int `json:"uploadedMessages"`
	FailedMessages     int `json:"failedMessages"`
	SkippedMessages    int `json:"skippedMessages"`
	DownloadedQuizzes  int `json:"downloadedQuizzes"`
	DownloadedMessages int `json:"downloadedMessages"`
}

// Engine reconciles the local store against the remote store. Incremental
// uploads are best-effort and never block the caller's UI path; the bulk run
// is the five-phase upload-then-download algorithm.
type Engine struct {
	store  store.Store
	remote Remote
}

// New builds a sync engine.
func New(s store.Store, remote Remote) *Engine {
	return &Engine{store: s, remote: remote}
}

// SyncQuiz uploads one quiz. Failures are logged and leave synced=false for
// a later reconciliation pass.
func (e *Engine) SyncQuiz(ctx context.Context, id string) {
	if !e.remote.Authenticated() {
		return
	}
	quiz, ok, err := e.store.GetQuiz(ctx, id)
	if err != nil || !ok {
		if err != nil {
			slog.Warn("sync quiz load failed", "quiz_id", id, "err", err)
		}
		return
	}
	if err := e.remote.UpsertQuiz(ctx, quiz); err != nil {
		slog.Warn("quiz upload failed", "quiz_id", id, "err", err)
		return
	}
	e.markQuizSynced(ctx, id)
}

// SyncMessage uploads one message. The parent quiz is pushed first so the
// server's ownership check on the parent cannot reject the child.
func (e *Engine) SyncMessage(ctx context.Context, id string) {
	if !e.remote.Authenticated() {
		return
	}
	msg, ok, err := e.store.GetMessage(ctx, id)
	if err != nil || !ok {
		if err != nil {
			slog.Warn("sync message load failed", "message_id", id, "err", err)
		}
		return
	}
	if quiz, ok, err := e.store.GetQuiz(ctx, msg.QuizID); err == nil && ok && !quiz.Synced {
		e.SyncQuiz(ctx, quiz.ID)
	}
	if err := e.remote.UpsertChatMessage(ctx, msg); err != nil {
		slog.Warn("message upload failed", "message_id", id, "err", err)
		return
	}
	synced := true
	if _, err := e.store.UpdateMessage(ctx, id, store.MessageUpdate{Synced: &synced}); err != nil {
		slog.Warn("mark message synced failed", "message_id", id, "err", err)
	}
}

// BulkSync runs the full reconciliation: concurrent remote fetch, local
// fetch, concurrent upload of local-only quizzes, then of eligible local-only
// messages, then an unconditional download merge. Uploads within a phase
// settle independently; one record's failure never aborts the batch.
func (e *Engine) BulkSync(ctx context.Context) (Summary, error) {
	var summary Summary
	if !e.remote.Authenticated() {
		return summary, fmt.Errorf("bulk sync requires authentication")
	}

	// Phase 1: remote state, fetched concurrently.
	var (
		remoteQuizzes  []domain.Quiz
		remoteMessages []domain.ChatMessage
		userData       domain.UserData
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		remoteQuizzes, err = e.remote.GetQuizzesByUser(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		remoteMessages, err = e.remote.GetChatMessagesByUser(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		userData, err = e.remote.GetUserData(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return summary, fmt.Errorf("fetch remote state: %w", err)
	}

	// Phase 2: local state.
	localQuizzes, err := e.store.ListQuizzes(ctx)
	if err != nil {
		return summary, fmt.Errorf("list local quizzes: %w", err)
	}
	localMessages, err := e.store.ListMessages(ctx)
	if err != nil {
		return summary, fmt.Errorf("list local messages: %w", err)
	}

	remoteQuizIDs := make(map[string]bool, len(remoteQuizzes))
	for _, q := range remoteQuizzes {
		remoteQuizIDs[q.ID] = true
	}
	remoteMessageIDs := make(map[string]bool, len(remoteMessages))
	for _, m := range remoteMessages {
		remoteMessageIDs[m.ID] = true
	}

	// Phase 3: upload local-only quizzes concurrently, settling each item
	// independently.
	var quizzesToUpload []domain.Quiz
	for _, q := range localQuizzes {
		if !remoteQuizIDs[q.ID] {
			quizzesToUpload = append(quizzesToUpload, q)
		}
	}
	uploadedQuizIDs := e.settleQuizUploads(ctx, quizzesToUpload)
	summary.UploadedQuizzes = len(uploadedQuizIDs)
	summary.FailedQuizzes = len(quizzesToUpload) - len(uploadedQuizIDs)

	// Phase 4: messages become eligible only once their parent quiz is known
	// remote, either pre-existing or settled successfully above. Orphans are
	// skipped, not retried in this run.
	parentKnown := func(quizID string) bool {
		return remoteQuizIDs[quizID] || uploadedQuizIDs[quizID]
	}
	var messagesToUpload []domain.ChatMessage
	for _, m := range localMessages {
		if remoteMessageIDs[m.ID] {
			continue
		}
		if !parentKnown(m.QuizID) {
			summary.SkippedMessages++
			continue
		}
		messagesToUpload = append(messagesToUpload, m)
	}
	uploadedMessageIDs := e.settleMessageUploads(ctx, messagesToUpload)
	summary.UploadedMessages = len(uploadedMessageIDs)
	summary.FailedMessages = len(messagesToUpload) - len(uploadedMessageIDs)

	// Phase 5: unconditional download merge. Upsert by id, never a table
	// truncate, so unsynced local-only records survive. Server-resolved
	// records land done/synced.
	downloadQuizzes := make([]domain.Quiz, 0, len(remoteQuizzes))
	for _, q := range remoteQuizzes {
		q.Status = domain.QuizDone
		q.Synced = true
		downloadQuizzes = append(downloadQuizzes, q)
	}
	downloadMessages := make([]domain.ChatMessage, 0, len(remoteMessages))
	for _, m := range remoteMessages {
		m.Status = domain.MessageDone
		m.Synced = true
		downloadMessages = append(downloadMessages, m)
	}
	if err := e.store.BulkPutQuizzes(ctx, downloadQuizzes); err != nil {
		return summary, fmt.Errorf("merge remote quizzes: %w", err)
	}
	if err := e.store.BulkPutMessages(ctx, downloadMessages); err != nil {
		return summary, fmt.Errorf("merge remote messages: %w", err)
	}
	summary.DownloadedQuizzes = len(downloadQuizzes)
	summary.DownloadedMessages = len(downloadMessages)

	userData.Quizzes = downloadQuizzes
	userData.Messages = downloadMessages
	if err := e.store.PutUserCache(ctx, userData); err != nil {
		slog.Warn("refresh user cache failed", "err", err)
	}

	slog.Info("bulk sync finished",
		"uploaded_quizzes", summary.UploadedQuizzes,
		"failed_quizzes", summary.FailedQuizzes,
		"uploaded_messages", summary.UploadedMessages,
		"failed_messages", summary.FailedMessages,
		"skipped_messages", summary.SkippedMessages,
		"downloaded_quizzes", summary.DownloadedQuizzes,
		"downloaded_messages", summary.DownloadedMessages,
	)
	return summary, nil
}

// settleQuizUploads uploads every quiz concurrently and returns the set of
// ids that succeeded. Failures are recorded, never propagated.
func (e *Engine) settleQuizUploads(ctx context.Context, quizzes []domain.Quiz) map[string]bool {
	uploaded := make(map[string]bool, len(quizzes))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, quiz := range quizzes {
		wg.Add(1)
		go func(q domain.Quiz) {
			defer wg.Done()
			if err := e.remote.UpsertQuiz(ctx, q); err != nil {
				slog.Warn("bulk quiz upload failed", "quiz_id", q.ID, "err", err)
				return
			}
			mu.Lock()
			uploaded[q.ID] = true
			mu.Unlock()
			e.markQuizSynced(ctx, q.ID)
		}(quiz)
	}
	wg.Wait()
	return uploaded
}

// settleMessageUploads mirrors settleQuizUploads for messages.
func (e *Engine) settleMessageUploads(ctx context.Context, msgs []domain.ChatMessage) map[string]bool {
	uploaded := make(map[string]bool, len(msgs))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, msg := range msgs {
		wg.Add(1)
		go func(m domain.ChatMessage) {
			defer wg.Done()
			if err := e.remote.UpsertChatMessage(ctx, m); err != nil {
				slog.Warn("bulk message upload failed", "message_id", m.ID, "err", err)
				return
			}
			mu.Lock()
			uploaded[m.ID] = true
			mu.Unlock()
			synced := true
			if _, err := e.store.UpdateMessage(ctx, m.ID, store.MessageUpdate{Synced: &synced}); err != nil {
				slog.Warn("mark message synced failed", "message_id", m.ID, "err", err)
			}
		}(msg)
	}
	wg.Wait()
	return uploaded
}

func (e *Engine) markQuizSynced(ctx context.Context, id string) {
	synced := true
	if _, err := e.store.UpdateQuiz(ctx, id, store.QuizUpdate{Synced: &synced}); err != nil {
		slog.Warn("mark quiz synced failed", "quiz_id", id, "err", err)
	}
}
