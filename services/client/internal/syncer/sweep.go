package syncer

import (
	"context"
	"log/slog"
	"time"

	"askova/services/client/internal/store"
)

// Sweeper periodically rescans synced=false records and retries their
// upload. It is the supervising component behind fire-and-forget uploads:
// anything that failed its best-effort push gets another chance on the next
// tick instead of waiting for the next full bulk sync.
type Sweeper struct {
	engine   *Engine
	store    store.Store
	interval time.Duration
}

// NewSweeper builds a sweeper. interval <= 0 falls back to one minute.
func NewSweeper(engine *Engine, s store.Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{engine: engine, store: s, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep retries unsynced quizzes before unsynced messages so the parent
// record exists remotely by the time its children upload. Messages whose
// parent is still unsynced afterwards are left for the next tick.
func (s *Sweeper) sweep(ctx context.Context) {
	if !s.engine.remote.Authenticated() {
		return
	}
	quizzes, err := s.store.ListUnsyncedQuizzes(ctx)
	if err != nil {
		slog.Warn("sweep quiz scan failed", "err", err)
		return
	}
	for _, quiz := range quizzes {
		s.engine.SyncQuiz(ctx, quiz.ID)
	}
	msgs, err := s.store.ListUnsyncedMessages(ctx)
	if err != nil {
		slog.Warn("sweep message scan failed", "err", err)
		return
	}
	for _, msg := range msgs {
		// Skip in-flight model messages; only terminal content uploads.
		if !msg.Status.Terminal() {
			continue
		}
		if quiz, ok, err := s.store.GetQuiz(ctx, msg.QuizID); err != nil || !ok || !quiz.Synced {
			continue
		}
		s.engine.SyncMessage(ctx, msg.ID)
	}
}
