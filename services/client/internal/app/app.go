package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"askova/internal/util"
	"askova/pkg/ai"
	"askova/pkg/domain"
	"askova/services/client/internal/gateway"
	"askova/services/client/internal/lifecycle"
	"askova/services/client/internal/store"
	"askova/services/client/internal/stream"
	"askova/services/client/internal/syncer"
)

const untitledQuiz = "New quiz"

// Config wires the client engine's collaborators.
type Config struct {
	Store     store.Store
	Gateway   *gateway.Client
	DBPath    string
	ServerURL string
}

// App orchestrates the local-first flow: optimistic local writes, streaming
// ingestion, and opportunistic sync.
type App struct {
	store    store.Store
	gw       *gateway.Client
	ctrl     *lifecycle.Controller
	pipeline *stream.Pipeline
	engine   *syncer.Engine
}

// AskResult identifies the records created by one Ask call.
type AskResult struct {
	QuizID        string `json:"quizId"`
	UserMessageID string `json:"userMessageId"`
	PlaceholderID string `json:"placeholderId"`
}

// New constructs the client engine. When cfg.Store is nil a SQLite store is
// opened at cfg.DBPath.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("local database path required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
	}
	gw := cfg.Gateway
	if gw == nil {
		if cfg.ServerURL == "" {
			return nil, fmt.Errorf("server URL required")
		}
		gw = gateway.NewClient(cfg.ServerURL)
	}
	ctrl := lifecycle.New(dataStore)
	engine := syncer.New(dataStore, gw)
	pipeline := stream.New(gw, ctrl, engine)
	return &App{
		store:    dataStore,
		gw:       gw,
		ctrl:     ctrl,
		pipeline: pipeline,
		engine:   engine,
	}, nil
}

// Store exposes the local store for live-query subscriptions.
func (a *App) Store() store.Store { return a.store }

// Engine exposes the sync engine for the reconciliation sweeper.
func (a *App) Engine() *syncer.Engine { return a.engine }

// Ask records the user's question optimistically, allocates the model
// placeholder, fires best-effort uploads, and starts the generation channel.
// An empty quizID starts a new quiz titled after the question.
func (a *App) Ask(ctx context.Context, quizID, question string) (AskResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return AskResult{}, ErrEmptyQuestion
	}
	now := time.Now().UTC()

	var quiz domain.Quiz
	if quizID == "" {
		quiz = domain.Quiz{
			ID:            util.NewID(),
			Title:         deriveTitle(question),
			Owner:         a.currentOwnership(ctx),
			Status:        domain.QuizWaiting,
			Synced:        false,
			CreatedAt:     now,
			UpdatedAt:     now,
			LastMessageAt: now,
		}
		if err := a.store.PutQuiz(ctx, quiz); err != nil {
			return AskResult{}, fmt.Errorf("create quiz: %w", err)
		}
	} else {
		var ok bool
		var err error
		quiz, ok, err = a.store.GetQuiz(ctx, quizID)
		if err != nil {
			return AskResult{}, fmt.Errorf("load quiz: %w", err)
		}
		if !ok {
			return AskResult{}, ErrQuizNotFound
		}
		status := domain.QuizWaiting
		if _, err := a.store.UpdateQuiz(ctx, quiz.ID, store.QuizUpdate{
			Status:        &status,
			UpdatedAt:     &now,
			LastMessageAt: &now,
		}); err != nil {
			return AskResult{}, fmt.Errorf("update quiz: %w", err)
		}
	}

	userMsg := domain.ChatMessage{
		ID:        util.NewID(),
		QuizID:    quiz.ID,
		Role:      domain.RoleUser,
		Content:   question,
		Status:    domain.MessageDone,
		Synced:    false,
		CreatedAt: now,
	}
	if err := a.store.PutMessage(ctx, userMsg); err != nil {
		return AskResult{}, fmt.Errorf("save user message: %w", err)
	}

	history, err := a.buildHistory(ctx, quiz.ID, userMsg.ID)
	if err != nil {
		return AskResult{}, err
	}

	placeholder, err := a.ctrl.CreatePlaceholder(ctx, quiz.ID)
	if err != nil {
		return AskResult{}, err
	}

	// Fire-and-forget uploads of the optimistic writes. Failures leave
	// synced=false and are retried by the sweeper.
	if a.gw.Authenticated() {
		go func() {
			bg := context.Background()
			a.engine.SyncQuiz(bg, quiz.ID)
			a.engine.SyncMessage(bg, userMsg.ID)
		}()
	}

	a.pipeline.Start(gateway.GenerateRequest{
		QuizID:  quiz.ID,
		History: history,
		Prompt:  question,
	}, placeholder.ID)

	return AskResult{
		QuizID:        quiz.ID,
		UserMessageID: userMsg.ID,
		PlaceholderID: placeholder.ID,
	}, nil
}

// CancelGeneration aborts the quiz's in-flight channel, if any.
func (a *App) CancelGeneration(quizID string) {
	a.pipeline.Cancel(quizID)
}

// Shutdown cancels every in-flight channel.
func (a *App) Shutdown() {
	a.pipeline.CancelAll()
}

// ListQuizzes returns all local quizzes, most recently active first.
func (a *App) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	return a.store.ListQuizzes(ctx)
}

// GetQuiz returns one quiz with its ordered messages.
func (a *App) GetQuiz(ctx context.Context, id string) (domain.Quiz, []domain.ChatMessage, error) {
	quiz, ok, err := a.store.GetQuiz(ctx, id)
	if err != nil {
		return domain.Quiz{}, nil, err
	}
	if !ok {
		return domain.Quiz{}, nil, ErrQuizNotFound
	}
	msgs, err := a.store.ListMessagesByQuiz(ctx, id)
	if err != nil {
		return domain.Quiz{}, nil, err
	}
	return quiz, msgs, nil
}

// RenameQuiz updates the title locally and syncs best-effort.
func (a *App) RenameQuiz(ctx context.Context, id, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		title = untitledQuiz
	}
	now := time.Now().UTC()
	synced := false
	hit, err := a.store.UpdateQuiz(ctx, id, store.QuizUpdate{
		Title:     &title,
		Synced:    &synced,
		UpdatedAt: &now,
	})
	if err != nil {
		return err
	}
	if !hit {
		return ErrQuizNotFound
	}
	if a.gw.Authenticated() {
		go a.engine.SyncQuiz(context.Background(), id)
	}
	return nil
}

// DeleteQuiz cancels any in-flight generation, removes the quiz and its
// messages locally in one transaction, and deletes remotely best-effort.
func (a *App) DeleteQuiz(ctx context.Context, id string) error {
	a.pipeline.Cancel(id)
	if err := a.store.DeleteQuiz(ctx, id); err != nil {
		return err
	}
	if a.gw.Authenticated() {
		go func() {
			if err := a.gw.DeleteQuiz(context.Background(), id); err != nil {
				slog.Warn("remote quiz delete failed", "quiz_id", id, "err", err)
			}
		}()
	}
	return nil
}

// Login authenticates, claims anonymous local quizzes for the user, and runs
// a full bulk sync.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, syncer.Summary, error) {
	token, user, err := a.gw.Login(ctx, email, password)
	if err != nil {
		return domain.User{}, syncer.Summary{}, err
	}
	return a.adoptSession(ctx, token, user)
}

// Register creates an account and then behaves like Login.
func (a *App) Register(ctx context.Context, email, password string) (domain.User, syncer.Summary, error) {
	token, user, err := a.gw.Register(ctx, email, password)
	if err != nil {
		return domain.User{}, syncer.Summary{}, err
	}
	return a.adoptSession(ctx, token, user)
}

func (a *App) adoptSession(ctx context.Context, token string, user domain.User) (domain.User, syncer.Summary, error) {
	a.gw.SetToken(token)
	if err := a.claimAnonymousQuizzes(ctx, user.ID); err != nil {
		return user, syncer.Summary{}, err
	}
	summary, err := a.engine.BulkSync(ctx)
	if err != nil {
		return user, summary, fmt.Errorf("bulk sync: %w", err)
	}
	return user, summary, nil
}

// claimAnonymousQuizzes attaches ownership to every pre-auth quiz, exactly
// once per quiz. Quizzes already owned by someone else are left alone.
func (a *App) claimAnonymousQuizzes(ctx context.Context, userID string) error {
	quizzes, err := a.store.ListQuizzes(ctx)
	if err != nil {
		return fmt.Errorf("list quizzes: %w", err)
	}
	for _, quiz := range quizzes {
		claimed, err := quiz.Owner.Claim(userID)
		if err != nil {
			slog.Warn("quiz owned by another user, not claimed", "quiz_id", quiz.ID)
			continue
		}
		if claimed == quiz.Owner {
			continue
		}
		synced := false
		if _, err := a.store.UpdateQuiz(ctx, quiz.ID, store.QuizUpdate{
			Owner:  &claimed,
			Synced: &synced,
		}); err != nil {
			return fmt.Errorf("claim quiz %s: %w", quiz.ID, err)
		}
	}
	return nil
}

// Logout invalidates the session best-effort and wipes all local data.
func (a *App) Logout(ctx context.Context) error {
	if a.gw.Authenticated() {
		if err := a.gw.Logout(ctx); err != nil {
			slog.Warn("remote logout failed", "err", err)
		}
	}
	a.gw.SetToken("")
	a.pipeline.CancelAll()
	return a.store.Clear(ctx)
}

// UserData returns the cached identity snapshot.
func (a *App) UserData(ctx context.Context) (domain.UserData, error) {
	data, ok, err := a.store.GetUserCache(ctx)
	if err != nil {
		return domain.UserData{}, err
	}
	if !ok {
		return domain.UserData{}, ErrNotAuthenticated
	}
	return data, nil
}

// BulkSync re-runs the full reconciliation on demand.
func (a *App) BulkSync(ctx context.Context) (syncer.Summary, error) {
	return a.engine.BulkSync(ctx)
}

func (a *App) currentOwnership(ctx context.Context) domain.Ownership {
	if !a.gw.Authenticated() {
		return domain.Anonymous()
	}
	data, ok, err := a.store.GetUserCache(ctx)
	if err != nil || !ok {
		return domain.Anonymous()
	}
	return domain.OwnedBy(data.User.ID)
}

// buildHistory assembles prior turns in conversation order, excluding the
// just-written user message (it travels separately as the prompt).
func (a *App) buildHistory(ctx context.Context, quizID, latestUserMessageID string) ([]ai.Turn, error) {
	msgs, err := a.store.ListMessagesByQuiz(ctx, quizID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]ai.Turn, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == latestUserMessageID {
			continue
		}
		// Only completed turns inform the model; failed or in-flight
		// generations carry no signal.
		if msg.Status != domain.MessageDone || msg.Content == "" {
			continue
		}
		turns = append(turns, ai.Turn{Role: string(msg.Role), Content: msg.Content})
	}
	return turns, nil
}

// deriveTitle labels a new quiz with the start of its first question.
func deriveTitle(question string) string {
	text := strings.TrimSpace(strings.ReplaceAll(question, "\n", " "))
	if text == "" {
		return untitledQuiz
	}
	runes := []rune(text)
	if len(runes) > 48 {
		return string(runes[:48]) + "…"
	}
	return text
}
