package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"askova/internal/util"
	"askova/pkg/ai"
	"askova/pkg/auth"
	"askova/pkg/domain"
	"askova/services/server/internal/store"
)

// systemPrompt frames every generation as a study tutoring exchange.
const systemPrompt = "You are a study tutor. Answer the learner's question " +
	"clearly and concisely, and when helpful, quiz them back with a short " +
	"follow-up question to reinforce the material."

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	SessionStrategy string
	SessionTTL      time.Duration
	JWTSecret       string
	Store           store.Store
	Sessions        store.SessionStore
	Generator       ai.StreamGenerator
}

// App is the core application service wiring storage, sessions, and the
// generation provider.
type App struct {
	store     store.Store
	sessions  store.SessionStore
	generator ai.StreamGenerator
}

// New constructs the application with database storage and session management.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}

	sessionStore := cfg.Sessions
	if sessionStore == nil {
		switch cfg.SessionStrategy {
		case "jwt":
			var err error
			sessionStore, err = store.NewJWTSessionStore(cfg.JWTSecret, cfg.SessionTTL)
			if err != nil {
				return nil, fmt.Errorf("init jwt session store: %w", err)
			}
		default:
			if strings.TrimSpace(cfg.RedisAddr) == "" {
				return nil, fmt.Errorf("redisAddr is required for the redis session strategy")
			}
			sessionStore = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, cfg.SessionTTL)
		}
	}

	return &App{
		store:     dataStore,
		sessions:  sessionStore,
		generator: cfg.Generator,
	}, nil
}

// Register creates a user and issues a session token.
func (a *App) Register(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", err
	}
	exists, err := a.store.HasUserEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           util.NewID(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, "", fmt.Errorf("save user: %w", err)
	}
	return a.issueSession(user)
}

// Login validates credentials and issues a session token.
func (a *App) Login(email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	return a.issueSession(user)
}

func (a *App) issueSession(user domain.User) (domain.User, string, error) {
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue session: %w", err)
	}
	return user, token, nil
}

// UserFromToken resolves a user from a session token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found {
		return domain.User{}, false
	}
	return user, true
}

// Logout invalidates the session token.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// UpsertQuiz creates the quiz or updates its mutable fields. An existing quiz
// owned by a different user is rejected.
func (a *App) UpsertQuiz(user domain.User, quiz domain.Quiz) error {
	if strings.TrimSpace(quiz.ID) == "" {
		return fmt.Errorf("quiz id is required")
	}
	existing, ok, err := a.store.GetQuiz(quiz.ID)
	if err != nil {
		return fmt.Errorf("fetch quiz: %w", err)
	}
	if ok && existing.OwnerID != user.ID {
		return ErrForbidden
	}
	return a.store.SaveQuiz(quiz, user.ID)
}

// UpsertChatMessage creates or updates a message. The parent quiz must exist
// remotely and belong to the caller.
func (a *App) UpsertChatMessage(user domain.User, msg domain.ChatMessage) error {
	if strings.TrimSpace(msg.ID) == "" || strings.TrimSpace(msg.QuizID) == "" {
		return fmt.Errorf("message id and quiz id are required")
	}
	parent, ok, err := a.store.GetQuiz(msg.QuizID)
	if err != nil {
		return fmt.Errorf("fetch parent quiz: %w", err)
	}
	if !ok {
		return ErrQuizNotFound
	}
	if parent.OwnerID != user.ID {
		return ErrForbidden
	}
	return a.store.SaveMessage(msg, user.ID)
}

// ListQuizzes returns the caller's quizzes.
func (a *App) ListQuizzes(user domain.User) ([]domain.Quiz, error) {
	return a.store.ListQuizzesByOwner(user.ID)
}

// GetQuizWithMessages returns one owned quiz with its ordered messages.
func (a *App) GetQuizWithMessages(user domain.User, id string) (domain.Quiz, []domain.ChatMessage, error) {
	quiz, err := a.ownedQuiz(user, id)
	if err != nil {
		return domain.Quiz{}, nil, err
	}
	msgs, err := a.store.ListMessagesByQuiz(id)
	if err != nil {
		return domain.Quiz{}, nil, err
	}
	return quiz, msgs, nil
}

// RenameQuiz updates the quiz title.
func (a *App) RenameQuiz(user domain.User, id, title string) (domain.Quiz, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return domain.Quiz{}, fmt.Errorf("title is required")
	}
	quiz, err := a.ownedQuiz(user, id)
	if err != nil {
		return domain.Quiz{}, err
	}
	quiz.Title = title
	quiz.UpdatedAt = time.Now().UTC()
	if err := a.store.SaveQuiz(quiz, user.ID); err != nil {
		return domain.Quiz{}, fmt.Errorf("save quiz: %w", err)
	}
	return quiz, nil
}

// DeleteQuiz removes an owned quiz and its messages.
func (a *App) DeleteQuiz(user domain.User, id string) error {
	if _, err := a.ownedQuiz(user, id); err != nil {
		return err
	}
	return a.store.DeleteQuiz(id)
}

// ListMessages returns every message across the caller's quizzes.
func (a *App) ListMessages(user domain.User) ([]domain.ChatMessage, error) {
	return a.store.ListMessagesByOwner(user.ID)
}

// ListMessagesByQuiz returns the messages of one owned quiz.
func (a *App) ListMessagesByQuiz(user domain.User, quizID string) ([]domain.ChatMessage, error) {
	if _, err := a.ownedQuiz(user, quizID); err != nil {
		return nil, err
	}
	return a.store.ListMessagesByQuiz(quizID)
}

// UserData returns the denormalized snapshot: the user plus everything they
// own.
func (a *App) UserData(user domain.User) (domain.UserData, error) {
	quizzes, err := a.store.ListQuizzesByOwner(user.ID)
	if err != nil {
		return domain.UserData{}, fmt.Errorf("list quizzes: %w", err)
	}
	msgs, err := a.store.ListMessagesByOwner(user.ID)
	if err != nil {
		return domain.UserData{}, fmt.Errorf("list messages: %w", err)
	}
	return domain.UserData{User: user, Quizzes: quizzes, Messages: msgs}, nil
}

// GenerateRequest carries one generation turn from a client.
type GenerateRequest struct {
	QuizID  string    `json:"quizId"`
	History []ai.Turn `json:"history"`
	Prompt  string    `json:"prompt"`
}

// Generate streams model output chunk by chunk via onChunk. It returns after
// the provider completes, fails, or ctx is cancelled.
func (a *App) Generate(ctx context.Context, req GenerateRequest, onChunk func(text string) error) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if a.generator == nil {
		return fmt.Errorf("no generation provider configured")
	}
	turns := append(append([]ai.Turn{}, req.History...), ai.Turn{
		Role:    string(domain.RoleUser),
		Content: req.Prompt,
	})
	return a.generator.StreamGenerate(ctx, ai.GenerateRequest{
		SystemPrompt: systemPrompt,
		Turns:        turns,
	}, onChunk)
}

func (a *App) ownedQuiz(user domain.User, id string) (domain.Quiz, error) {
	owned, ok, err := a.store.GetQuiz(id)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("fetch quiz: %w", err)
	}
	if !ok {
		return domain.Quiz{}, ErrQuizNotFound
	}
	if owned.OwnerID != user.ID {
		return domain.Quiz{}, ErrForbidden
	}
	return owned.Quiz, nil
}
