package store

import (
	"context"
	"time"

	"askova/pkg/domain"
)

// Table names used in change notifications.
const (
	TableQuizzes   = "quizzes"
	TableMessages  = "chat_messages"
	TableUserCache = "user_cache"
)

// Change describes one committed write. Observers receive it synchronously
// after the commit.
type Change struct {
	Table string
	IDs   []string
}

// Observer is a live-query callback registered via Subscribe.
type Observer func(Change)

// QuizUpdate lists the mutable quiz fields. Nil fields are left untouched.
type QuizUpdate struct {
	Title         *string
	Owner         *domain.Ownership
	Status        *domain.QuizStatus
	Synced        *bool
	UpdatedAt     *time.Time
	LastMessageAt *time.Time
}

// MessageUpdate lists the mutable message fields. Nil fields are left
// untouched.
type MessageUpdate struct {
	Content *string
	Status  *domain.MessageStatus
	Synced  *bool
}

// Store is the local persistent table store. Every operation is individually
// atomic; updates of an absent id report hit=false instead of failing.
// Cascading deletes span both tables inside a single transaction.
type Store interface {
	// quizzes
	PutQuiz(ctx context.Context, quiz domain.Quiz) error
	BulkPutQuizzes(ctx context.Context, quizzes []domain.Quiz) error
	GetQuiz(ctx context.Context, id string) (domain.Quiz, bool, error)
	ListQuizzes(ctx context.Context) ([]domain.Quiz, error)
	ListUnsyncedQuizzes(ctx context.Context) ([]domain.Quiz, error)
	UpdateQuiz(ctx context.Context, id string, update QuizUpdate) (bool, error)
	DeleteQuiz(ctx context.Context, id string) error

	// messages
	PutMessage(ctx context.Context, msg domain.ChatMessage) error
	BulkPutMessages(ctx context.Context, msgs []domain.ChatMessage) error
	GetMessage(ctx context.Context, id string) (domain.ChatMessage, bool, error)
	ListMessagesByQuiz(ctx context.Context, quizID string) ([]domain.ChatMessage, error)
	ListMessages(ctx context.Context) ([]domain.ChatMessage, error)
	ListUnsyncedMessages(ctx context.Context) ([]domain.ChatMessage, error)
	UpdateMessage(ctx context.Context, id string, update MessageUpdate) (bool, error)
	// AppendMessageContent concatenates chunk onto the stored content and
	// moves waiting -> streaming on the first call, all in one atomic write.
	// Terminal messages and absent ids report hit=false.
	AppendMessageContent(ctx context.Context, id string, chunk string) (bool, error)

	// user cache
	PutUserCache(ctx context.Context, data domain.UserData) error
	GetUserCache(ctx context.Context) (domain.UserData, bool, error)
	DeleteUserCache(ctx context.Context) error

	// Clear wipes every table (logout / full local-data reset).
	Clear(ctx context.Context) error

	// Subscribe registers a live-query observer. The returned function
	// unregisters it.
	Subscribe(obs Observer) (unsubscribe func())
}
