package domain

import (
	"errors"
	"time"
)

// QuizStatus reflects whether a generation is in flight for a quiz.
type QuizStatus string

const (
	QuizIdle    QuizStatus = "idle"
	QuizWaiting QuizStatus = "waiting"
	QuizDone    QuizStatus = "done"
	QuizError   QuizStatus = "error"
)

// MessageStatus is the lifecycle of a model message. User messages are
// created already done.
type MessageStatus string

const (
	MessageWaiting   MessageStatus = "waiting"
	MessageStreaming MessageStatus = "streaming"
	MessageDone      MessageStatus = "done"
	MessageError     MessageStatus = "error"
)

// Terminal reports whether no further status transition is allowed.
func (s MessageStatus) Terminal() bool {
	return s == MessageDone || s == MessageError
}

// MessageRole identifies who produced a chat message.
type MessageRole string

const (
	RoleUser  MessageRole = "user"
	RoleModel MessageRole = "model"
)

// OwnershipKind discriminates the Ownership sum type.
type OwnershipKind string

const (
	OwnershipAnonymous OwnershipKind = "anonymous"
	OwnershipOwned     OwnershipKind = "owned"
)

// ErrAlreadyOwned is returned when claiming a quiz that already has an owner.
var ErrAlreadyOwned = errors.New("quiz already owned")

// Ownership models the optional owner of a quiz as an explicit two-state
// value instead of a nullable user id. Quizzes start anonymous and are
// claimed exactly once when the session authenticates.
type Ownership struct {
	Kind   OwnershipKind `json:"kind"`
	UserID string        `json:"userId,omitempty"`
}

// Anonymous returns the unowned state.
func Anonymous() Ownership {
	return Ownership{Kind: OwnershipAnonymous}
}

// OwnedBy returns an ownership bound to the given user.
func OwnedBy(userID string) Ownership {
	return Ownership{Kind: OwnershipOwned, UserID: userID}
}

// Claim transitions anonymous -> owned. Claiming with the same owner is a
// no-op; claiming an already-owned quiz for a different user fails.
func (o Ownership) Claim(userID string) (Ownership, error) {
	switch o.Kind {
	case OwnershipOwned:
		if o.UserID == userID {
			return o, nil
		}
		return o, ErrAlreadyOwned
	default:
		return OwnedBy(userID), nil
	}
}

// Owned reports whether the quiz has an owner.
func (o Ownership) Owned() bool {
	return o.Kind == OwnershipOwned
}

// Quiz is one study session: a conversation thread between a user and the
// model. IDs are client-generated UUIDs and immutable once created.
type Quiz struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Owner         Ownership  `json:"owner"`
	Status        QuizStatus `json:"status"`
	Synced        bool       `json:"synced"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastMessageAt time.Time  `json:"lastMessageAt"`
}

// ChatMessage is one turn within a quiz. The parent quiz never changes.
type ChatMessage struct {
	ID        string        `json:"id"`
	QuizID    string        `json:"quizId"`
	Role      MessageRole   `json:"role"`
	Content   string        `json:"content"`
	Status    MessageStatus `json:"status"`
	Synced    bool          `json:"synced"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Before orders messages within a quiz by (createdAt, id). The id tie-break
// keeps the order deterministic when two messages share a timestamp.
func (m ChatMessage) Before(other ChatMessage) bool {
	if m.CreatedAt.Equal(other.CreatedAt) {
		return m.ID < other.ID
	}
	return m.CreatedAt.Before(other.CreatedAt)
}

// User is the authenticated identity.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserData is the denormalized snapshot of a user plus everything they own.
// The client replaces its cached copy wholesale on each full sync-down.
type UserData struct {
	User     User          `json:"user"`
	Quizzes  []Quiz        `json:"quizzes"`
	Messages []ChatMessage `json:"messages"`
}
