package store

import "askova/pkg/domain"

// OwnedQuiz pairs a quiz with the account that owns it. The server never
// stores anonymous quizzes; clients claim ownership before uploading.
type OwnedQuiz struct {
	Quiz    domain.Quiz
	OwnerID string
}

// OwnedMessage pairs a chat message with the owner of its parent quiz.
type OwnedMessage struct {
	Message domain.ChatMessage
	OwnerID string
}

// Store defines persistence operations for users, quizzes, and messages.
type Store interface {
	// users
	SaveUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// quizzes
	SaveQuiz(quiz domain.Quiz, ownerID string) error
	GetQuiz(id string) (OwnedQuiz, bool, error)
	ListQuizzesByOwner(ownerID string) ([]domain.Quiz, error)
	DeleteQuiz(id string) error

	// messages
	SaveMessage(msg domain.ChatMessage, ownerID string) error
	GetMessage(id string) (OwnedMessage, bool, error)
	ListMessagesByQuiz(quizID string) ([]domain.ChatMessage, error)
	ListMessagesByOwner(ownerID string) ([]domain.ChatMessage, error)
}

// SessionStore persists session tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
