package store

import (
	"time"

	"askova/pkg/domain"
)

// QuizModel is the persisted form of a quiz.
type QuizModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Title         string `gorm:"size:512"`
	OwnerID       string `gorm:"size:64;index"`
	Status        string `gorm:"size:16"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageAt time.Time
}

func (QuizModel) TableName() string { return "quizzes" }

// ChatMessageModel is the persisted form of one chat turn.
type ChatMessageModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	QuizID    string `gorm:"size:64;index:idx_srv_msg_quiz_created,priority:1"`
	OwnerID   string `gorm:"size:64;index"`
	Role      string `gorm:"size:16"`
	Content   string
	Status    string    `gorm:"size:16"`
	CreatedAt time.Time `gorm:"index:idx_srv_msg_quiz_created,priority:2"`
}

func (ChatMessageModel) TableName() string { return "chat_messages" }

// UserModel is the persisted form of a user account.
type UserModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Email        string `gorm:"uniqueIndex;size:255"`
	PasswordHash string `gorm:"size:255"`
	CreatedAt    time.Time
}

func (UserModel) TableName() string { return "users" }

func quizToModel(q domain.Quiz, ownerID string) QuizModel {
	return QuizModel{
		ID:            q.ID,
		Title:         q.Title,
		OwnerID:       ownerID,
		Status:        string(q.Status),
		CreatedAt:     q.CreatedAt,
		UpdatedAt:     q.UpdatedAt,
		LastMessageAt: q.LastMessageAt,
	}
}

func quizFromModel(m QuizModel) domain.Quiz {
	return domain.Quiz{
		ID:            m.ID,
		Title:         m.Title,
		Owner:         domain.OwnedBy(m.OwnerID),
		Status:        domain.QuizStatus(m.Status),
		Synced:        true,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		LastMessageAt: m.LastMessageAt,
	}
}

func messageToModel(msg domain.ChatMessage, ownerID string) ChatMessageModel {
	return ChatMessageModel{
		ID:        msg.ID,
		QuizID:    msg.QuizID,
		OwnerID:   ownerID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Status:    string(msg.Status),
		CreatedAt: msg.CreatedAt,
	}
}

// messageFromModel resolves stored status on the way out: once a message has
// been accepted by the server its generation is over, so it always reads as
// done.
func messageFromModel(m ChatMessageModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        m.ID,
		QuizID:    m.QuizID,
		Role:      domain.MessageRole(m.Role),
		Content:   m.Content,
		Status:    domain.MessageDone,
		Synced:    true,
		CreatedAt: m.CreatedAt,
	}
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}
