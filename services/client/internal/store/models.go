package store

import (
	"time"

	"gorm.io/datatypes"

	"askova/pkg/domain"
)

// GORM models used for local persistence.
type QuizModel struct {
	ID            string `gorm:"primaryKey"`
	Title         string `gorm:"not null;index"`
	OwnerKind     string `gorm:"not null"`
	OwnerID       string `gorm:"index"`
	Status        string `gorm:"not null"`
	Synced        bool   `gorm:"not null;index"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null;index"`
	LastMessageAt time.Time `gorm:"not null"`
}

func (QuizModel) TableName() string { return TableQuizzes }

type ChatMessageModel struct {
	ID        string `gorm:"primaryKey"`
	QuizID    string `gorm:"not null;index;index:idx_msg_quiz_created,priority:1;index:idx_msg_quiz_status,priority:1"`
	Role      string `gorm:"not null;index"`
	Content   string `gorm:"not null"`
	Status    string `gorm:"not null;index:idx_msg_quiz_status,priority:2"`
	Synced    bool   `gorm:"not null;index"`
	CreatedAt time.Time `gorm:"not null;index;index:idx_msg_quiz_created,priority:2"`
}

func (ChatMessageModel) TableName() string { return TableMessages }

// UserCacheModel holds the denormalized identity snapshot as one JSON blob,
// replaced wholesale on each successful sync-down.
type UserCacheModel struct {
	ID        string         `gorm:"primaryKey"`
	Snapshot  datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time      `gorm:"not null"`
}

func (UserCacheModel) TableName() string { return TableUserCache }

func quizToModel(q domain.Quiz) QuizModel {
	return QuizModel{
		ID:            q.ID,
		Title:         q.Title,
		OwnerKind:     string(q.Owner.Kind),
		OwnerID:       q.Owner.UserID,
		Status:        string(q.Status),
		Synced:        q.Synced,
		CreatedAt:     q.CreatedAt,
		UpdatedAt:     q.UpdatedAt,
		LastMessageAt: q.LastMessageAt,
	}
}

func quizFromModel(m QuizModel) domain.Quiz {
	owner := domain.Anonymous()
	if m.OwnerKind == string(domain.OwnershipOwned) {
		owner = domain.OwnedBy(m.OwnerID)
	}
	return domain.Quiz{
		ID:            m.ID,
		Title:         m.Title,
		Owner:         owner,
		Status:        domain.QuizStatus(m.Status),
		Synced:        m.Synced,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		LastMessageAt: m.LastMessageAt,
	}
}

func messageToModel(msg domain.ChatMessage) ChatMessageModel {
	return ChatMessageModel{
		ID:        msg.ID,
		QuizID:    msg.QuizID,
		Role:      string(msg.Role),
		Content:   msg.Content,
		Status:    string(msg.Status),
		Synced:    msg.Synced,
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromModel(m ChatMessageModel) domain.ChatMessage {
	return domain.ChatMessage{
		ID:        m.ID,
		QuizID:    m.QuizID,
		Role:      domain.MessageRole(m.Role),
		Content:   m.Content,
		Status:    domain.MessageStatus(m.Status),
		Synced:    m.Synced,
		CreatedAt: m.CreatedAt,
	}
}
