package store

import (
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"askova/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &QuizModel{}, &ChatMessageModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveUser registers or updates a user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash"}),
	}).Create(&model).Error
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveQuiz creates the quiz or updates its mutable fields. The id, owner, and
// created_at of an existing row never change on upsert.
func (s *GormStore) SaveQuiz(quiz domain.Quiz, ownerID string) error {
	model := quizToModel(quiz, ownerID)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "status", "updated_at", "last_message_at"}),
	}).Create(&model).Error
}

// GetQuiz retrieves a quiz with its owner.
func (s *GormStore) GetQuiz(id string) (OwnedQuiz, bool, error) {
	var model QuizModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return OwnedQuiz{}, false, nil
		}
		return OwnedQuiz{}, false, err
	}
	return OwnedQuiz{Quiz: quizFromModel(model), OwnerID: model.OwnerID}, true, nil
}

// ListQuizzesByOwner returns the owner's quizzes, most recently active first.
func (s *GormStore) ListQuizzesByOwner(ownerID string) ([]domain.Quiz, error) {
	var models []QuizModel
	if err := s.db.Where("owner_id = ?", ownerID).
		Order("last_message_at DESC").
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	quizzes := make([]domain.Quiz, 0, len(models))
	for _, m := range models {
		quizzes = append(quizzes, quizFromModel(m))
	}
	return quizzes, nil
}

// DeleteQuiz removes the quiz and its messages in one transaction.
func (s *GormStore) DeleteQuiz(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChatMessageModel{}, "quiz_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&QuizModel{}, "id = ?", id).Error
	})
}

// SaveMessage creates the message or updates its content and status.
func (s *GormStore) SaveMessage(msg domain.ChatMessage, ownerID string) error {
	model := messageToModel(msg, ownerID)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "status"}),
	}).Create(&model).Error
}

// GetMessage retrieves a message with its owner.
func (s *GormStore) GetMessage(id string) (OwnedMessage, bool, error) {
	var model ChatMessageModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return OwnedMessage{}, false, nil
		}
		return OwnedMessage{}, false, err
	}
	return OwnedMessage{Message: messageFromModel(model), OwnerID: model.OwnerID}, true, nil
}

// ListMessagesByQuiz returns a quiz's messages in conversation order.
func (s *GormStore) ListMessagesByQuiz(quizID string) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	if err := s.db.Where("quiz_id = ?", quizID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return messagesFromModels(models), nil
}

// ListMessagesByOwner returns every message across the owner's quizzes.
func (s *GormStore) ListMessagesByOwner(ownerID string) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	if err := s.db.Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	return messagesFromModels(models), nil
}

func messagesFromModels(models []ChatMessageModel) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		msgs = append(msgs, messageFromModel(m))
	}
	return msgs
}
