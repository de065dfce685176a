package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"askova/pkg/domain"
)

// userCacheRowID is the fixed primary key for the single snapshot row.
const userCacheRowID = "me"

// GormStore implements Store on GORM + SQLite. The database file is the
// device-local source of truth until records are synced.
type GormStore struct {
	db *gorm.DB

	mu        sync.Mutex
	observers map[int]Observer
	nextObsID int
}

// NewGormStore opens the SQLite database and runs auto-migrations.
// Use ":memory:" for an ephemeral store.
func NewGormStore(path string) (*GormStore, error) {
	// WAL plus a busy timeout: the HTTP handlers, the ingestion pipeline,
	// and the detached upload goroutines all write concurrently.
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open local db: %w", err)
	}
	if err := db.AutoMigrate(&QuizModel{}, &ChatMessageModel{}, &UserCacheModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db, observers: make(map[int]Observer)}, nil
}

// Subscribe registers a live-query observer notified after each commit.
func (s *GormStore) Subscribe(obs Observer) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = obs
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *GormStore) notify(change Change) {
	s.mu.Lock()
	observers := make([]Observer, 0, len(s.observers))
	for _, obs := range s.observers {
		observers = append(observers, obs)
	}
	s.mu.Unlock()
	for _, obs := range observers {
		obs(change)
	}
}

// PutQuiz creates or replaces a quiz by id.
func (s *GormStore) PutQuiz(ctx context.Context, quiz domain.Quiz) error {
	model := quizToModel(quiz)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
	if err != nil {
		return err
	}
	s.notify(Change{Table: TableQuizzes, IDs: []string{quiz.ID}})
	return nil
}

// BulkPutQuizzes upserts a batch of quizzes in one statement.
func (s *GormStore) BulkPutQuizzes(ctx context.Context, quizzes []domain.Quiz) error {
	if len(quizzes) == 0 {
		return nil
	}
	models := make([]QuizModel, 0, len(quizzes))
	ids := make([]string, 0, len(quizzes))
	for _, q := range quizzes {
		models = append(models, quizToModel(q))
		ids = append(ids, q.ID)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&models).Error
	if err != nil {
		return err
	}
	s.notify(Change{Table: TableQuizzes, IDs: ids})
	return nil
}

// GetQuiz returns a quiz by id.
func (s *GormStore) GetQuiz(ctx context.Context, id string) (domain.Quiz, bool, error) {
	var model QuizModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Quiz{}, false, nil
		}
		return domain.Quiz{}, false, err
	}
	return quizFromModel(model), true, nil
}

// ListQuizzes returns all quizzes, most recently active first.
func (s *GormStore) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	return s.listQuizzes(ctx, "last_message_at DESC, id ASC")
}

// ListUnsyncedQuizzes returns quizzes still missing a remote counterpart.
func (s *GormStore) ListUnsyncedQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	return s.listQuizzes(ctx, "created_at ASC", "synced = ?", false)
}

func (s *GormStore) listQuizzes(ctx context.Context, order string, conds ...any) ([]domain.Quiz, error) {
	var models []QuizModel
	tx := s.db.WithContext(ctx).Order(order)
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Quiz, 0, len(models))
	for _, m := range models {
		res = append(res, quizFromModel(m))
	}
	return res, nil
}

// UpdateQuiz applies non-nil fields to the quiz. hit=false when absent.
func (s *GormStore) UpdateQuiz(ctx context.Context, id string, update QuizUpdate) (bool, error) {
	fields := map[string]any{}
	if update.Title != nil {
		fields["title"] = *update.Title
	}
	if update.Owner != nil {
		fields["owner_kind"] = string(update.Owner.Kind)
		fields["owner_id"] = update.Owner.UserID
	}
	if update.Status != nil {
		fields["status"] = string(*update.Status)
	}
	if update.Synced != nil {
		fields["synced"] = *update.Synced
	}
	if update.UpdatedAt != nil {
		fields["updated_at"] = update.UpdatedAt.UTC()
	}
	if update.LastMessageAt != nil {
		fields["last_message_at"] = update.LastMessageAt.UTC()
	}
	if len(fields) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&QuizModel{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.notify(Change{Table: TableQuizzes, IDs: []string{id}})
	return true, nil
}

// DeleteQuiz removes the quiz and its messages in one transaction.
func (s *GormStore) DeleteQuiz(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChatMessageModel{}, "quiz_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&QuizModel{}, "id = ?", id).Error
	})
	if err != nil {
		return err
	}
	s.notify(Change{Table: TableQuizzes, IDs: []string{id}})
	s.notify(Change{Table: TableMessages, IDs: []string{id}})
	return nil
}

// PutMessage creates or replaces a message by id.
func (s *GormStore) PutMessage(ctx context.Context, msg domain.ChatMessage) error {
	model := messageToModel(msg)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
	if err != nil {
		return err
	}
	s.notify(Change{Table: TableMessages, IDs: []string{msg.ID}})
	return nil
}

// BulkPutMessages upserts a batch of messages in one statement.
func (s *GormStore) BulkPutMessages(ctx context.Context, msgs []domain.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	models := make([]ChatMessageModel, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		models = append(models, messageToModel(m))
		ids = append(ids, m.ID)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&models).Error
	if err != nil {
		return err
	}
	s.notify(Change{Table: TableMessages, IDs: ids})
	return nil
}

// GetMessage returns a message by id.
func (s *GormStore) GetMessage(ctx context.Context, id string) (domain.ChatMessage, bool, error) {
	var model ChatMessageModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ChatMessage{}, false, nil
		}
		return domain.ChatMessage{}, false, err
	}
	return messageFromModel(model), true, nil
}

// ListMessagesByQuiz returns the quiz's messages ordered by (created_at, id).
func (s *GormStore) ListMessagesByQuiz(ctx context.Context, quizID string) ([]domain.ChatMessage, error) {
	return s.listMessages(ctx, "created_at ASC, id ASC", "quiz_id = ?", quizID)
}

// ListMessages returns every stored message.
func (s *GormStore) ListMessages(ctx context.Context) ([]domain.ChatMessage, error) {
	return s.listMessages(ctx, "created_at ASC, id ASC")
}

// ListUnsyncedMessages returns messages still missing a remote counterpart.
func (s *GormStore) ListUnsyncedMessages(ctx context.Context) ([]domain.ChatMessage, error) {
	return s.listMessages(ctx, "created_at ASC, id ASC", "synced = ?", false)
}

func (s *GormStore) listMessages(ctx context.Context, order string, conds ...any) ([]domain.ChatMessage, error) {
	var models []ChatMessageModel
	tx := s.db.WithContext(ctx).Order(order)
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ChatMessage, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

// UpdateMessage applies non-nil fields to the message. hit=false when absent.
func (s *GormStore) UpdateMessage(ctx context.Context, id string, update MessageUpdate) (bool, error) {
	fields := map[string]any{}
	if update.Content != nil {
		fields["content"] = *update.Content
	}
	if update.Status != nil {
		fields["status"] = string(*update.Status)
	}
	if update.Synced != nil {
		fields["synced"] = *update.Synced
	}
	if len(fields) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&ChatMessageModel{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.notify(Change{Table: TableMessages, IDs: []string{id}})
	return true, nil
}

// AppendMessageContent concatenates chunk and promotes waiting -> streaming
// in a single statement, so concurrent appends to the same row serialize in
// the database and terminal rows are never touched.
func (s *GormStore) AppendMessageContent(ctx context.Context, id string, chunk string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&ChatMessageModel{}).
		Where("id = ? AND status IN ?", id, []string{string(domain.MessageWaiting), string(domain.MessageStreaming)}).
		Updates(map[string]any{
			"content": gorm.Expr("content || ?", chunk),
			"status":  string(domain.MessageStreaming),
			"synced":  false,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.notify(Change{Table: TableMessages, IDs: []string{id}})
	return true, nil
}

// PutUserCache replaces the identity snapshot wholesale.
func (s *GormStore) PutUserCache(ctx context.Context, data domain.UserData) error {
	blob, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode user cache: %w", err)
	}
	model := UserCacheModel{ID: userCacheRowID, Snapshot: blob, UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&model).Error
	if err != nil {
		return err
	}
	s.notify(Change{Table: TableUserCache, IDs: []string{userCacheRowID}})
	return nil
}

// GetUserCache returns the cached identity snapshot, if any.
func (s *GormStore) GetUserCache(ctx context.Context) (domain.UserData, bool, error) {
	var model UserCacheModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", userCacheRowID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.UserData{}, false, nil
		}
		return domain.UserData{}, false, err
	}
	var data domain.UserData
	if err := json.Unmarshal(model.Snapshot, &data); err != nil {
		return domain.UserData{}, false, fmt.Errorf("decode user cache: %w", err)
	}
	return data, true, nil
}

// DeleteUserCache drops the snapshot row.
func (s *GormStore) DeleteUserCache(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Delete(&UserCacheModel{}, "id = ?", userCacheRowID).Error; err != nil {
		return err
	}
	s.notify(Change{Table: TableUserCache, IDs: []string{userCacheRowID}})
	return nil
}

// Clear wipes every table in one transaction (logout / local reset).
func (s *GormStore) Clear(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&ChatMessageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&QuizModel{}).Error; err != nil {
			return err
		}
		return tx.Where("1 = 1").Delete(&UserCacheModel{}).Error
	})
	if err != nil {
		return err
	}
	s.notify(Change{Table: TableQuizzes, IDs: nil})
	s.notify(Change{Table: TableMessages, IDs: nil})
	s.notify(Change{Table: TableUserCache, IDs: nil})
	return nil
}
