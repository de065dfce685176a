package store

import (
	"context"
	"sort"
	"sync"

	"askova/pkg/domain"
)

// MemoryStore keeps everything in-process. It mirrors GormStore semantics
// (atomic single-record writes, notify-after-commit) and backs tests.
type MemoryStore struct {
	mu        sync.Mutex
	quizzes   map[string]domain.Quiz
	messages  map[string]domain.ChatMessage
	userCache *domain.UserData

	observers map[int]Observer
	nextObsID int
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quizzes:   make(map[string]domain.Quiz),
		messages:  make(map[string]domain.ChatMessage),
		observers: make(map[int]Observer),
	}
}

// Subscribe registers a live-query observer.
func (m *MemoryStore) Subscribe(obs Observer) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = obs
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// notify must be called without the lock held.
func (m *MemoryStore) notify(change Change) {
	m.mu.Lock()
	observers := make([]Observer, 0, len(m.observers))
	for _, obs := range m.observers {
		observers = append(observers, obs)
	}
	m.mu.Unlock()
	for _, obs := range observers {
		obs(change)
	}
}

func (m *MemoryStore) PutQuiz(_ context.Context, quiz domain.Quiz) error {
	m.mu.Lock()
	m.quizzes[quiz.ID] = quiz
	m.mu.Unlock()
	m.notify(Change{Table: TableQuizzes, IDs: []string{quiz.ID}})
	return nil
}

func (m *MemoryStore) BulkPutQuizzes(_ context.Context, quizzes []domain.Quiz) error {
	if len(quizzes) == 0 {
		return nil
	}
	ids := make([]string, 0, len(quizzes))
	m.mu.Lock()
	for _, q := range quizzes {
		m.quizzes[q.ID] = q
		ids = append(ids, q.ID)
	}
	m.mu.Unlock()
	m.notify(Change{Table: TableQuizzes, IDs: ids})
	return nil
}

func (m *MemoryStore) GetQuiz(_ context.Context, id string) (domain.Quiz, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quizzes[id]
	return q, ok, nil
}

func (m *MemoryStore) ListQuizzes(_ context.Context) ([]domain.Quiz, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.Quiz, 0, len(m.quizzes))
	for _, q := range m.quizzes {
		res = append(res, q)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].LastMessageAt.Equal(res[j].LastMessageAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].LastMessageAt.After(res[j].LastMessageAt)
	})
	return res, nil
}

func (m *MemoryStore) ListUnsyncedQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	all, _ := m.ListQuizzes(ctx)
	res := all[:0]
	for _, q := range all {
		if !q.Synced {
			res = append(res, q)
		}
	}
	return res, nil
}

func (m *MemoryStore) UpdateQuiz(_ context.Context, id string, update QuizUpdate) (bool, error) {
	m.mu.Lock()
	q, ok := m.quizzes[id]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	if update.Title != nil {
		q.Title = *update.Title
	}
	if update.Owner != nil {
		q.Owner = *update.Owner
	}
	if update.Status != nil {
		q.Status = *update.Status
	}
	if update.Synced != nil {
		q.Synced = *update.Synced
	}
	if update.UpdatedAt != nil {
		q.UpdatedAt = update.UpdatedAt.UTC()
	}
	if update.LastMessageAt != nil {
		q.LastMessageAt = update.LastMessageAt.UTC()
	}
	m.quizzes[id] = q
	m.mu.Unlock()
	m.notify(Change{Table: TableQuizzes, IDs: []string{id}})
	return true, nil
}

func (m *MemoryStore) DeleteQuiz(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.quizzes, id)
	for msgID, msg := range m.messages {
		if msg.QuizID == id {
			delete(m.messages, msgID)
		}
	}
	m.mu.Unlock()
	m.notify(Change{Table: TableQuizzes, IDs: []string{id}})
	m.notify(Change{Table: TableMessages, IDs: []string{id}})
	return nil
}

func (m *MemoryStore) PutMessage(_ context.Context, msg domain.ChatMessage) error {
	m.mu.Lock()
	m.messages[msg.ID] = msg
	m.mu.Unlock()
	m.notify(Change{Table: TableMessages, IDs: []string{msg.ID}})
	return nil
}

func (m *MemoryStore) BulkPutMessages(_ context.Context, msgs []domain.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	m.mu.Lock()
	for _, msg := range msgs {
		m.messages[msg.ID] = msg
		ids = append(ids, msg.ID)
	}
	m.mu.Unlock()
	m.notify(Change{Table: TableMessages, IDs: ids})
	return nil
}

func (m *MemoryStore) GetMessage(_ context.Context, id string) (domain.ChatMessage, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	return msg, ok, nil
}

func (m *MemoryStore) ListMessagesByQuiz(_ context.Context, quizID string) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.ChatMessage, 0)
	for _, msg := range m.messages {
		if msg.QuizID == quizID {
			res = append(res, msg)
		}
	}
	sortMessages(res)
	return res, nil
}

func (m *MemoryStore) ListMessages(_ context.Context) ([]domain.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]domain.ChatMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		res = append(res, msg)
	}
	sortMessages(res)
	return res, nil
}

func (m *MemoryStore) ListUnsyncedMessages(ctx context.Context) ([]domain.ChatMessage, error) {
	all, _ := m.ListMessages(ctx)
	res := all[:0]
	for _, msg := range all {
		if !msg.Synced {
			res = append(res, msg)
		}
	}
	return res, nil
}

func (m *MemoryStore) UpdateMessage(_ context.Context, id string, update MessageUpdate) (bool, error) {
	m.mu.Lock()
	msg, ok := m.messages[id]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	if update.Content != nil {
		msg.Content = *update.Content
	}
	if update.Status != nil {
		msg.Status = *update.Status
	}
	if update.Synced != nil {
		msg.Synced = *update.Synced
	}
	m.messages[id] = msg
	m.mu.Unlock()
	m.notify(Change{Table: TableMessages, IDs: []string{id}})
	return true, nil
}

func (m *MemoryStore) AppendMessageContent(_ context.Context, id string, chunk string) (bool, error) {
	m.mu.Lock()
	msg, ok := m.messages[id]
	if !ok || msg.Status.Terminal() {
		m.mu.Unlock()
		return false, nil
	}
	msg.Content += chunk
	msg.Status = domain.MessageStreaming
	msg.Synced = false
	m.messages[id] = msg
	m.mu.Unlock()
	m.notify(Change{Table: TableMessages, IDs: []string{id}})
	return true, nil
}

func (m *MemoryStore) PutUserCache(_ context.Context, data domain.UserData) error {
	m.mu.Lock()
	m.userCache = &data
	m.mu.Unlock()
	m.notify(Change{Table: TableUserCache, IDs: []string{userCacheRowID}})
	return nil
}

func (m *MemoryStore) GetUserCache(_ context.Context) (domain.UserData, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userCache == nil {
		return domain.UserData{}, false, nil
	}
	return *m.userCache, true, nil
}

func (m *MemoryStore) DeleteUserCache(_ context.Context) error {
	m.mu.Lock()
	m.userCache = nil
	m.mu.Unlock()
	m.notify(Change{Table: TableUserCache, IDs: []string{userCacheRowID}})
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.quizzes = make(map[string]domain.Quiz)
	m.messages = make(map[string]domain.ChatMessage)
	m.userCache = nil
	m.mu.Unlock()
	m.notify(Change{Table: TableQuizzes, IDs: nil})
	m.notify(Change{Table: TableMessages, IDs: nil})
	m.notify(Change{Table: TableUserCache, IDs: nil})
	return nil
}

func sortMessages(msgs []domain.ChatMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Before(msgs[j])
	})
}
