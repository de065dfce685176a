package store

import (
	"sort"
	"sync"

	"askova/pkg/domain"
)

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu       sync.Mutex
	users    map[string]domain.User
	quizzes  map[string]OwnedQuiz
	messages map[string]OwnedMessage
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		quizzes:  make(map[string]OwnedQuiz),
		messages: make(map[string]OwnedMessage),
	}
}

func (s *MemoryStore) SaveUser(u domain.User) error {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) HasUserEmail(email string) (bool, error) {
	_, ok, err := s.GetUserByEmail(email)
	return ok, err
}

func (s *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return domain.User{}, false, nil
}

func (s *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *MemoryStore) SaveQuiz(quiz domain.Quiz, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.quizzes[quiz.ID]; ok {
		existing.Quiz.Title = quiz.Title
		existing.Quiz.Status = quiz.Status
		existing.Quiz.UpdatedAt = quiz.UpdatedAt
		existing.Quiz.LastMessageAt = quiz.LastMessageAt
		s.quizzes[quiz.ID] = existing
		return nil
	}
	quiz.Owner = domain.OwnedBy(ownerID)
	quiz.Synced = true
	s.quizzes[quiz.ID] = OwnedQuiz{Quiz: quiz, OwnerID: ownerID}
	return nil
}

func (s *MemoryStore) GetQuiz(id string) (OwnedQuiz, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[id]
	return q, ok, nil
}

func (s *MemoryStore) ListQuizzesByOwner(ownerID string) ([]domain.Quiz, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var quizzes []domain.Quiz
	for _, q := range s.quizzes {
		if q.OwnerID == ownerID {
			quizzes = append(quizzes, q.Quiz)
		}
	}
	sort.Slice(quizzes, func(i, j int) bool {
		return quizzes[i].LastMessageAt.After(quizzes[j].LastMessageAt)
	})
	return quizzes, nil
}

func (s *MemoryStore) DeleteQuiz(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quizzes, id)
	for msgID, m := range s.messages {
		if m.Message.QuizID == id {
			delete(s.messages, msgID)
		}
	}
	return nil
}

func (s *MemoryStore) SaveMessage(msg domain.ChatMessage, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.messages[msg.ID]; ok {
		existing.Message.Content = msg.Content
		s.messages[msg.ID] = existing
		return nil
	}
	msg.Status = domain.MessageDone
	msg.Synced = true
	s.messages[msg.ID] = OwnedMessage{Message: msg, OwnerID: ownerID}
	return nil
}

func (s *MemoryStore) GetMessage(id string) (OwnedMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	return m, ok, nil
}

func (s *MemoryStore) ListMessagesByQuiz(quizID string) ([]domain.ChatMessage, error) {
	return s.listMessages(func(m OwnedMessage) bool { return m.Message.QuizID == quizID })
}

func (s *MemoryStore) ListMessagesByOwner(ownerID string) ([]domain.ChatMessage, error) {
	return s.listMessages(func(m OwnedMessage) bool { return m.OwnerID == ownerID })
}

func (s *MemoryStore) listMessages(match func(OwnedMessage) bool) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []domain.ChatMessage
	for _, m := range s.messages {
		if match(m) {
			msgs = append(msgs, m.Message)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	return msgs, nil
}
