package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"douban_recommend/internal/model"
)

// MemoryStore 内存会话存储。测试与无数据库模式使用，
// 进程重启后会话丢失。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.RecommendSession
	results  map[string][]*model.RankedItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.RecommendSession),
		results:  make(map[string][]*model.RankedItem),
	}
}

func (m *MemoryStore) Create(s *model.RecommendSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	now := time.Now()
	s.CreatedAt = now
	s.UpdatedAt = now
	stored := *s
	m.sessions[s.ID] = &stored
	return nil
}

func (m *MemoryStore) Get(id string) (*model.RecommendSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *MemoryStore) MarkCompleted(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	s.NeedsFollowup = false
	s.Status = model.SessionCompleted
	s.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) SaveResults(sessionID string, items []*model.RankedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]*model.RankedItem, len(items))
	copy(copied, items)
	m.results[sessionID] = copied
	return nil
}
