package session

import (
	"errors"

	"douban_recommend/internal/model"
)

// ErrNotFound 会话不存在
var ErrNotFound = errors.New("recommend session not found")

// Store 追问会话的持久化接口
type Store interface {
	// Create 保存新会话，ID 为空时由实现生成
	Create(s *model.RecommendSession) error
	// Get 按 ID 取会话，不存在返回 ErrNotFound
	Get(id string) (*model.RecommendSession, error)
	// MarkCompleted 把会话置为已完成（needs_followup=false）
	MarkCompleted(id string) error
	// SaveResults 保存会话产出的排序结果
	SaveResults(sessionID string, items []*model.RankedItem) error
}
