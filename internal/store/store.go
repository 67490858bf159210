package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"douban_recommend/internal/logger"
	"douban_recommend/internal/model"
	"douban_recommend/internal/session"
)

// ErrUserNotFound 用户尚未同步
var ErrUserNotFound = errors.New("user not found")

// Store gorm/sqlite 存储。同步流程写入 users/items/interactions，
// 本服务读取，并读写会话与结果两张表。
type Store struct {
	db *gorm.DB
}

// Open 打开（必要时创建）sqlite 库并自动建表
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.Item{},
		&model.Interaction{},
		&model.RecommendSession{},
		&model.RecommendResult{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	logger.Info("sqlite store ready: %s", path)
	return &Store{db: db}, nil
}

// NewWithDB 直接挂接已有连接（测试用）
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindUser 按 (source, username) 查用户，未同步过返回 ErrUserNotFound
func (s *Store) FindUser(source, username string) (*model.User, error) {
	var user model.User
	err := s.db.Where("source = ? AND username = ?", source, username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// FindFriendUsers 批量查好友用户。精确匹配为空时退化为大小写不敏感匹配。
func (s *Store) FindFriendUsers(source string, usernames []string) ([]*model.User, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	var users []*model.User
	if err := s.db.Where("source = ? AND username IN ?", source, usernames).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to query friend users: %w", err)
	}
	if len(users) > 0 {
		return users, nil
	}

	lowered := make([]string, 0, len(usernames))
	for _, name := range usernames {
		if name != "" {
			lowered = append(lowered, strings.ToLower(name))
		}
	}
	if len(lowered) == 0 {
		return nil, nil
	}
	if err := s.db.Where("source = ? AND LOWER(username) IN ?", source, lowered).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to query friend users: %w", err)
	}
	return users, nil
}

type historyRow struct {
	SubjectID    string
	Title        string
	Type         string
	Year         int
	URL          string `gorm:"column:douban_url"`
	Rating       *float64
	InteractedAt *time.Time
	Comment      string
}

// LoadHistory 取某用户全部交互历史（连条目表）
func (s *Store) LoadHistory(userID uint) ([]*model.HistoryRecord, error) {
	var rows []historyRow
	err := s.db.Table("interactions").
		Select("items.subject_id, items.title, items.type, items.year, items.douban_url, interactions.rating, interactions.interacted_at, interactions.comment").
		Joins("JOIN items ON items.id = interactions.item_id").
		Where("interactions.user_id = ?", userID).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	records := make([]*model.HistoryRecord, 0, len(rows))
	for _, row := range rows {
		record := &model.HistoryRecord{
			SubjectID: row.SubjectID,
			Title:     row.Title,
			Type:      model.MediaType(row.Type),
			Year:      row.Year,
			URL:       row.URL,
			Rating:    -1,
			Comment:   row.Comment,
		}
		if row.Rating != nil {
			record.Rating = *row.Rating
		}
		if row.InteractedAt != nil {
			record.InteractedAt = *row.InteractedAt
		}
		records = append(records, record)
	}
	return records, nil
}

// Create 实现 session.Store
func (s *Store) Create(sess *model.RecommendSession) error {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if err := s.db.Create(sess).Error; err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get 实现 session.Store
func (s *Store) Get(id string) (*model.RecommendSession, error) {
	var sess model.RecommendSession
	err := s.db.First(&sess, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &sess, nil
}

// MarkCompleted 实现 session.Store
func (s *Store) MarkCompleted(id string) error {
	result := s.db.Model(&model.RecommendSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"needs_followup": false,
			"status":         model.SessionCompleted,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to complete session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return session.ErrNotFound
	}
	return nil
}

// SaveResults 实现 session.Store，按名次落库
func (s *Store) SaveResults(sessionID string, items []*model.RankedItem) error {
	if len(items) == 0 {
		return nil
	}
	rows := make([]model.RecommendResult, 0, len(items))
	for i, item := range items {
		rows = append(rows, model.RecommendResult{
			SessionID: sessionID,
			SubjectID: item.SubjectID,
			Rank:      i + 1,
			Score:     item.Score,
			Reason:    item.Reason,
		})
	}
	if err := s.db.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	return nil
}

// LibraryEntry 书影音库列表里的一行
type LibraryEntry struct {
	SubjectID    string     `json:"subject_id"`
	Title        string     `json:"title"`
	Type         string     `json:"type"`
	Year         int        `json:"year,omitempty"`
	URL          string     `json:"douban_url"`
	Rating       *float64   `json:"rating,omitempty"`
	InteractedAt *time.Time `json:"interacted_at,omitempty"`
}

// Library 列出用户已同步的全部条目，按交互时间倒序
func (s *Store) Library(userID uint) ([]*LibraryEntry, error) {
	var rows []*LibraryEntry
	err := s.db.Table("interactions").
		Select("items.subject_id, items.title, items.type, items.year, items.douban_url AS url, interactions.rating, interactions.interacted_at").
		Joins("JOIN items ON items.id = interactions.item_id").
		Where("interactions.user_id = ?", userID).
		Order("interactions.interacted_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load library: %w", err)
	}
	return rows, nil
}
