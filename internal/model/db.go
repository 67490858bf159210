package model

import "time"

// 以下为持久化模型，由同步流程写入、本核心读取。
// 会话与排序结果两张表由本核心读写。

// User 已同步过的平台用户
type User struct {
	ID           uint   `gorm:"primaryKey"`
	Source       string `gorm:"index;default:douban;uniqueIndex:uq_users_source_username"`
	Username     string `gorm:"index;uniqueIndex:uq_users_source_username"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSyncedAt *time.Time
}

// Item 媒体条目
type Item struct {
	ID        uint   `gorm:"primaryKey"`
	Source    string `gorm:"index;default:douban;uniqueIndex:uq_items_source_subject"`
	SubjectID string `gorm:"index;uniqueIndex:uq_items_source_subject"`
	Type      string `gorm:"index"`
	Title     string
	Year      int
	URL       string `gorm:"column:douban_url"`
	UpdatedAt time.Time
}

// Interaction 用户-条目交互（评分 / 时间 / 短评）
type Interaction struct {
	ID           uint `gorm:"primaryKey"`
	UserID       uint `gorm:"index;uniqueIndex:uq_interactions_user_item"`
	ItemID       uint `gorm:"index;uniqueIndex:uq_interactions_user_item"`
	Rating       *float64
	InteractedAt *time.Time
	Comment      string
	CreatedAt    time.Time
}

// 会话状态
const (
	SessionPending      = "pending"
	SessionNeedFollowup = "need_followup"
	SessionCompleted    = "completed"
)

// RecommendSession 追问会话，落库保证跨请求可恢复
type RecommendSession struct {
	ID               string `gorm:"primaryKey"`
	UserID           uint   `gorm:"index"`
	Source           string `gorm:"index;default:douban"`
	Query            string
	Status           string `gorm:"index;default:pending"`
	NeedsFollowup    bool
	FollowupQuestion string
	ContextJSON      string `gorm:"default:'{}'"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SessionContext 会话中序列化保存的重放上下文
type SessionContext struct {
	Source          string             `json:"source"`
	Username        string             `json:"username"`
	TopK            int                `json:"top_k"`
	FriendUsernames []string           `json:"friend_usernames"`
	FriendWeights   map[string]float64 `json:"friend_weights"`
}

// RecommendResult 会话产出的排序结果行
type RecommendResult struct {
	ID        uint   `gorm:"primaryKey"`
	SessionID string `gorm:"index;uniqueIndex:uq_results_session_rank"`
	SubjectID string
	Rank      int `gorm:"uniqueIndex:uq_results_session_rank"`
	Score     float64
	Reason    string
	CreatedAt time.Time
}
