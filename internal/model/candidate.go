package model

import "time"

// HistoryRecord 一条用户与条目的交互记录，由同步流程写入，本核心只读
type HistoryRecord struct {
	SubjectID    string
	Title        string
	Type         MediaType
	Year         int // 0 表示未知
	URL          string
	Rating       float64 // 0-10，<0 表示未评分
	InteractedAt time.Time
	Comment      string
}

// Rated 是否带有效评分
func (r *HistoryRecord) Rated() bool { return r.Rating >= 0 }

// SeriesAnnotation 系列标注，由聚合阶段写入，下游不再重新推导
type SeriesAnnotation struct {
	Key       string // "{type}:{base}"
	TitleZH   string // 规范中文展示名
	IsVariant bool   // 是否为译名/分卷等变体
}

// FriendAggregate 好友协同信号的聚合结果
type FriendAggregate struct {
	Count        int       // 贡献好友数
	AvgRating    float64   // 加权平均评分
	WeightSum    float64   // 权重和
	WeightAvg    float64   // 平均权重
	LatestAt     time.Time // 最近一次好友交互时间
	CommentChars int       // 短评总字数
	Usernames    []string  // 贡献好友（排序后，最多 5 个）
}

// CandidateItem 候选条目
// 标注字段用显式结构体而不是 map，保证类型安全
type CandidateItem struct {
	SubjectID      string
	Title          string
	Type           MediaType
	Year           int
	URL            string
	Score          float64
	DisplayTitleZH string   // 来源自带的中文名（如回退库条目）
	Tags           []string // 题材标签（回退库条目）
	Series         *SeriesAnnotation
	Friend         *FriendAggregate
}

// FriendLatestAt 好友最近交互时间，无好友信号时返回零值，用于排序 tie-break
func (c *CandidateItem) FriendLatestAt() time.Time {
	if c.Friend == nil {
		return time.Time{}
	}
	return c.Friend.LatestAt
}

// SeriesKey 返回已标注的系列 key，未标注时为空串
func (c *CandidateItem) SeriesKey() string {
	if c.Series == nil {
		return ""
	}
	return c.Series.Key
}

// RankedItem 最终排序结果中的一项
type RankedItem struct {
	SubjectID               string    `json:"subject_id"`
	Title                   string    `json:"title"`
	Type                    MediaType `json:"type"`
	Year                    int       `json:"year,omitempty"`
	URL                     string    `json:"douban_url"`
	Score                   float64   `json:"score"`
	Reason                  string    `json:"reason"`
	SeriesKey               string    `json:"series_key,omitempty"`
	SeriesTitleZH           string    `json:"series_title_zh,omitempty"`
	IsSeriesRepresentative  bool      `json:"is_series_representative"`
}

// AppliedConstraints 响应中回显的约束信息
type AppliedConstraints struct {
	StrictTypes        []string `json:"strict_types"`
	SeriesGrouping     bool     `json:"series_grouping"`
	TitleLanguage      string   `json:"title_language"`
	DedupedSeriesCount int      `json:"deduped_series_count"`
}

// 响应状态
const (
	StatusOK           = "ok"
	StatusNeedFollowup = "need_followup"
)

// RecommendResponse 推荐接口的出参
type RecommendResponse struct {
	Status             string              `json:"status"`
	FollowupQuestion   string              `json:"followup_question,omitempty"`
	SessionID          string              `json:"session_id,omitempty"`
	ProfileSummary     string              `json:"profile_summary"`
	AppliedConstraints *AppliedConstraints `json:"applied_constraints,omitempty"`
	Items              []*RankedItem       `json:"items"`
}
