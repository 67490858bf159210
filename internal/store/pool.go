package store

import (
	"context"
	"fmt"
	"math"

	"douban_recommend/internal/model"
	"douban_recommend/internal/source"
)

// 候选池单次返回上限与历史分页大小
const (
	poolLimit       = 200
	historyPageSize = 50
)

// CommunityPool 把库里所有已同步用户的高分条目当作同域候选源，
// 实现 source.Adapter。抓取类适配器可替换此实现，接口不变。
type CommunityPool struct {
	store      *Store
	sourceName string
}

// Pool 返回绑定某数据源的社区候选池
func (s *Store) Pool(sourceName string) *CommunityPool {
	return &CommunityPool{store: s, sourceName: sourceName}
}

// FetchHistory 按页读取某用户某类型的交互历史，cursor 为行偏移
func (p *CommunityPool) FetchHistory(ctx context.Context, username string, cursor int, mediaType model.MediaType) (*source.HistoryPage, error) {
	user, err := p.store.FindUser(p.sourceName, username)
	if err != nil {
		return nil, err
	}
	if cursor < 0 {
		cursor = 0
	}

	var rows []historyRow
	err = p.store.db.WithContext(ctx).Table("interactions").
		Select("items.subject_id, items.title, items.type, items.year, items.douban_url, interactions.rating, interactions.interacted_at, interactions.comment").
		Joins("JOIN items ON items.id = interactions.item_id").
		Where("interactions.user_id = ? AND items.type = ?", user.ID, string(mediaType)).
		Order("interactions.id").
		Offset(cursor).
		Limit(historyPageSize + 1).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to page history: %w", err)
	}

	next := -1
	if len(rows) > historyPageSize {
		rows = rows[:historyPageSize]
		next = cursor + historyPageSize
	}
	page := &source.HistoryPage{NextCursor: next}
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
		page.Records = append(page.Records, record)
	}
	return page, nil
}

type poolRow struct {
	SubjectID string
	Title     string
	Type      string
	Year      int
	URL       string `gorm:"column:douban_url"`
	AvgRating float64
	LikeCount int
}

// FetchCandidatePool 取全库评分 ≥ 7 的条目作为候选，
// 类型跟随种子，按均分降序截断。
func (p *CommunityPool) FetchCandidatePool(ctx context.Context, seeds []*model.CandidateItem) ([]*model.CandidateItem, error) {
	types := seedTypes(seeds)
	if len(types) == 0 {
		types = []string{string(model.TypeMovie), string(model.TypeTV), string(model.TypeBook)}
	}

	var rows []poolRow
	err := p.store.db.WithContext(ctx).Table("interactions").
		Select("items.subject_id, items.title, items.type, items.year, items.douban_url, AVG(interactions.rating) AS avg_rating, COUNT(interactions.id) AS like_count").
		Joins("JOIN items ON items.id = interactions.item_id").
		Where("items.source = ? AND items.type IN ? AND interactions.rating >= ?", p.sourceName, types, 7.0).
		Group("items.id").
		Order("avg_rating DESC, like_count DESC").
		Limit(poolLimit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query candidate pool: %w", err)
	}

	candidates := make([]*model.CandidateItem, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, &model.CandidateItem{
			SubjectID: row.SubjectID,
			Title:     row.Title,
			Type:      model.MediaType(row.Type),
			Year:      row.Year,
			URL:       row.URL,
			Score:     math.Round(row.AvgRating/10.0*10000) / 10000,
		})
	}
	return candidates, nil
}

func seedTypes(seeds []*model.CandidateItem) []string {
	seen := make(map[string]bool)
	var types []string
	for _, seed := range seeds {
		t := string(seed.Type)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		types = append(types, t)
	}
	return types
}

var _ source.Adapter = (*CommunityPool)(nil)
