package source

import (
	"context"

	"douban_recommend/internal/model"
)

// HistoryPage 一页交互历史
type HistoryPage struct {
	Records    []*model.HistoryRecord
	NextCursor int // <0 表示没有下一页
}

// Adapter 上游站点适配器。抓取 / 反爬 / 解析都在实现侧，
// 本核心只消费结果。
type Adapter interface {
	// FetchHistory 按页拉取某用户某媒体类型的交互历史
	FetchHistory(ctx context.Context, username string, cursor int, mediaType model.MediaType) (*HistoryPage, error)
	// FetchCandidatePool 基于种子条目拉取同域候选
	FetchCandidatePool(ctx context.Context, seeds []*model.CandidateItem) ([]*model.CandidateItem, error)
}
