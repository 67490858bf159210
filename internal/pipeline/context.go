package pipeline

import (
	"context"
	"fmt"

	"douban_recommend/internal/constraint"
	"douban_recommend/internal/model"
)

// Context 承载一次推荐请求的全部中间状态。
// 流水线在单个请求内同步执行，状态不跨请求共享。
type Context struct {
	Ctx         context.Context
	Query       string
	TopK        int
	Constraints *constraint.Constraints

	User           *model.User
	History        []*model.HistoryRecord
	ProfileSummary string

	SeenSubjectIDs map[string]bool
	SeenSeriesKeys map[string]bool
	SeenTitles     map[string]bool

	Candidates         []*model.CandidateItem
	DedupedSeriesCount int
	UsingFallback      bool

	TraceLog []string // 执行日志，排查用
}

// AddLog 添加追踪日志
func (c *Context) AddLog(format string, v ...interface{}) {
	c.TraceLog = append(c.TraceLog, fmt.Sprintf(format, v...))
}
