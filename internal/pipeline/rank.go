package pipeline

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"douban_recommend/internal/constraint"
	"douban_recommend/internal/friend"
	"douban_recommend/internal/model"
	"douban_recommend/pkg/llm"
)

// 发给重排模型的候选上限
const rerankCandidateCap = 80

// rankCandidates 对去重后的候选排序。
// 配置了重排器且非好友优先模式时先走外部重排，失败或结果不可用
// 时回退本地启发式；好友优先模式直接信任协同分的排序。
func (e *Engine) rankCandidates(pctx *Context, useLLM bool) []*model.RankedItem {
	if useLLM && e.reranker.Configured() {
		if ranked := e.rankViaLLM(pctx); ranked != nil {
			return ranked
		}
		pctx.AddLog("rerank unavailable, falling back to local heuristic")
	}
	return rankLocally(pctx, e.now())
}

// rankViaLLM 外部重排路径。返回 nil 表示应回退本地启发式。
func (e *Engine) rankViaLLM(pctx *Context) []*model.RankedItem {
	prompt := make([]llm.RerankCandidate, 0, rerankCandidateCap)
	for _, c := range pctx.Candidates {
		if len(prompt) >= rerankCandidateCap {
			break
		}
		year := ""
		if c.Year > 0 {
			year = strconv.Itoa(c.Year)
		}
		isVariant := "false"
		if c.Series != nil && c.Series.IsVariant {
			isVariant = "true"
		}
		prompt = append(prompt, llm.RerankCandidate{
			SubjectID:       c.SubjectID,
			Title:           c.Title,
			Type:            string(c.Type),
			Year:            year,
			SeriesKey:       c.SeriesKey(),
			DisplayTitleZH:  candidateSeriesTitle(c),
			IsSeriesVariant: isVariant,
		})
	}

	result, err := e.reranker.Rerank(pctx.Ctx, &llm.RerankRequest{
		Query:              pctx.Query,
		ProfileSummary:     pctx.ProfileSummary,
		AllowFollowup:      false,
		StrictTypes:        pctx.Constraints.StrictTypeNames(),
		LanguagePreference: pctx.Constraints.LanguagePreference,
		Candidates:         prompt,
	})
	if err != nil {
		pctx.AddLog("rerank call failed: %v", err)
		return nil
	}
	if len(result.Ranked) == 0 {
		return nil
	}

	candidateMap := make(map[string]*model.CandidateItem, len(pctx.Candidates))
	for _, c := range pctx.Candidates {
		candidateMap[c.SubjectID] = c
	}

	var ranked []*model.RankedItem
	usedSubjects := make(map[string]bool)
	usedSeries := make(map[string]bool)

	// 模型结果逐条校验：未知条目、类型越界、系列重复的丢弃
	for _, choice := range result.Ranked {
		c, ok := candidateMap[choice.SubjectID]
		if !ok {
			continue
		}
		if !pctx.Constraints.TypeAllowed(c.Type) {
			continue
		}
		if usedSubjects[c.SubjectID] {
			continue
		}
		seriesKey := candidateSeriesKey(c)
		if usedSeries[seriesKey] {
			continue
		}
		usedSubjects[c.SubjectID] = true
		usedSeries[seriesKey] = true
		ranked = append(ranked, candidateToRanked(c, choice.Score, choice.Reason))
	}

	// 模型没覆盖到的候选按预排序顺序补在后面，
	// 保证部分 / 畸形响应下结果仍覆盖全部幸存候选
	for _, c := range pctx.Candidates {
		if !pctx.Constraints.TypeAllowed(c.Type) {
			continue
		}
		if usedSubjects[c.SubjectID] {
			continue
		}
		seriesKey := candidateSeriesKey(c)
		if usedSeries[seriesKey] {
			continue
		}
		usedSubjects[c.SubjectID] = true
		usedSeries[seriesKey] = true
		reason := friend.Reason(c.Friend)
		if reason == "" {
			reason = "与历史高分偏好相似"
		}
		ranked = append(ranked, candidateToRanked(c, c.Score, reason))
	}
	if len(ranked) == 0 {
		return nil
	}
	return ranked
}

// rankLocally 本地启发式：原始分 + 查询提示词加成，确定性 tie-break
func rankLocally(pctx *Context, now time.Time) []*model.RankedItem {
	nowYear := now.UTC().Year()
	query := pctx.Query
	movieHint := strings.Contains(query, "电影")
	tvHint := strings.Contains(query, "剧")
	bookHint := strings.Contains(query, "书") || strings.Contains(query, "阅读")
	recentHint := strings.Contains(query, "近")

	type scored struct {
		score float64
		c     *model.CandidateItem
	}
	var rows []scored
	for _, c := range pctx.Candidates {
		if !pctx.Constraints.TypeAllowed(c.Type) {
			continue
		}
		score := c.Score
		if recentHint && c.Year > 0 && c.Year >= nowYear-5 {
			score += 0.25
		}
		if movieHint && c.Type == model.TypeMovie {
			score += 0.2
		}
		if tvHint && c.Type == model.TypeTV {
			score += 0.2
		}
		if bookHint && c.Type == model.TypeBook {
			score += 0.2
		}
		rows = append(rows, scored{score, c})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.c.FriendLatestAt().Equal(b.c.FriendLatestAt()) {
			return a.c.FriendLatestAt().After(b.c.FriendLatestAt())
		}
		return a.c.Year > b.c.Year
	})

	var result []*model.RankedItem
	usedSeries := make(map[string]bool)
	for _, row := range rows {
		seriesKey := candidateSeriesKey(row.c)
		if usedSeries[seriesKey] {
			continue
		}
		usedSeries[seriesKey] = true

		reasonParts := []string{}
		if fr := friend.Reason(row.c.Friend); fr != "" {
			reasonParts = append(reasonParts, fr)
		} else {
			reasonParts = append(reasonParts, "匹配你的历史高分偏好")
		}
		if row.c.Year > 0 {
			reasonParts = append(reasonParts, "年份 "+strconv.Itoa(row.c.Year))
		}
		if recentHint && row.c.Year > 0 && row.c.Year >= nowYear-5 {
			reasonParts = append(reasonParts, "符合近年偏好")
		}
		result = append(result, candidateToRanked(row.c, round4(row.score), strings.Join(reasonParts, "，")))
	}
	return result
}

// postValidateRanked 对排序结果再做一次类型与系列唯一性校验，
// 并把标题强制为规范中文名。防御外部重排越界。
func postValidateRanked(items []*model.RankedItem, pctx *Context) []*model.RankedItem {
	var validated []*model.RankedItem
	seenSeries := make(map[string]bool)
	for _, item := range items {
		if !pctx.Constraints.TypeAllowed(item.Type) {
			continue
		}
		seriesKey := item.SeriesKey
		if seriesKey == "" {
			seriesKey = candidateSeriesKey(&model.CandidateItem{Title: item.Title, Type: item.Type})
		}
		if seenSeries[seriesKey] {
			continue
		}
		seenSeries[seriesKey] = true

		item.SeriesKey = seriesKey
		if item.SeriesTitleZH == "" {
			item.SeriesTitleZH = candidateSeriesTitle(&model.CandidateItem{Title: item.Title, Type: item.Type})
		}
		item.IsSeriesRepresentative = true
		if pctx.Constraints.LanguagePreference == constraint.LangZHPreferred && item.SeriesTitleZH != "" {
			item.Title = item.SeriesTitleZH
		}
		validated = append(validated, item)
	}
	return validated
}

func candidateToRanked(c *model.CandidateItem, score float64, reason string) *model.RankedItem {
	return &model.RankedItem{
		SubjectID:              c.SubjectID,
		Title:                  c.Title,
		Type:                   c.Type,
		Year:                   c.Year,
		URL:                    c.URL,
		Score:                  score,
		Reason:                 reason,
		SeriesKey:              candidateSeriesKey(c),
		SeriesTitleZH:          candidateSeriesTitle(c),
		IsSeriesRepresentative: true,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
