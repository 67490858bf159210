package pipeline

import (
	"sort"

	"douban_recommend/internal/constraint"
	"douban_recommend/internal/model"
	"douban_recommend/internal/series"
)

// annotateCandidates 为候选补齐系列标注，并在偏好中文时改写展示标题。
// 标注一次写入，下游（排序、响应）不再重新推导身份。
func annotateCandidates(candidates []*model.CandidateItem, constraints *constraint.Constraints) []*model.CandidateItem {
	annotated := make([]*model.CandidateItem, 0, len(candidates))
	for _, c := range candidates {
		identity := series.Normalize(c.Title, c.Type)

		titleZH := c.DisplayTitleZH
		if titleZH == "" {
			titleZH = identity.DisplayTitleZH
		}

		copied := *c
		copied.Series = &model.SeriesAnnotation{
			Key:       identity.SeriesKey,
			TitleZH:   titleZH,
			IsVariant: identity.IsVariant,
		}
		if constraints.LanguagePreference == constraint.LangZHPreferred && titleZH != "" {
			copied.Title = titleZH
		}
		annotated = append(annotated, &copied)
	}
	return annotated
}

// sortCandidates 统一的候选预排序：分数、好友最近交互、年份，全部降序
func sortCandidates(candidates []*model.CandidateItem) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.FriendLatestAt().Equal(b.FriendLatestAt()) {
			return a.FriendLatestAt().After(b.FriendLatestAt())
		}
		return a.Year > b.Year
	})
}

// dedupeAndFilterUnseen 约束过滤 + 去重。
// 同一系列只保留预排序下最先出现的一条；与用户已看过的系列冲突的直接丢弃。
// 返回保留的候选和被系列去重掉的条数。
func dedupeAndFilterUnseen(
	candidates []*model.CandidateItem,
	seenSubjectIDs map[string]bool,
	seenSeriesKeys map[string]bool,
	constraints *constraint.Constraints,
) ([]*model.CandidateItem, int) {
	sorted := make([]*model.CandidateItem, len(candidates))
	copy(sorted, candidates)
	sortCandidates(sorted)

	emittedSubjects := make(map[string]bool)
	emittedSeries := make(map[string]bool, len(seenSeriesKeys))
	for key := range seenSeriesKeys {
		emittedSeries[key] = true
	}

	var kept []*model.CandidateItem
	dedupedSeries := 0
	for _, c := range sorted {
		if !constraints.TypeAllowed(c.Type) {
			continue
		}
		if seenSubjectIDs[c.SubjectID] {
			continue
		}
		if emittedSubjects[c.SubjectID] {
			continue
		}
		seriesKey := candidateSeriesKey(c)
		if emittedSeries[seriesKey] {
			dedupedSeries++
			continue
		}
		emittedSubjects[c.SubjectID] = true
		emittedSeries[seriesKey] = true
		kept = append(kept, c)
	}
	return kept, dedupedSeries
}

// candidateSeriesKey 已标注的优先，未标注时现算
func candidateSeriesKey(c *model.CandidateItem) string {
	if key := c.SeriesKey(); key != "" {
		return key
	}
	return series.Normalize(c.Title, c.Type).SeriesKey
}

// candidateSeriesTitle 同上，取规范中文名
func candidateSeriesTitle(c *model.CandidateItem) string {
	if c.Series != nil && c.Series.TitleZH != "" {
		return c.Series.TitleZH
	}
	return series.Normalize(c.Title, c.Type).DisplayTitleZH
}
