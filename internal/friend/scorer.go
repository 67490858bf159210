package friend

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"douban_recommend/internal/constraint"
	"douban_recommend/internal/model"
)

// 参与聚合的最低评分（0-10）
const likeThreshold = 7.0

// 权重的可编辑区间，保证 UI / API 行为稳定可预期
const (
	minWeight = 0.1
	maxWeight = 5.0
)

// History 一位好友的全部交互历史
type History struct {
	Username string
	Records  []*model.HistoryRecord
}

// Result 好友候选聚合产出
type Result struct {
	Candidates          []*model.CandidateItem
	LoadedFriends       int // 拉到历史的好友数
	ContributingFriends int // 至少贡献了一条候选的好友数
}

// NormalizeWeights 为每位好友补默认权重 1.0，调用方覆盖值收敛到 [0.1, 5.0]。
// key 为小写用户名。
func NormalizeWeights(friendUsernames []string, raw map[string]float64) map[string]float64 {
	if len(friendUsernames) == 0 {
		return map[string]float64{}
	}
	weights := make(map[string]float64, len(friendUsernames))
	for _, name := range friendUsernames {
		weights[strings.ToLower(name)] = 1.0
	}
	for rawName, value := range raw {
		key := strings.ToLower(strings.TrimSpace(rawName))
		if _, ok := weights[key]; !ok {
			continue
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			continue
		}
		weights[key] = math.Min(maxWeight, math.Max(minWeight, value))
	}
	return weights
}

type bucket struct {
	record       *model.HistoryRecord
	weightedSum  float64
	weightSum    float64
	usernames    map[string]bool
	latestAt     time.Time
	commentChars int
}

// Score 聚合好友历史为带综合分的候选列表。
// 只统计评分 ≥ 7 的“喜欢”交互；已被主用户消费的条目直接跳过。
func Score(histories []*History, weights map[string]float64, seenSubjectIDs map[string]bool, constraints *constraint.Constraints, now time.Time) *Result {
	result := &Result{}
	aggregated := make(map[string]*bucket)
	contributing := make(map[string]bool)

	for _, h := range histories {
		usernameKey := strings.ToLower(h.Username)
		weight := 1.0
		if w, ok := weights[usernameKey]; ok {
			weight = w
		}
		if weight <= 0 {
			continue
		}
		if len(h.Records) > 0 {
			result.LoadedFriends++
		}
		for _, record := range h.Records {
			if !constraints.TypeAllowed(record.Type) {
				continue
			}
			if seenSubjectIDs[record.SubjectID] {
				continue
			}
			if !record.Rated() || record.Rating < likeThreshold {
				continue
			}
			contributing[usernameKey] = true

			b, ok := aggregated[record.SubjectID]
			if !ok {
				b = &bucket{record: record, usernames: make(map[string]bool)}
				aggregated[record.SubjectID] = b
			}
			b.weightedSum += record.Rating * weight
			b.weightSum += weight
			b.usernames[h.Username] = true
			if !record.InteractedAt.IsZero() && record.InteractedAt.After(b.latestAt) {
				b.latestAt = record.InteractedAt
			}
			if comment := strings.TrimSpace(record.Comment); comment != "" {
				b.commentChars += len([]rune(comment))
			}
		}
	}
	result.ContributingFriends = len(contributing)

	for subjectID, b := range aggregated {
		friendCount := len(b.usernames)
		if friendCount == 0 || b.weightSum <= 0 {
			continue
		}
		avgRating := b.weightedSum / b.weightSum

		// 综合分：评分强度与好友共识近似等权，评论深度与新近度只做小幅加成
		socialBoost := math.Min(b.weightSum/3.0, 1.0)
		commentBoost := math.Min(float64(b.commentChars)/160.0, 1.0) * 0.06
		recencyBoost := 0.0
		if !b.latestAt.IsZero() {
			daysSince := math.Max(0, now.Sub(b.latestAt).Hours()/24)
			recencyBoost = math.Max(0, 1.0-math.Min(daysSince, 3650.0)/3650.0) * 0.05
		}
		score := math.Min(0.99, 0.38+0.40*(avgRating/10.0)+0.17*socialBoost+commentBoost+recencyBoost)

		usernames := make([]string, 0, friendCount)
		for name := range b.usernames {
			usernames = append(usernames, name)
		}
		sort.Strings(usernames)
		if len(usernames) > 5 {
			usernames = usernames[:5]
		}

		result.Candidates = append(result.Candidates, &model.CandidateItem{
			SubjectID: subjectID,
			Title:     b.record.Title,
			Type:      b.record.Type,
			Year:      b.record.Year,
			URL:       b.record.URL,
			Score:     round4(score),
			Friend: &model.FriendAggregate{
				Count:        friendCount,
				AvgRating:    avgRating,
				WeightSum:    b.weightSum,
				WeightAvg:    b.weightSum / float64(friendCount),
				LatestAt:     b.latestAt,
				CommentChars: b.commentChars,
				Usernames:    usernames,
			},
		})
	}

	sort.SliceStable(result.Candidates, func(i, j int) bool {
		a, b := result.Candidates[i], result.Candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.FriendLatestAt().Equal(b.FriendLatestAt()) {
			return a.FriendLatestAt().After(b.FriendLatestAt())
		}
		return a.Year > b.Year
	})
	return result
}

// Reason 生成中文推荐理由；没有好友信号时返回空串。
// 只有调用方显式改过权重时才展示权重值。
func Reason(agg *model.FriendAggregate) string {
	if agg == nil || agg.Count <= 0 {
		return ""
	}
	weightedHint := math.Abs(agg.WeightAvg-1.0) > 1e-6
	dateHint := ""
	if !agg.LatestAt.IsZero() {
		dateHint = agg.LatestAt.Format("2006-01-02")
	}

	if agg.Count == 1 && len(agg.Usernames) > 0 {
		parts := []string{fmt.Sprintf("评分%.1f", agg.AvgRating)}
		if weightedHint {
			parts = append(parts, fmt.Sprintf("权重%.2f", agg.WeightSum))
		}
		if dateHint != "" {
			parts = append(parts, "最近于"+dateHint)
		}
		return fmt.Sprintf("%s高分读过（%s）", agg.Usernames[0], strings.Join(parts, "，"))
	}

	parts := []string{fmt.Sprintf("均分%.1f", agg.AvgRating)}
	if weightedHint {
		parts = append(parts, fmt.Sprintf("权重和%.2f", agg.WeightSum))
	}
	if dateHint != "" {
		parts = append(parts, "最近于"+dateHint)
	}
	return fmt.Sprintf("%d位好友高分读过（%s）", agg.Count, strings.Join(parts, "，"))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
