package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"douban_recommend/internal/catalog"
	"douban_recommend/internal/constraint"
	"douban_recommend/internal/friend"
	"douban_recommend/internal/logger"
	"douban_recommend/internal/model"
	"douban_recommend/internal/series"
	"douban_recommend/internal/session"
	"douban_recommend/internal/source"
	"douban_recommend/pkg/llm"
)

// 错误分类：调用方错误直接拒绝，不重试
var (
	// ErrUserNotSynced 用户还没有同步过历史
	ErrUserNotSynced = errors.New("user has no synced data, please sync first")
	// ErrNoCandidates 无类型限制下候选完全为空，上游候选源不可用
	ErrNoCandidates = errors.New("no candidate items available, candidate supply may be blocked")
	// ErrSessionInactive 追问会话已回答过
	ErrSessionInactive = errors.New("follow-up session is no longer active")
)

// 追问问题文案
const (
	questionAmbiguous  = "你更偏向电影、剧集还是书籍？以及时间范围（如近5年）？"
	questionSparseBook = "当前书籍候选不足，需补充题材/年代偏好。"
)

// 种子条目上限
const maxSeedItems = 10

// UserStore 用户与历史的读取接口
type UserStore interface {
	FindUser(sourceName, username string) (*model.User, error)
	FindFriendUsers(sourceName string, usernames []string) ([]*model.User, error)
	LoadHistory(userID uint) ([]*model.HistoryRecord, error)
}

// Request 推荐请求入参
type Request struct {
	Source          string
	Username        string
	Query           string
	TopK            int
	AllowFollowup   bool
	FriendUsernames []string
	FriendWeights   map[string]float64
}

// Engine 推荐流水线：
// 约束解析 → 画像/种子 → 多源候选 → 去重 → 排序 → 追问判定
type Engine struct {
	users    UserStore
	sessions session.Store
	adapter  source.Adapter
	reranker *llm.Reranker
	now      func() time.Time
}

// NewEngine 创建推荐引擎。reranker 可为 nil，表示只走本地启发式。
func NewEngine(users UserStore, sessions session.Store, adapter source.Adapter, reranker *llm.Reranker) *Engine {
	return &Engine{
		users:    users,
		sessions: sessions,
		adapter:  adapter,
		reranker: reranker,
		now:      time.Now,
	}
}

// Recommend 执行一次完整的推荐流程
func (e *Engine) Recommend(ctx context.Context, req *Request) (*model.RecommendResponse, error) {
	constraints := constraint.Parse(req.Query)
	friendUsernames := normalizeFriendUsernames(req.FriendUsernames, req.Username)
	friendWeights := friend.NormalizeWeights(friendUsernames, normalizeWeightKeys(req.FriendWeights))

	pctx := &Context{
		Ctx:         ctx,
		Query:       req.Query,
		TopK:        req.TopK,
		Constraints: constraints,
	}

	user, err := e.users.FindUser(req.Source, req.Username)
	if err != nil {
		return nil, ErrUserNotSynced
	}
	pctx.User = user

	history, err := e.users.LoadHistory(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	if len(history) == 0 {
		return nil, ErrUserNotSynced
	}
	pctx.History = history

	pctx.ProfileSummary = buildProfileSummary(history)
	pctx.SeenSubjectIDs = make(map[string]bool, len(history))
	pctx.SeenSeriesKeys = make(map[string]bool, len(history))
	pctx.SeenTitles = make(map[string]bool, len(history))
	for _, r := range history {
		pctx.SeenSubjectIDs[r.SubjectID] = true
		pctx.SeenSeriesKeys[series.Normalize(r.Title, r.Type).SeriesKey] = true
		if t := strings.ToLower(strings.TrimSpace(r.Title)); t != "" {
			pctx.SeenTitles[t] = true
		}
	}

	// 追问判定 (a)：查询过短或纯“随便”，在拉候选之前就拦下
	if req.AllowFollowup && queryIsAmbiguous(req.Query) {
		pctx.AddLog("query ambiguous, asking for clarification")
		return e.buildFollowupResponse(pctx, req, friendUsernames, friendWeights, questionAmbiguous)
	}

	friendFocusActive := constraints.FriendFocus && len(friendUsernames) > 0

	// 候选源 (a)：基于种子的外部候选池；好友优先模式下整体排除
	var external []*model.CandidateItem
	if !friendFocusActive {
		seeds := buildSeedItems(history)
		fetched, err := e.adapter.FetchCandidatePool(ctx, seeds)
		if err != nil {
			// 候选源失败按空处理，其余来源继续
			pctx.AddLog("candidate pool fetch failed: %v", err)
			logger.Debug("candidate pool fetch failed: %v", err)
		} else {
			external = fetched
		}
	}

	// 候选源 (b)：好友加权历史
	friendResult := e.buildFriendCandidates(pctx, req.Source, friendUsernames, friendWeights)
	if n := len(friendUsernames); n > 0 {
		pctx.ProfileSummary = fmt.Sprintf("%s；好友已加载 %d/%d 位", pctx.ProfileSummary, friendResult.LoadedFriends, n)
		if friendResult.LoadedFriends < n {
			pctx.ProfileSummary += "（部分好友尚未同步成功，可能被豆瓣风控拦截）"
		}
	}
	if len(friendResult.Candidates) > 0 {
		pctx.ProfileSummary = fmt.Sprintf("%s；好友候选 %d 条（来自 %d 位好友）",
			pctx.ProfileSummary, len(friendResult.Candidates), friendResult.ContributingFriends)
	}

	merged := friendResult.Candidates
	if friendFocusActive {
		pctx.ProfileSummary += "；已启用好友优先候选"
	} else {
		merged = append(merged, external...)
	}

	candidates := annotateCandidates(merged, constraints)
	candidates, reduced := dedupeAndFilterUnseen(candidates, pctx.SeenSubjectIDs, pctx.SeenSeriesKeys, constraints)
	pctx.DedupedSeriesCount += reduced
	pctx.AddLog("merged %d candidates, kept %d after dedupe", len(merged), len(candidates))

	// 追问判定 (b)：书籍约束下真实候选源明显稀疏，先问一轮再考虑回退库
	if req.AllowFollowup && needsSparseFollowup(constraints, req.TopK, len(candidates)) {
		return e.buildFollowupResponse(pctx, req, friendUsernames, friendWeights, questionSparseBook)
	}

	// 候选源 (c)：静态回退库，仅当 (a)+(b) 全空
	if len(candidates) == 0 {
		fallback := catalog.Candidates(req.Query, constraints, pctx.SeenSubjectIDs, pctx.SeenTitles)
		fallback = annotateCandidates(fallback, constraints)
		fallback, reduced = dedupeAndFilterUnseen(fallback, pctx.SeenSubjectIDs, pctx.SeenSeriesKeys, constraints)
		pctx.DedupedSeriesCount += reduced
		candidates = fallback
		pctx.UsingFallback = true
		pctx.AddLog("fallback catalog produced %d candidates", len(candidates))
	}
	pctx.Candidates = candidates

	if len(candidates) == 0 {
		if len(constraints.StrictTypes) > 0 {
			// 类型过滤后合法为空，不算错误
			return &model.RecommendResponse{
				Status:             model.StatusOK,
				ProfileSummary:     pctx.ProfileSummary + "；当前条件下暂无未读候选，可放宽题材关键词后重试。",
				AppliedConstraints: buildAppliedConstraints(pctx),
				Items:              []*model.RankedItem{},
			}, nil
		}
		return nil, ErrNoCandidates
	}

	if pctx.UsingFallback {
		pctx.ProfileSummary += "; 候选来源: 本地回退库"
	}

	ranking := e.rankCandidates(pctx, !friendFocusActive)
	ranking = postValidateRanked(ranking, pctx)

	// 追问判定 (b) 复查：类型/题材过滤可能把已有候选筛到过少
	if req.AllowFollowup && needsSparseFollowup(constraints, req.TopK, len(ranking)) {
		return e.buildFollowupResponse(pctx, req, friendUsernames, friendWeights, questionSparseBook)
	}

	if req.TopK > 0 && len(ranking) > req.TopK {
		ranking = ranking[:req.TopK]
	}
	logger.Debug("recommend done: user=%s items=%d trace=%v", req.Username, len(ranking), pctx.TraceLog)
	return &model.RecommendResponse{
		Status:             model.StatusOK,
		ProfileSummary:     pctx.ProfileSummary,
		AppliedConstraints: buildAppliedConstraints(pctx),
		Items:              ranking,
	}, nil
}

// AnswerFollowup 提交追问答案并重新执行流水线。
// 重放固定 allow_followup=false，保证一次逻辑请求最多两轮。
func (e *Engine) AnswerFollowup(ctx context.Context, sessionID, answer string) (*model.RecommendResponse, error) {
	sess, err := e.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.NeedsFollowup {
		return nil, ErrSessionInactive
	}

	var sctx model.SessionContext
	if err := json.Unmarshal([]byte(sess.ContextJSON), &sctx); err != nil {
		return nil, fmt.Errorf("failed to decode session context: %w", err)
	}

	mergedQuery := fmt.Sprintf("%s\n补充偏好: %s", sess.Query, answer)
	if err := e.sessions.MarkCompleted(sessionID); err != nil {
		return nil, err
	}

	topK := sctx.TopK
	if topK <= 0 {
		topK = 20
	}
	resp, err := e.Recommend(ctx, &Request{
		Source:          sctx.Source,
		Username:        sctx.Username,
		Query:           mergedQuery,
		TopK:            topK,
		AllowFollowup:   false,
		FriendUsernames: sctx.FriendUsernames,
		FriendWeights:   sctx.FriendWeights,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Items) > 0 {
		// 结果落库失败不影响响应
		if saveErr := e.sessions.SaveResults(sessionID, resp.Items); saveErr != nil {
			logger.Error("failed to persist ranked results: %v", saveErr)
		}
	}
	return resp, nil
}

// buildFriendCandidates 取好友历史并聚合为候选
func (e *Engine) buildFriendCandidates(pctx *Context, sourceName string, friendUsernames []string, weights map[string]float64) *friend.Result {
	if len(friendUsernames) == 0 {
		return &friend.Result{}
	}
	friendUsers, err := e.users.FindFriendUsers(sourceName, friendUsernames)
	if err != nil {
		pctx.AddLog("friend lookup failed: %v", err)
		return &friend.Result{}
	}

	var histories []*friend.History
	for _, fu := range friendUsers {
		records, err := e.users.LoadHistory(fu.ID)
		if err != nil {
			pctx.AddLog("friend history load failed for %s: %v", fu.Username, err)
			continue
		}
		histories = append(histories, &friend.History{Username: fu.Username, Records: records})
	}
	return friend.Score(histories, weights, pctx.SeenSubjectIDs, pctx.Constraints, e.now())
}

// buildFollowupResponse 落库追问会话并返回澄清问题
func (e *Engine) buildFollowupResponse(pctx *Context, req *Request, friendUsernames []string, friendWeights map[string]float64, question string) (*model.RecommendResponse, error) {
	sctx := model.SessionContext{
		Source:          req.Source,
		Username:        req.Username,
		TopK:            req.TopK,
		FriendUsernames: friendUsernames,
		FriendWeights:   friendWeights,
	}
	if sctx.FriendUsernames == nil {
		sctx.FriendUsernames = []string{}
	}
	if sctx.FriendWeights == nil {
		sctx.FriendWeights = map[string]float64{}
	}
	contextJSON, err := json.Marshal(sctx)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session context: %w", err)
	}

	sess := &model.RecommendSession{
		UserID:           pctx.User.ID,
		Source:           req.Source,
		Query:            req.Query,
		Status:           model.SessionNeedFollowup,
		NeedsFollowup:    true,
		FollowupQuestion: question,
		ContextJSON:      string(contextJSON),
	}
	if err := e.sessions.Create(sess); err != nil {
		return nil, fmt.Errorf("failed to create follow-up session: %w", err)
	}

	return &model.RecommendResponse{
		Status:             model.StatusNeedFollowup,
		FollowupQuestion:   question,
		SessionID:          sess.ID,
		ProfileSummary:     pctx.ProfileSummary,
		AppliedConstraints: buildAppliedConstraints(pctx),
		Items:              []*model.RankedItem{},
	}, nil
}

func buildAppliedConstraints(pctx *Context) *model.AppliedConstraints {
	return &model.AppliedConstraints{
		StrictTypes:        pctx.Constraints.StrictTypeNames(),
		SeriesGrouping:     true,
		TitleLanguage:      pctx.Constraints.LanguagePreference,
		DedupedSeriesCount: pctx.DedupedSeriesCount,
	}
}

// queryIsAmbiguous 判定 (a)：极短查询或纯放任型查询
func queryIsAmbiguous(query string) bool {
	compact := strings.ToLower(strings.TrimSpace(query))
	switch compact {
	case "随便", "whatever", "any":
		return true
	}
	return utf8.RuneCountInString(compact) <= 2
}

// needsSparseFollowup 判定 (b)：仅书籍约束触发。
// 书籍候选源明显更稀疏，电影/剧集不做同样判定（刻意的非对称策略）。
func needsSparseFollowup(constraints *constraint.Constraints, topK, itemCount int) bool {
	if !constraints.FollowupOnSparse {
		return false
	}
	if !constraints.BookOnly() {
		return false
	}
	threshold := topK
	if threshold < 1 {
		threshold = 1
	}
	if threshold > 3 {
		threshold = 3
	}
	return itemCount < threshold
}

// buildProfileSummary 汇总画像：各类型均分 + 高分样本，系列只取最高分代表
func buildProfileSummary(history []*model.HistoryRecord) string {
	type repr struct {
		record  *model.HistoryRecord
		titleZH string
	}
	bySeries := make(map[string]repr)
	var order []string
	for _, r := range history {
		identity := series.Normalize(r.Title, r.Type)
		current, ok := bySeries[identity.SeriesKey]
		if !ok {
			bySeries[identity.SeriesKey] = repr{r, identity.DisplayTitleZH}
			order = append(order, identity.SeriesKey)
			continue
		}
		currentRating, nextRating := -1.0, -1.0
		if current.record.Rated() {
			currentRating = current.record.Rating
		}
		if r.Rated() {
			nextRating = r.Rating
		}
		if nextRating > currentRating {
			bySeries[identity.SeriesKey] = repr{r, identity.DisplayTitleZH}
		}
	}

	byType := map[model.MediaType][]float64{}
	var representatives []repr
	for _, key := range order {
		rp := bySeries[key]
		representatives = append(representatives, rp)
		if rp.record.Rated() {
			byType[rp.record.Type] = append(byType[rp.record.Type], rp.record.Rating)
		}
	}

	sort.SliceStable(representatives, func(i, j int) bool {
		a, b := -1.0, -1.0
		if representatives[i].record.Rated() {
			a = representatives[i].record.Rating
		}
		if representatives[j].record.Rated() {
			b = representatives[j].record.Rating
		}
		return a > b
	})

	var likedTitles []string
	likedSeen := make(map[string]bool)
	for _, rp := range representatives {
		if !rp.record.Rated() || rp.record.Rating < 8 {
			continue
		}
		if likedSeen[rp.titleZH] {
			continue
		}
		likedSeen[rp.titleZH] = true
		likedTitles = append(likedTitles, rp.titleZH)
		if len(likedTitles) >= 5 {
			break
		}
	}

	var parts []string
	for _, t := range []model.MediaType{model.TypeMovie, model.TypeTV, model.TypeBook} {
		scores := byType[t]
		if len(scores) == 0 {
			continue
		}
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		parts = append(parts, fmt.Sprintf("%s平均评分 %.1f", t.DisplayZH(), sum/float64(len(scores))))
	}
	if len(likedTitles) > 0 {
		parts = append(parts, "高分样本: "+strings.Join(likedTitles, "、"))
	}
	if len(parts) == 0 {
		return "画像信号较少"
	}
	return strings.Join(parts, "；")
}

// buildSeedItems 选高分且系列不重复的条目作为候选池种子，最多 10 条
func buildSeedItems(history []*model.HistoryRecord) []*model.CandidateItem {
	sorted := make([]*model.HistoryRecord, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := 0.0, 0.0
		if sorted[i].Rated() {
			a = sorted[i].Rating
		}
		if sorted[j].Rated() {
			b = sorted[j].Rating
		}
		return a > b
	})

	var seeds []*model.CandidateItem
	seenSeries := make(map[string]bool)
	for _, r := range sorted {
		identity := series.Normalize(r.Title, r.Type)
		if seenSeries[identity.SeriesKey] {
			continue
		}
		seenSeries[identity.SeriesKey] = true

		rating := 6.0
		if r.Rated() && r.Rating > 0 {
			rating = r.Rating
		}
		seeds = append(seeds, &model.CandidateItem{
			SubjectID: r.SubjectID,
			Title:     identity.DisplayTitleZH,
			Type:      r.Type,
			Year:      r.Year,
			URL:       r.URL,
			Score:     rating / 10.0,
			Series: &model.SeriesAnnotation{
				Key:       identity.SeriesKey,
				TitleZH:   identity.DisplayTitleZH,
				IsVariant: identity.IsVariant,
			},
		})
		if len(seeds) >= maxSeedItems {
			break
		}
	}
	return seeds
}

// normalizeFriendUsernames 清洗好友名单：解析主页链接、去重、剔除自己
func normalizeFriendUsernames(raw []string, owner string) []string {
	if len(raw) == 0 {
		return nil
	}
	normalizedOwner := source.NormalizeUsername(owner)
	if normalizedOwner == "" {
		normalizedOwner = owner
	}
	ownerLower := strings.ToLower(normalizedOwner)

	var normalized []string
	seen := make(map[string]bool)
	for _, value := range raw {
		compact := strings.TrimSpace(value)
		if compact == "" {
			continue
		}
		if parsed := source.NormalizeUsername(compact); parsed != "" && parsed != source.MineMarker {
			compact = parsed
		}
		key := strings.ToLower(compact)
		if key == ownerLower || seen[key] {
			continue
		}
		seen[key] = true
		normalized = append(normalized, compact)
	}
	return normalized
}

// normalizeWeightKeys 权重表的 key 同样走用户名归一
func normalizeWeightKeys(raw map[string]float64) map[string]float64 {
	if len(raw) == 0 {
		return nil
	}
	normalized := make(map[string]float64, len(raw))
	for name, weight := range raw {
		compact := strings.TrimSpace(name)
		if compact == "" {
			continue
		}
		if parsed := source.NormalizeUsername(compact); parsed != "" && parsed != source.MineMarker {
			compact = parsed
		}
		normalized[compact] = weight
	}
	return normalized
}
