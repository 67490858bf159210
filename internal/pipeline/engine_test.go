package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"douban_recommend/internal/model"
	"douban_recommend/internal/session"
	"douban_recommend/internal/source"
	"douban_recommend/pkg/llm"
)

// fakeUsers 内存实现 UserStore
type fakeUsers struct {
	users   map[string]*model.User
	history map[uint][]*model.HistoryRecord
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{
		users:   make(map[string]*model.User),
		history: make(map[uint][]*model.HistoryRecord),
	}
}

func (f *fakeUsers) addUser(sourceName, username string, records ...*model.HistoryRecord) *model.User {
	user := &model.User{ID: uint(len(f.users) + 1), Source: sourceName, Username: username}
	f.users[sourceName+"/"+strings.ToLower(username)] = user
	f.history[user.ID] = records
	return user
}

func (f *fakeUsers) FindUser(sourceName, username string) (*model.User, error) {
	user, ok := f.users[sourceName+"/"+strings.ToLower(username)]
	if !ok {
		return nil, errors.New("user not found")
	}
	return user, nil
}

func (f *fakeUsers) FindFriendUsers(sourceName string, usernames []string) ([]*model.User, error) {
	var found []*model.User
	for _, name := range usernames {
		if user, ok := f.users[sourceName+"/"+strings.ToLower(name)]; ok {
			found = append(found, user)
		}
	}
	return found, nil
}

func (f *fakeUsers) LoadHistory(userID uint) ([]*model.HistoryRecord, error) {
	return f.history[userID], nil
}

// fakeAdapter 返回固定候选池
type fakeAdapter struct {
	pool       []*model.CandidateItem
	err        error
	fetchCalls int
}

func (f *fakeAdapter) FetchHistory(ctx context.Context, username string, cursor int, mediaType model.MediaType) (*source.HistoryPage, error) {
	return &source.HistoryPage{NextCursor: -1}, nil
}

func (f *fakeAdapter) FetchCandidatePool(ctx context.Context, seeds []*model.CandidateItem) ([]*model.CandidateItem, error) {
	f.fetchCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pool, nil
}

// fakeChatClient 固定返回一段内容的 LLM 客户端
type fakeChatClient struct {
	reply string
	err   error
}

func (f *fakeChatClient) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newTestEngine(users *fakeUsers, adapter *fakeAdapter, reranker *llm.Reranker) (*Engine, *session.MemoryStore) {
	sessions := session.NewMemoryStore()
	engine := NewEngine(users, sessions, adapter, reranker)
	engine.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return engine, sessions
}

func movieRecord(subjectID, title string, rating float64) *model.HistoryRecord {
	return &model.HistoryRecord{
		SubjectID:    subjectID,
		Title:        title,
		Type:         model.TypeMovie,
		Rating:       rating,
		InteractedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRecommendUserNotSynced(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "empty_user")
	engine, _ := newTestEngine(users, &fakeAdapter{}, nil)

	_, err := engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "nobody", Query: "推荐点电影", TopK: 5,
	})
	if !errors.Is(err, ErrUserNotSynced) {
		t.Fatalf("unknown user should be ErrUserNotSynced, got %v", err)
	}

	_, err = engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "empty_user", Query: "推荐点电影", TopK: 5,
	})
	if !errors.Is(err, ErrUserNotSynced) {
		t.Fatalf("empty history should be ErrUserNotSynced, got %v", err)
	}
}

func TestRecommendExcludesSeenItemsAndSeries(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "alice", movieRecord("h1", "海贼王", 9))
	adapter := &fakeAdapter{pool: []*model.CandidateItem{
		{SubjectID: "c1", Title: "ワンピース", Type: model.TypeMovie, Score: 0.9},
		{SubjectID: "c2", Title: "航海王", Type: model.TypeMovie, Score: 0.85},
		{SubjectID: "h1", Title: "海贼王", Type: model.TypeMovie, Score: 0.8},
		{SubjectID: "c3", Title: "寄生虫", Type: model.TypeMovie, Score: 0.7},
	}}
	engine, _ := newTestEngine(users, adapter, nil)

	resp, err := engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "alice", Query: "再推荐点类似的电影", TopK: 10,
	})
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if resp.Status != model.StatusOK {
		t.Fatalf("expected status ok, got %s", resp.Status)
	}
	if len(resp.Items) != 1 || resp.Items[0].SubjectID != "c3" {
		t.Fatalf("only the unseen non-series candidate should remain, got %+v", resp.Items)
	}
	// 跨语言同系列的两条都应计入系列去重
	if resp.AppliedConstraints.DedupedSeriesCount < 2 {
		t.Errorf("expected at least 2 series-deduped candidates, got %d", resp.AppliedConstraints.DedupedSeriesCount)
	}
}

func TestRecommendSeriesUniqueAcrossCandidates(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "alice", movieRecord("h1", "盗梦空间", 9))
	adapter := &fakeAdapter{pool: []*model.CandidateItem{
		{SubjectID: "v1", Title: "沙丘 Part 1", Type: model.TypeMovie, Score: 0.8},
		{SubjectID: "v2", Title: "沙丘 Part 2", Type: model.TypeMovie, Score: 0.9},
		{SubjectID: "o1", Title: "寄生虫", Type: model.TypeMovie, Score: 0.7},
	}}
	engine, _ := newTestEngine(users, adapter, nil)

	resp, err := engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "alice", Query: "推荐几部高分电影", TopK: 10,
	})
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items after series dedupe, got %d", len(resp.Items))
	}
	// 同系列保留分数更高的那条
	if resp.Items[0].SubjectID != "v2" {
		t.Errorf("expected higher-scored volume to represent the series, got %s", resp.Items[0].SubjectID)
	}
	seen := make(map[string]bool)
	for _, item := range resp.Items {
		if seen[item.SeriesKey] {
			t.Errorf("series key %s appears twice", item.SeriesKey)
		}
		seen[item.SeriesKey] = true
	}
}

func TestRecommendStrictBookType(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "alice", movieRecord("h1", "盗梦空间", 9))
	adapter := &fakeAdapter{pool: []*model.CandidateItem{
		{SubjectID: "b1", Title: "白夜行", Type: model.TypeBook, Score: 0.9},
		{SubjectID: "b2", Title: "恶意", Type: model.TypeBook, Score: 0.85},
		{SubjectID: "b3", Title: "三体", Type: model.TypeBook, Score: 0.8},
		{SubjectID: "m1", Title: "寄生虫", Type: model.TypeMovie, Score: 0.95},
	}}
	engine, _ := newTestEngine(users, adapter, nil)

	resp, err := engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "alice", Query: "推荐几本好看的书", TopK: 10, AllowFollowup: true,
	})
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if resp.Status != model.StatusOK {
		t.Fatalf("3 books should satisfy sparse threshold, got status %s", resp.Status)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("expected 3 book items, got %d", len(resp.Items))
	}
	for _, item := range resp.Items {
		if item.Type != model.TypeBook {
			t.Errorf("strict book constraint violated by %s (%s)", item.SubjectID, item.Type)
		}
	}
	if got := resp.AppliedConstraints.StrictTypes; len(got) != 1 || got[0] != "book" {
		t.Errorf("applied constraints should echo strict book type, got %v", got)
	}
}

func TestAmbiguousQueryAsksFollowup(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "alice", movieRecord("h1", "盗梦空间", 9))
	adapter := &fakeAdapter{pool: []*model.CandidateItem{
		{SubjectID: "c1", Title: "寄生虫", Type: model.TypeMovie, Score: 0.9},
	}}
	engine, sessions := newTestEngine(users, adapter, nil)

	resp, err := engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "alice", Query: "随便", TopK: 5, AllowFollowup: true,
	})
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if resp.Status != model.StatusNeedFollowup {
		t.Fatalf("ambiguous query should trigger follow-up, got %s", resp.Status)
	}
	if resp.SessionID == "" || resp.FollowupQuestion == "" {
		t.Fatalf("follow-up response must carry session id and question: %+v", resp)
	}
	// 模糊查询应在拉候选之前就拦下
	if adapter.fetchCalls != 0 {
		t.Errorf("candidate pool should not be fetched before clarification, calls=%d", adapter.fetchCalls)
	}

	sess, err := sessions.Get(resp.SessionID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	var sctx model.SessionContext
	if err := json.Unmarshal([]byte(sess.ContextJSON), &sctx); err != nil {
		t.Fatalf("invalid session context: %v", err)
	}
	if sctx.Username != "alice" || sctx.TopK != 5 {
		t.Errorf("session context mismatch: %+v", sctx)
	}
}

func TestSparseBookTriggersFollowupThenResolves(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "alice", movieRecord("h1", "盗梦空间", 9))
	adapter := &fakeAdapter{pool: []*model.CandidateItem{
		{SubjectID: "b1", Title: "长夜难明", Type: model.TypeBook, Score: 0.9},
	}}
	engine, _ := newTestEngine(users, adapter, nil)

	resp, err := engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "alice", Query: "想看点推理小说", TopK: 5, AllowFollowup: true,
	})
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if resp.Status != model.StatusNeedFollowup {
		t.Fatalf("1 book against threshold 3 should ask follow-up, got %s", resp.Status)
	}

	// 回答追问后固定 allow_followup=false，哪怕候选仍稀疏也直接出结果
	answered, err := engine.AnswerFollowup(context.Background(), resp.SessionID, "东野圭吾那种就行")
	if err != nil {
		t.Fatalf("answer followup failed: %v", err)
	}
	if answered.Status != model.StatusOK {
		t.Fatalf("answered session must not ask again, got %s", answered.Status)
	}
	if len(answered.Items) != 1 || answered.Items[0].SubjectID != "b1" {
		t.Fatalf("expected the single book candidate, got %+v", answered.Items)
	}

	// 会话只能回答一次
	if _, err := engine.AnswerFollowup(context.Background(), resp.SessionID, "再来一次"); !errors.Is(err, ErrSessionInactive) {
		t.Fatalf("second answer should be ErrSessionInactive, got %v", err)
	}
	if _, err := engine.AnswerFollowup(context.Background(), "no-such-session", "答案"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("unknown session should be ErrNotFound, got %v", err)
	}
}

func TestSparseBookFollowupBeatsFallbackCatalog(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "alice", movieRecord("h1", "盗梦空间", 9))
	// 外部候选源为空，好友为空；回退库里有书，但书籍约束下应先追问
	engine, _ := newTestEngine(users, &fakeAdapter{}, nil)

	resp, err := engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "alice", Query: "想看点小说", TopK: 5, AllowFollowup: true,
	})
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if resp.Status != model.StatusNeedFollowup {
		t.Fatalf("empty real sources on a book query should ask follow-up, got %s", resp.Status)
	}
	if !strings.Contains(resp.FollowupQuestion, "书籍候选不足") {
		t.Errorf("question should mention insufficient book candidates: %s", resp.FollowupQuestion)
	}
}

func TestFallbackCatalogWhenSupplyFails(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "alice", movieRecord("h1", "盗梦空间", 9))
	adapter := &fakeAdapter{err: errors.New("blocked")}
	engine, _ := newTestEngine(users, adapter, nil)

	resp, err := engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "alice", Query: "推荐电影", TopK: 10,
	})
	if err != nil {
		t.Fatalf("supply failure should fall back, got error: %v", err)
	}
	if resp.Status != model.StatusOK || len(resp.Items) == 0 {
		t.Fatalf("fallback catalog should produce items, got %+v", resp)
	}
	if !strings.Contains(resp.ProfileSummary, "本地回退库") {
		t.Errorf("profile summary should mention fallback source: %s", resp.ProfileSummary)
	}
	// 查询含“电影”提示词，回退库的电影应排到最前
	if resp.Items[0].Type != model.TypeMovie {
		t.Errorf("movie hint should rank movies first, got %s", resp.Items[0].Type)
	}
}

func TestFriendWeightOverrideReordersCandidates(t *testing.T) {
	users := newFakeUsers()
	interactedAt := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	users.addUser("douban", "owner", movieRecord("h1", "盗梦空间", 9))
	users.addUser("douban", "alice", &model.HistoryRecord{
		SubjectID: "b10", Title: "白夜行", Type: model.TypeBook, Rating: 10, InteractedAt: interactedAt,
	})
	users.addUser("douban", "bob", &model.HistoryRecord{
		SubjectID: "b8", Title: "恶意", Type: model.TypeBook, Rating: 8, InteractedAt: interactedAt,
	})
	adapter := &fakeAdapter{pool: []*model.CandidateItem{
		{SubjectID: "x1", Title: "寄生虫", Type: model.TypeMovie, Score: 0.99},
	}}

	run := func(weights map[string]float64) *model.RecommendResponse {
		engine, _ := newTestEngine(users, adapter, nil)
		resp, err := engine.Recommend(context.Background(), &Request{
			Source:          "douban",
			Username:        "owner",
			Query:           "按好友的口味推荐",
			TopK:            10,
			FriendUsernames: []string{"alice", "bob"},
			FriendWeights:   weights,
		})
		if err != nil {
			t.Fatalf("recommend failed: %v", err)
		}
		return resp
	}

	adapter.fetchCalls = 0
	resp := run(nil)
	// 好友优先模式不走外部候选池
	if adapter.fetchCalls != 0 {
		t.Fatalf("friend-focus mode must skip external fetch, calls=%d", adapter.fetchCalls)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 friend candidates, got %d", len(resp.Items))
	}
	if resp.Items[0].SubjectID != "b10" {
		t.Fatalf("default weights should rank the 10-rated book first, got %s", resp.Items[0].SubjectID)
	}
	if !strings.Contains(resp.ProfileSummary, "好友已加载 2/2") {
		t.Errorf("profile summary should report loaded friends: %s", resp.ProfileSummary)
	}

	resp = run(map[string]float64{"bob": 3.0})
	if resp.Items[0].SubjectID != "b8" {
		t.Fatalf("3.0 weight on bob should lift his book to the top, got %s", resp.Items[0].SubjectID)
	}
	if !strings.Contains(resp.Items[0].Reason, "bob") {
		t.Errorf("friend reason should name the contributing friend: %s", resp.Items[0].Reason)
	}
}

func TestFriendPartialLoadNoted(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "owner", movieRecord("h1", "盗梦空间", 9))
	users.addUser("douban", "alice", &model.HistoryRecord{
		SubjectID: "b10", Title: "白夜行", Type: model.TypeBook, Rating: 10,
		InteractedAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	engine, _ := newTestEngine(users, &fakeAdapter{}, nil)

	resp, err := engine.Recommend(context.Background(), &Request{
		Source:          "douban",
		Username:        "owner",
		Query:           "按好友的口味推荐",
		TopK:            10,
		FriendUsernames: []string{"alice", "ghost_user"},
	})
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if !strings.Contains(resp.ProfileSummary, "好友已加载 1/2") {
		t.Errorf("partial friend load should be reported: %s", resp.ProfileSummary)
	}
	if !strings.Contains(resp.ProfileSummary, "豆瓣风控") {
		t.Errorf("partial load hint missing: %s", resp.ProfileSummary)
	}
}

func TestRerankValidationAndCompletion(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "alice", movieRecord("h1", "盗梦空间", 9))
	adapter := &fakeAdapter{pool: []*model.CandidateItem{
		{SubjectID: "c1", Title: "寄生虫", Type: model.TypeMovie, Score: 0.9},
		{SubjectID: "c2", Title: "绿皮书", Type: model.TypeMovie, Score: 0.5},
		{SubjectID: "c3", Title: "走走停停", Type: model.TypeMovie, Score: 0.7},
	}}
	// 模型只排了 c2，还夹了一个未知条目
	client := &fakeChatClient{reply: `{"low_confidence": false, "followup_question": null, "ranked": [
		{"subject_id": "c2", "score": 0.95, "reason": "最贴合口味"},
		{"subject_id": "zzz", "score": 0.9, "reason": "幻觉条目"}
	]}`}
	engine, _ := newTestEngine(users, adapter, llm.NewReranker(client))

	resp, err := engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "alice", Query: "想看高分电影", TopK: 10,
	})
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(resp.Items) != 3 {
		t.Fatalf("validated rerank should still cover all candidates, got %d", len(resp.Items))
	}
	if resp.Items[0].SubjectID != "c2" || resp.Items[0].Reason != "最贴合口味" {
		t.Errorf("model pick should lead: %+v", resp.Items[0])
	}
	// 未被模型覆盖的候选按预排序补齐
	if resp.Items[1].SubjectID != "c1" || resp.Items[2].SubjectID != "c3" {
		t.Errorf("remaining candidates out of order: %s, %s", resp.Items[1].SubjectID, resp.Items[2].SubjectID)
	}
}

func TestRerankMalformedFallsBackToLocal(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "alice", movieRecord("h1", "盗梦空间", 9))
	adapter := &fakeAdapter{pool: []*model.CandidateItem{
		{SubjectID: "c1", Title: "寄生虫", Type: model.TypeMovie, Score: 0.9},
		{SubjectID: "c2", Title: "绿皮书", Type: model.TypeMovie, Score: 0.7},
	}}
	client := &fakeChatClient{reply: "抱歉，我无法返回 JSON"}
	engine, _ := newTestEngine(users, adapter, llm.NewReranker(client))

	resp, err := engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "alice", Query: "想看高分电影", TopK: 10,
	})
	if err != nil {
		t.Fatalf("malformed rerank must not fail the request: %v", err)
	}
	if len(resp.Items) != 2 || resp.Items[0].SubjectID != "c1" {
		t.Fatalf("local heuristic order expected, got %+v", resp.Items)
	}
}

func TestTopKTruncation(t *testing.T) {
	users := newFakeUsers()
	users.addUser("douban", "alice", movieRecord("h1", "盗梦空间", 9))
	adapter := &fakeAdapter{pool: []*model.CandidateItem{
		{SubjectID: "c1", Title: "寄生虫", Type: model.TypeMovie, Score: 0.9},
		{SubjectID: "c2", Title: "绿皮书", Type: model.TypeMovie, Score: 0.8},
		{SubjectID: "c3", Title: "走走停停", Type: model.TypeMovie, Score: 0.7},
	}}
	engine, _ := newTestEngine(users, adapter, nil)

	resp, err := engine.Recommend(context.Background(), &Request{
		Source: "douban", Username: "alice", Query: "想看高分电影", TopK: 2,
	})
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("top_k=2 should truncate to 2 items, got %d", len(resp.Items))
	}
}
