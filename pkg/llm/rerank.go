package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// RerankCandidate 发给重排模型的候选摘要
type RerankCandidate struct {
	SubjectID       string `json:"subject_id"`
	Title           string `json:"title"`
	Type            string `json:"type"`
	Year            string `json:"year"`
	SeriesKey       string `json:"series_key"`
	DisplayTitleZH  string `json:"display_title_zh"`
	IsSeriesVariant string `json:"is_series_variant"`
}

// RerankRequest 重排调用入参
type RerankRequest struct {
	Query              string
	ProfileSummary     string
	AllowFollowup      bool
	StrictTypes        []string
	LanguagePreference string
	Candidates         []RerankCandidate
}

// RankedChoice 模型给出的一条排序结果
type RankedChoice struct {
	SubjectID string
	Score     float64
	Reason    string
}

// RerankResult 重排调用出参
type RerankResult struct {
	LowConfidence    bool
	FollowupQuestion string
	Ranked           []RankedChoice
}

// Reranker 外部重排调用。失败 / 结果不可用时由调用方回退本地启发式。
type Reranker struct {
	client Client
}

func NewReranker(client Client) *Reranker {
	return &Reranker{client: client}
}

// Configured 客户端是否可用
func (r *Reranker) Configured() bool {
	return r != nil && r.client != nil
}

const rerankSystemPrompt = "你是推荐重排器，只返回严格 JSON，字段必须是：" +
	"low_confidence(bool), followup_question(string|null), " +
	"ranked(list[{subject_id, score(0-1), reason}])。" +
	"规则：当 strict_types 非空时必须严格遵守类型，不允许越界；" +
	"同一 series_key 最多 1 条；标题优先中文 display_title_zh；理由必须中文且简洁。"

type rerankPayload struct {
	UserQuery          string            `json:"user_query"`
	AllowFollowup      bool              `json:"allow_followup"`
	ProfileSummary     string            `json:"profile_summary"`
	StrictTypes        []string          `json:"strict_types"`
	LanguagePreference string            `json:"language_preference"`
	Candidates         []RerankCandidate `json:"candidates"`
}

type rerankRawResponse struct {
	LowConfidence    bool            `json:"low_confidence"`
	FollowupQuestion string          `json:"followup_question"`
	Ranked           []rerankRawItem `json:"ranked"`
}

type rerankRawItem struct {
	SubjectID string          `json:"subject_id"`
	Score     json.RawMessage `json:"score"`
	Reason    string          `json:"reason"`
}

// Rerank 发起重排调用并解析严格 JSON 结果。
// 只做形状级校验，候选合法性校验（类型 / 系列唯一）由排序层负责。
func (r *Reranker) Rerank(ctx context.Context, req *RerankRequest) (*RerankResult, error) {
	if !r.Configured() {
		return nil, fmt.Errorf("reranker is not configured")
	}

	strictTypes := req.StrictTypes
	if strictTypes == nil {
		strictTypes = []string{}
	}
	payload := rerankPayload{
		UserQuery:          req.Query,
		AllowFollowup:      req.AllowFollowup,
		ProfileSummary:     req.ProfileSummary,
		StrictTypes:        strictTypes,
		LanguagePreference: req.LanguagePreference,
		Candidates:         req.Candidates,
	}
	userContent, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank payload: %w", err)
	}

	content, err := r.client.Chat(ctx, []Message{
		{Role: "system", Content: rerankSystemPrompt},
		{Role: "user", Content: string(userContent)},
	})
	if err != nil {
		return nil, fmt.Errorf("rerank chat failed: %w", err)
	}

	raw, err := extractJSON(content)
	if err != nil {
		return nil, err
	}
	var parsed rerankRawResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	result := &RerankResult{
		LowConfidence:    parsed.LowConfidence,
		FollowupQuestion: parsed.FollowupQuestion,
	}
	for _, entry := range parsed.Ranked {
		subjectID := strings.TrimSpace(entry.SubjectID)
		if subjectID == "" {
			continue
		}
		score := parseScore(entry.Score)
		reason := strings.TrimSpace(entry.Reason)
		if reason == "" {
			reason = "推荐匹配你的偏好"
		}
		result.Ranked = append(result.Ranked, RankedChoice{
			SubjectID: subjectID,
			Score:     score,
			Reason:    reason,
		})
	}
	return result, nil
}

// parseScore 容忍数字或字符串形式的分数，越界值收敛到 [0,1]
func parseScore(raw json.RawMessage) float64 {
	score := 0.5
	if len(raw) > 0 {
		var numeric float64
		if err := json.Unmarshal(raw, &numeric); err == nil {
			score = numeric
		} else {
			var text string
			if err := json.Unmarshal(raw, &text); err == nil {
				fmt.Sscanf(strings.TrimSpace(text), "%f", &score)
			}
		}
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// extractJSON 从模型输出中提取 JSON 对象，容忍 Markdown 代码块包裹
func extractJSON(content string) (string, error) {
	raw := strings.TrimSpace(content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end <= start {
		return "", fmt.Errorf("rerank response did not contain JSON")
	}
	return raw[start : end+1], nil
}
