package constraint

import (
	"strings"

	"douban_recommend/internal/model"
)

// 语言偏好
const (
	LangZHPreferred = "zh_preferred"
	LangOriginal    = "original"
)

// Constraints 从查询文本解析出的结构化约束，每次请求新建，不落库
type Constraints struct {
	StrictTypes        map[model.MediaType]bool
	TopicTags          map[string]bool
	LanguagePreference string
	FollowupOnSparse   bool
	FriendFocus        bool
}

// TypeAllowed 判断类型是否通过 strict_types 过滤（空集合 = 不限制）
func (c *Constraints) TypeAllowed(t model.MediaType) bool {
	if len(c.StrictTypes) == 0 {
		return true
	}
	return c.StrictTypes[t]
}

// BookOnly strict_types 是否锁定为书籍
func (c *Constraints) BookOnly() bool {
	return c.StrictTypes[model.TypeBook]
}

// StrictTypeNames 排序后的类型名列表，用于回显与重排调用
func (c *Constraints) StrictTypeNames() []string {
	names := make([]string, 0, len(c.StrictTypes))
	// 固定顺序输出，保证响应可比
	for _, t := range []model.MediaType{model.TypeBook, model.TypeMovie, model.TypeTV} {
		if c.StrictTypes[t] {
			names = append(names, string(t))
		}
	}
	return names
}

var bookKeywords = []string{"小说", "书籍", "看书", "书", "阅读", "读书", "漫画"}

var topicKeywords = map[string][]string{
	"mystery": {"推理", "悬疑", "侦探", "探案", "本格"},
	"sci-fi":  {"科幻", "赛博", "太空", "宇宙", "未来"},
	"fantasy": {"奇幻", "魔法", "玄幻", "冒险"},
}

var relaxKeywords = []string{"都可", "都行", "都可以", "不限", "随意", "随便", "whatever", "any"}

var friendKeywords = []string{"好友", "朋友", "豆友", "friend"}

// Parse 把自由文本解析为约束集，纯关键词匹配，不会失败
func Parse(query string) *Constraints {
	compact := strings.ToLower(strings.TrimSpace(query))
	c := &Constraints{
		StrictTypes:        make(map[model.MediaType]bool),
		TopicTags:          make(map[string]bool),
		LanguagePreference: LangZHPreferred,
		FollowupOnSparse:   true,
	}

	if containsAny(compact, friendKeywords) {
		c.FriendFocus = true
	}
	if containsAny(compact, bookKeywords) {
		c.StrictTypes[model.TypeBook] = true
	}
	for tag, keywords := range topicKeywords {
		if containsAny(compact, keywords) {
			c.TopicTags[tag] = true
		}
	}
	// “随便 / 不限”之类的放松词清空已命中的题材标签
	if containsAny(compact, relaxKeywords) {
		c.TopicTags = make(map[string]bool)
	}
	return c
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
