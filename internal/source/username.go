package source

import (
	"net/url"
	"regexp"
	"strings"
)

// MineMarker “我的主页”链接归一后的占位用户名
const MineMarker = "__mine__"

var peoplePathRe = regexp.MustCompile(`(?i)(?:^|/)people/([^/?#]+)/?`)

// NormalizeUsername 把用户输入（用户名或主页链接）归一为用户名。
// 无法解析时返回空串。
func NormalizeUsername(raw string) string {
	value := strings.TrimSpace(raw)
	if unescaped, err := url.QueryUnescape(value); err == nil {
		value = strings.TrimSpace(unescaped)
	}
	if value == "" {
		return ""
	}

	lower := strings.ToLower(value)
	if strings.Contains(lower, "douban.com/mine") {
		return MineMarker
	}

	if parsed, err := url.Parse(value); err == nil &&
		(parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != "" {
		path := strings.TrimSpace(parsed.Path)
		if strings.HasPrefix(strings.ToLower(path), "/mine") {
			return MineMarker
		}
		if m := peoplePathRe.FindStringSubmatch(path); m != nil {
			return strings.TrimSpace(m[1])
		}
		return ""
	}

	if m := peoplePathRe.FindStringSubmatch(value); m != nil {
		return strings.TrimSpace(m[1])
	}

	compact := value
	if i := strings.IndexAny(compact, "?#"); i >= 0 {
		compact = compact[:i]
	}
	compact = strings.Trim(strings.TrimSpace(compact), "/")
	lowerCompact := strings.ToLower(compact)
	if strings.HasPrefix(lowerCompact, "mine") {
		return MineMarker
	}
	if strings.HasPrefix(lowerCompact, "people/") {
		parts := strings.Split(compact, "/")
		if len(parts) >= 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	if strings.Contains(compact, "/") {
		return ""
	}
	return strings.TrimSpace(compact)
}
