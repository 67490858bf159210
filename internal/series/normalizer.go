package series

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"douban_recommend/internal/model"
)

// Identity 标题归一后的系列身份。
// 同一 key 视为同一作品，用于全链路去重。
type Identity struct {
	SeriesKey      string
	DisplayTitleZH string
	RawTitle       string
	IsVariant      bool
}

// 卷号 / 季号 / 期号等系列后缀，逐条从尾部剥离
var suffixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)[\s:：\-–—]*(?:第?\s*\d+\s*[卷册部季篇话集章巻])$`),
	regexp.MustCompile(`(?i)[\s:：\-–—]*(?:vol(?:ume)?\.?\s*\d+)$`),
	regexp.MustCompile(`(?i)[\s:：\-–—]*(?:#\s*\d+)$`),
	regexp.MustCompile(`(?i)[\s:：\-–—]*(?:season\s*\d+)$`),
	regexp.MustCompile(`(?i)[\s:：\-–—]*(?:s\d+)$`),
	regexp.MustCompile(`(?i)[\s:：\-–—]*(?:part\s*\d+)$`),
	regexp.MustCompile(`[\s:：\-–—]+\d{1,3}$`),
}

var (
	spaceRe = regexp.MustCompile(`\s+`)
	punctRe = regexp.MustCompile("[`'\"“”‘’·・･,，.。:：;；!?！？()\\[\\]{}<>《》【】/\\\\|+*&^%$#@~\\-]+")
)

// normalizeText NFKC 归一并折叠空白
func normalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// compactKey 生成与书写形式无关的比较 key：
// 繁转简、小写、去标点、去空白
func compactKey(s string) string {
	s = strings.ToLower(toSimplified(normalizeText(s)))
	s = punctRe.ReplaceAllString(s, " ")
	return spaceRe.ReplaceAllString(s, "")
}

// stripSeriesSuffix 迭代剥离尾部系列后缀，最多 3 轮
func stripSeriesSuffix(title string) (string, bool) {
	current := normalizeText(title)
	changed := false
	for i := 0; i < 3; i++ {
		previous := current
		for _, re := range suffixPatterns {
			current = re.ReplaceAllString(current, "")
		}
		current = strings.TrimSpace(strings.Trim(current, " -_:：·."))
		if current == previous {
			break
		}
		changed = true
	}
	if current == "" {
		return normalizeText(title), changed
	}
	return current, changed
}

// Normalize 把 (标题, 类型) 映射为系列身份。
// 纯函数：确定性、无 I/O，任意输入都有结果。
func Normalize(title string, mediaType model.MediaType) Identity {
	rawTitle := normalizeText(title)
	stripped, removedSuffix := stripSeriesSuffix(rawTitle)
	strippedKey := compactKey(stripped)

	if alias, ok := aliasTable[strippedKey]; ok {
		// 已知跨语言系列：译名 / 变体判定看比较 key 是否就是规范名
		isVariant := removedSuffix || compactKey(rawTitle) != compactKey(alias.canonicalZH)
		return Identity{
			SeriesKey:      string(mediaType) + ":" + alias.seriesSuffix,
			DisplayTitleZH: alias.canonicalZH,
			RawTitle:       rawTitle,
			IsVariant:      isVariant,
		}
	}

	baseKey := strippedKey
	if baseKey == "" {
		baseKey = compactKey(rawTitle)
	}
	if baseKey == "" {
		baseKey = "unknown"
	}
	display := stripped
	if display == "" {
		display = rawTitle
	}
	return Identity{
		SeriesKey:      string(mediaType) + ":" + baseKey,
		DisplayTitleZH: display,
		RawTitle:       rawTitle,
		IsVariant:      removedSuffix,
	}
}
