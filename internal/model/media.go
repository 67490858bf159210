package model

// MediaType 媒体类型（电影 / 剧集 / 书籍）
type MediaType string

const (
	TypeMovie MediaType = "movie"
	TypeTV    MediaType = "tv"
	TypeBook  MediaType = "book"
)

// DisplayZH 返回中文展示名
func (t MediaType) DisplayZH() string {
	switch t {
	case TypeMovie:
		return "电影"
	case TypeTV:
		return "剧集"
	case TypeBook:
		return "书籍"
	}
	return string(t)
}
