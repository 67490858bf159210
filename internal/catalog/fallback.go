package catalog

import (
	"sort"
	"strings"
	"time"

	"douban_recommend/internal/constraint"
	"douban_recommend/internal/model"
)

// entry 回退库条目
type entry struct {
	subjectID string
	title     string
	titleZH   string
	mediaType model.MediaType
	year      int
	url       string
	score     float64
	tags      []string
}

// 静态回退库。外部候选与好友候选都为空时的兜底，
// 条目选自各类型的长青高分作品。
var fallbackEntries = []entry{
	{"fallback-movie-parasite", "Parasite", "", model.TypeMovie, 2019, "https://www.douban.com/search?cat=1002&q=Parasite", 0.9, nil},
	{"fallback-movie-dune-part-two", "Dune: Part Two", "", model.TypeMovie, 2024, "https://www.douban.com/search?cat=1002&q=Dune%20Part%20Two", 0.88, nil},
	{"fallback-movie-oppenheimer", "Oppenheimer", "", model.TypeMovie, 2023, "https://www.douban.com/search?cat=1002&q=Oppenheimer", 0.87, nil},
	{"fallback-movie-past-lives", "Past Lives", "", model.TypeMovie, 2023, "https://www.douban.com/search?cat=1002&q=Past%20Lives", 0.84, nil},
	{"fallback-movie-green-book", "Green Book", "", model.TypeMovie, 2018, "https://www.douban.com/search?cat=1002&q=Green%20Book", 0.82, nil},
	{"fallback-tv-the-bear", "The Bear", "", model.TypeTV, 2022, "https://www.douban.com/search?cat=1002&q=The%20Bear", 0.87, nil},
	{"fallback-tv-arcane", "Arcane", "", model.TypeTV, 2021, "https://www.douban.com/search?cat=1002&q=Arcane", 0.86, nil},
	{"fallback-tv-succession", "Succession", "", model.TypeTV, 2018, "https://www.douban.com/search?cat=1002&q=Succession", 0.85, nil},
	{"fallback-tv-shogun", "Shogun", "", model.TypeTV, 2024, "https://www.douban.com/search?cat=1002&q=Shogun", 0.86, nil},
	{"fallback-tv-severance", "Severance", "", model.TypeTV, 2022, "https://www.douban.com/search?cat=1002&q=Severance", 0.84, nil},
	{"fallback-book-xianyi-x", "嫌疑人X的献身", "嫌疑人X的献身", model.TypeBook, 2005, "https://book.douban.com/subject/2307791/", 0.95, []string{"mystery"}},
	{"fallback-book-byh", "白夜行", "白夜行", model.TypeBook, 1999, "https://book.douban.com/subject/3259440/", 0.94, []string{"mystery"}},
	{"fallback-book-ew", "恶意", "恶意", model.TypeBook, 1996, "https://book.douban.com/subject/1438652/", 0.92, []string{"mystery"}},
	{"fallback-book-three-body", "三体", "三体", model.TypeBook, 2008, "https://book.douban.com/subject/2567698/", 0.89, []string{"sci-fi"}},
	{"fallback-book-liulangdiqiu", "流浪地球", "流浪地球", model.TypeBook, 2000, "https://book.douban.com/subject/26292448/", 0.86, []string{"sci-fi"}},
}

// Candidates 按约束与查询提示词筛选回退库。
// seenSubjectIDs / seenTitles 用于剔除用户已消费过的条目。
func Candidates(query string, constraints *constraint.Constraints, seenSubjectIDs map[string]bool, seenTitles map[string]bool) []*model.CandidateItem {
	nowYear := time.Now().UTC().Year()
	movieHint := strings.Contains(query, "电影")
	tvHint := strings.Contains(query, "剧")
	bookHint := strings.Contains(query, "书") || strings.Contains(query, "阅读")
	recentHint := strings.Contains(query, "近")

	requireTopic := len(constraints.TopicTags) > 0

	type scored struct {
		score float64
		e     entry
	}
	var rows []scored
	for _, e := range fallbackEntries {
		if !constraints.TypeAllowed(e.mediaType) {
			continue
		}
		if requireTopic && !topicMatch(constraints.TopicTags, e.tags) {
			continue
		}
		if seenSubjectIDs[e.subjectID] {
			continue
		}
		if seenTitles[strings.ToLower(strings.TrimSpace(e.title))] {
			continue
		}

		score := e.score
		if recentHint && e.year >= nowYear-5 {
			score += 0.2
		}
		if movieHint && e.mediaType == model.TypeMovie {
			score += 0.15
		}
		if tvHint && e.mediaType == model.TypeTV {
			score += 0.15
		}
		if bookHint && e.mediaType == model.TypeBook {
			score += 0.15
		}
		rows = append(rows, scored{score, e})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].score != rows[j].score {
			return rows[i].score > rows[j].score
		}
		return rows[i].e.year > rows[j].e.year
	})

	items := make([]*model.CandidateItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, &model.CandidateItem{
			SubjectID:      row.e.subjectID,
			Title:          row.e.title,
			Type:           row.e.mediaType,
			Year:           row.e.year,
			URL:            row.e.url,
			Score:          round4(row.score),
			DisplayTitleZH: row.e.titleZH,
			Tags:           row.e.tags,
		})
	}
	return items
}

func topicMatch(want map[string]bool, tags []string) bool {
	for _, tag := range tags {
		if want[tag] {
			return true
		}
	}
	return false
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}
