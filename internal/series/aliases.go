package series

// aliasEntry 跨语言别名表的值：系列标识 + 规范中文名
type aliasEntry struct {
	seriesSuffix string
	canonicalZH  string
}

// 已知多语言版本并存的作品。key 是 compactKey 后的形式，
// 新增条目时各语言写法都要登记。
var aliasTable map[string]aliasEntry

func init() {
	aliasTable = make(map[string]aliasEntry)
	register := func(entry aliasEntry, titles ...string) {
		for _, title := range titles {
			aliasTable[compactKey(title)] = entry
		}
	}

	register(aliasEntry{"series:one_piece", "海贼王"},
		"one piece", "onepiece", "ワンピース", "海贼王", "航海王")
	register(aliasEntry{"series:amai_shi_for_detective", "献给名侦探的甜美死亡"},
		"名探偵に甘美なる死を", "献给名侦探的甜美死亡")
	register(aliasEntry{"series:soshite_daremo_shinanakatta", "无人逝去"},
		"そして誰も死ななかった", "无人逝去")
}
