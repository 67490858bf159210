package series

// 繁转简替换表。没有完整转换器时的降级方案，只覆盖
// 书影音标题里常见的高频字，够用于比较 key 的归一。
var t2sTable = map[rune]rune{
	'島': '岛',
	'來': '来',
	'訪': '访',
	'與': '与',
	'雲': '云',
	'風': '风',
	'說': '说',
	'讀': '读',
	'寫': '写',
	'書': '书',
	'門': '门',
	'開': '开',
	'關': '关',
	'國': '国',
	'體': '体',
	'學': '学',
	'術': '术',
	'業': '业',
	'畫': '画',
	'劍': '剑',
	'龍': '龙',
	'貓': '猫',
	'馬': '马',
	'劇': '剧',
	'樂': '乐',
	'愛': '爱',
	'憶': '忆',
	'歷': '历',
	'時': '时',
	'點': '点',
	'頭': '头',
	'發': '发',
	'變': '变',
	'記': '记',
	'偵': '侦',
	'謎': '谜',
	'獄': '狱',
	'處': '处',
	'後': '后',
	'臺': '台',
	'萬': '万',
	'為': '为',
	'無': '无',
	'麵': '面',
	'們': '们',
	'這': '这',
	'個': '个',
	'裡': '里',
	'裏': '里',
	'過': '过',
}

func toSimplified(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if sc, ok := t2sTable[r]; ok {
			runes[i] = sc
		}
	}
	return string(runes)
}
