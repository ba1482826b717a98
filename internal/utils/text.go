package utils

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	htmlTagRegex       = regexp.MustCompile(`<[^>]*>`)
	controlMarkupRegex = regexp.MustCompile(`\{(image|meme|pics):[^}]*\}`)
	bracketSpanRegex   = regexp.MustCompile(`[(（\[][^)）\]]*[)）\]]`)
	emotionTagRegex    = regexp.MustCompile(`\[([^\[\]]*)\]`)
)

// NormalizeEllipsis 将西文省略号规整为单字符省略号
func NormalizeEllipsis(text string) string {
	return strings.ReplaceAll(text, "...", "…")
}

// RemoveHTMLTags 移除HTML/标记语言标签
func RemoveHTMLTags(text string) string {
	return htmlTagRegex.ReplaceAllString(text, "")
}

// RemoveControlMarkup 移除 {image:...} {meme:...} {pics:...} 控制标记
func RemoveControlMarkup(text string) string {
	return controlMarkupRegex.ReplaceAllString(text, "")
}

// StripBracketedSpans 移除括号及括号内的内容（圆括号、全角括号、方括号）
func StripBracketedSpans(text string) string {
	return bracketSpanRegex.ReplaceAllString(text, "")
}

// LastEmotionTag 返回文本中最后一个 [tag] 标签名，没有则返回空串
func LastEmotionTag(text string) string {
	matches := emotionTagRegex.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// VisibleLength 计算剥离括号内容后的可见字符数（按rune计）
func VisibleLength(text string) int {
	return len([]rune(StripBracketedSpans(text)))
}

// leadingPunctuation 可以被剥掉的行首标点
var leadingPunctuation = map[rune]bool{
	'…': true, '~': true, '～': true, '。': true, '？': true,
	'！': true, '?': true, '!': true, ',': true, '，': true,
}

// CleanText 在送入TTS引擎前清洗分段文本：移除控制标记、括号内容、空白，并剥掉行首标点
func CleanText(text string) string {
	text = RemoveControlMarkup(text)
	text = StripBracketedSpans(text)
	text = strings.ReplaceAll(text, " ", "")
	text = strings.ReplaceAll(text, "\n", "")
	runes := []rune(text)
	for i, r := range runes {
		if !leadingPunctuation[r] {
			return string(runes[i:])
		}
	}
	return ""
}

// RemoveAllPunctuation 移除所有标点符号，用于退出命令等精确匹配
func RemoveAllPunctuation(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
}

// SanitizeForLog 清理文本中的换行和控制字符，避免污染日志
func SanitizeForLog(text string) string {
	text = strings.ReplaceAll(text, "\n", "\\n")
	text = strings.ReplaceAll(text, "\r", "")
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 {
			return -1
		}
		return r
	}, text)
}

// TrimLeadingSpace 剥掉首句开头的空白与换行（只用于一轮中的第一个分段）
func TrimLeadingSpace(text string) string {
	return strings.TrimLeft(text, " \n\t\r")
}
