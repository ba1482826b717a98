package segment

import (
	"regexp"
	"strings"

	"moechat-server-go/internal/utils"
)

// Phrase 可供TTS合成的一个分段
type Phrase struct {
	Text       string // 已清洗的可显示文本，保留结尾标点
	StyleRef   string // 当前生效的情绪标签，空串表示默认音色
	OrderIndex int    // 轮内单调递增，从0开始
}

// Control 从回复文本中提取出的带外控制标记，例如 {image:...}
type Control struct {
	Kind    string
	Payload string
}

// 候选切分标点。弱标点只有在首句或可见长度超过阈值时才允许切分，
// 避免把回复切得太碎，同时保证首句尽快送入TTS。
var (
	strongPunctuation = map[rune]bool{
		'。': true, '？': true, '！': true, '?': true, '!': true,
	}
	weakPunctuation = map[rune]bool{
		'…': true, '~': true, '～': true, ',': true, '，': true,
	}
)

// 弱标点切分的最小可见长度（剥离括号内容后按rune计）
const weakCutMinVisible = 10

var controlMarkerRegex = regexp.MustCompile(`\{(image|meme|pics):([^}]*)\}`)

// Segmenter 增量地把LLM的文本增量流切成TTS分段。
// 算法与括号深度、弱标点规则见各方法注释；非并发安全，由单个LLM工作协程驱动。
type Segmenter struct {
	styles map[string]bool // 合法情绪标签集合

	onPhrase  func(Phrase)
	onControl func(Control)

	pending    []rune // 尚未切分出去的字符
	full       strings.Builder
	order      int
	emotion    string
	firstCut   bool // 首句豁免是否仍然有效
	firstEmit  bool // 是否尚未产出第一个分段（用于行首空白修剪）
	aborted    bool
	finished   bool
}

// New 创建分段器。styleTags为StyleReferenceMap的键集合。
func New(styleTags []string, onPhrase func(Phrase), onControl func(Control)) *Segmenter {
	styles := make(map[string]bool, len(styleTags))
	for _, tag := range styleTags {
		styles[tag] = true
	}
	if onPhrase == nil {
		onPhrase = func(Phrase) {}
	}
	if onControl == nil {
		onControl = func(Control) {}
	}
	return &Segmenter{
		styles:    styles,
		onPhrase:  onPhrase,
		onControl: onControl,
		firstCut:  true,
		firstEmit: true,
	}
}

// Feed 追加一个文本增量，可能产出零个或多个分段
func (s *Segmenter) Feed(delta string) {
	if s.aborted || s.finished || delta == "" {
		return
	}
	s.full.WriteString(delta)
	s.pending = append(s.pending, []rune(delta)...)
	s.normalizePending()
	s.extractControls()

	for {
		if !s.cutOnce() {
			break
		}
	}
}

// Finish 冲刷剩余缓冲并返回整轮的清洗后全文
func (s *Segmenter) Finish() string {
	if s.aborted {
		return ""
	}
	s.finished = true
	if len(s.pending) > 0 {
		s.commit(len(s.pending) - 1)
		s.pending = nil
	}
	return s.fullText()
}

// Abort 取消本轮，丢弃缓冲，之后不再产出任何分段
func (s *Segmenter) Abort() {
	s.aborted = true
	s.pending = nil
}

// Emitted 返回已经产出的分段数量
func (s *Segmenter) Emitted() int {
	return s.order
}

// normalizePending 把缓冲里的西文省略号归一化。
// "..." 的三个点不会被切分点拆散（'.'不是切分标点），整体归一化是安全的。
func (s *Segmenter) normalizePending() {
	normalized := utils.NormalizeEllipsis(string(s.pending))
	s.pending = []rune(normalized)
}

// extractControls 提取缓冲中已经完整出现的控制标记并从待读文本中删除。
// 不完整的标记因为花括号抬高了括号深度，不会被切分撕开，留在缓冲里等待补全。
func (s *Segmenter) extractControls() {
	text := string(s.pending)
	matches := controlMarkerRegex.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return
	}
	for _, m := range matches {
		s.onControl(Control{Kind: m[1], Payload: m[2]})
	}
	s.pending = []rune(controlMarkerRegex.ReplaceAllString(text, ""))
}

// cutOnce 在缓冲中寻找一个合法切分点并提交，找到返回true
func (s *Segmenter) cutOnce() bool {
	depth := 0
	for i, r := range s.pending {
		switch r {
		case '(', '（', '[', '{':
			depth++
			continue
		case ')', '）', ']', '}':
			depth--
			continue
		}
		if depth != 0 {
			continue
		}
		if !strongPunctuation[r] && !weakPunctuation[r] {
			continue
		}
		if weakPunctuation[r] && !s.firstCut {
			candidate := string(s.pending[:i+1])
			if utils.VisibleLength(candidate) <= weakCutMinVisible {
				continue
			}
		}
		s.commit(i)
		return true
	}
	return false
}

// commit 把 pending[:idx+1] 作为一个分段提交，并消费首句豁免
func (s *Segmenter) commit(idx int) {
	candidate := string(s.pending[:idx+1])
	s.pending = s.pending[idx+1:]
	if s.firstCut {
		s.firstCut = false
	}

	// 情绪标签：取本段最近出现的合法标签，之后的分段沿用直到被覆盖
	if tag := utils.LastEmotionTag(candidate); tag != "" && s.styles[tag] {
		s.emotion = tag
	}

	text := s.stripEmotionTags(candidate)
	text = utils.RemoveHTMLTags(text)
	if s.firstEmit {
		text = utils.TrimLeadingSpace(text)
	}

	// 全是括号内容的分段没有可念的东西，直接丢弃
	if text == "" || utils.VisibleLength(text) == 0 {
		return
	}

	s.onPhrase(Phrase{
		Text:       text,
		StyleRef:   s.emotion,
		OrderIndex: s.order,
	})
	s.order++
	s.firstEmit = false
}

// stripEmotionTags 删除文本中所有合法情绪标签，未注册的方括号内容保留
func (s *Segmenter) stripEmotionTags(text string) string {
	if len(s.styles) == 0 {
		return text
	}
	return emotionTagRegex.ReplaceAllStringFunc(text, func(m string) string {
		name := m[1 : len(m)-1]
		if s.styles[name] {
			return ""
		}
		return m
	})
}

var emotionTagRegex = regexp.MustCompile(`\[([^\[\]]*)\]`)

// fullText 计算turn_done携带的清洗后全文：
// 省略号归一化、HTML标签与控制标记删除、合法情绪标签删除、行首空白修剪。
func (s *Segmenter) fullText() string {
	text := utils.NormalizeEllipsis(s.full.String())
	text = controlMarkerRegex.ReplaceAllString(text, "")
	text = s.stripEmotionTags(text)
	text = utils.RemoveHTMLTags(text)
	text = utils.TrimLeadingSpace(text)
	// 整轮没有任何可见内容时回复视为空
	if utils.VisibleLength(text) == 0 {
		return ""
	}
	return text
}
