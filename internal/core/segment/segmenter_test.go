package segment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	phrases  []Phrase
	controls []Control
}

func (c *collector) newSegmenter(styles ...string) *Segmenter {
	return New(styles,
		func(p Phrase) { c.phrases = append(c.phrases, p) },
		func(ctl Control) { c.controls = append(c.controls, ctl) },
	)
}

func (c *collector) texts() []string {
	out := make([]string, 0, len(c.phrases))
	for _, p := range c.phrases {
		out = append(out, p.Text)
	}
	return out
}

func TestFirstPhraseCutsOnWeakPunctuation(t *testing.T) {
	var c collector
	s := c.newSegmenter()
	s.Feed("你好，")
	require.Len(t, c.phrases, 1, "首句应当在弱标点立即切分")
	assert.Equal(t, "你好，", c.phrases[0].Text)
	assert.Equal(t, 0, c.phrases[0].OrderIndex)
}

func TestWeakPunctuationNeedsVisibleLength(t *testing.T) {
	var c collector
	s := c.newSegmenter()
	s.Feed("第一句。")
	require.Len(t, c.phrases, 1)

	// 首句豁免已消费，短于阈值的弱标点不再切分
	s.Feed("嗯，")
	assert.Len(t, c.phrases, 1)

	// 超过可见长度阈值后弱标点恢复切分
	s.Feed("这一段的内容已经足够长了，")
	require.Len(t, c.phrases, 2)
	assert.Equal(t, "嗯，这一段的内容已经足够长了，", c.phrases[1].Text)
}

func TestStrongPunctuationAlwaysCuts(t *testing.T) {
	var c collector
	s := c.newSegmenter()
	s.Feed("好。")
	s.Feed("行！")
	s.Feed("走?")
	require.Len(t, c.phrases, 3)
	assert.Equal(t, []string{"好。", "行！", "走?"}, c.texts())
	for i, p := range c.phrases {
		assert.Equal(t, i, p.OrderIndex)
	}
}

func TestBracketDepthProtectsPunctuation(t *testing.T) {
	var c collector
	s := c.newSegmenter()
	s.Feed("他说（真的吗？我不信！）然后走了。")
	require.Len(t, c.phrases, 1)
	assert.Equal(t, "他说（真的吗？我不信！）然后走了。", c.phrases[0].Text)
}

func TestBracketSpanSplitAcrossDeltas(t *testing.T) {
	var c collector
	s := c.newSegmenter()
	s.Feed("他说（真的")
	s.Feed("吗？")
	assert.Empty(t, c.phrases, "括号未闭合时内部标点不得切分")
	s.Feed("）好。")
	require.Len(t, c.phrases, 1)
	assert.Equal(t, "他说（真的吗？）好。", c.phrases[0].Text)
}

func TestEllipsisNormalizedAcrossDeltas(t *testing.T) {
	var c collector
	s := c.newSegmenter()
	s.Feed("让我想想.")
	s.Feed(".")
	s.Feed(".")
	require.Len(t, c.phrases, 1)
	assert.Equal(t, "让我想想…", c.phrases[0].Text)
}

func TestEmotionTagSetsStyleAndIsStripped(t *testing.T) {
	var c collector
	s := c.newSegmenter("happy", "sad")
	s.Feed("[happy]很好！[sad]但是…")
	full := s.Finish()

	require.Len(t, c.phrases, 2)
	assert.Equal(t, "很好！", c.phrases[0].Text)
	assert.Equal(t, "happy", c.phrases[0].StyleRef)
	assert.Equal(t, "但是…", c.phrases[1].Text)
	assert.Equal(t, "sad", c.phrases[1].StyleRef)
	assert.Equal(t, "很好！但是…", full)
}

func TestEmotionTagPersistsAcrossPhrases(t *testing.T) {
	var c collector
	s := c.newSegmenter("angry")
	s.Feed("[angry]别逗了！真的别逗了！还来！")
	s.Finish()
	require.Len(t, c.phrases, 3)
	for _, p := range c.phrases {
		assert.Equal(t, "angry", p.StyleRef)
	}
}

func TestUnknownBracketContentKept(t *testing.T) {
	var c collector
	s := c.newSegmenter("happy")
	s.Feed("[note]记一下。")
	require.Len(t, c.phrases, 1)
	assert.Equal(t, "[note]记一下。", c.phrases[0].Text)
	assert.Empty(t, c.phrases[0].StyleRef)
}

func TestControlMarkerExtracted(t *testing.T) {
	var c collector
	s := c.newSegmenter()
	s.Feed("给你看张图。{image:cat.png}收到了吗？")
	s.Finish()

	require.Len(t, c.controls, 1)
	assert.Equal(t, "image", c.controls[0].Kind)
	assert.Equal(t, "cat.png", c.controls[0].Payload)
	assert.Equal(t, []string{"给你看张图。", "收到了吗？"}, c.texts())
}

func TestControlMarkerSplitAcrossDeltas(t *testing.T) {
	var c collector
	s := c.newSegmenter()
	s.Feed("看这个{meme:")
	s.Feed("doge}好笑吧！")
	s.Finish()

	require.Len(t, c.controls, 1)
	assert.Equal(t, "meme", c.controls[0].Kind)
	assert.Equal(t, "doge", c.controls[0].Payload)
	require.Len(t, c.phrases, 1)
	assert.Equal(t, "看这个好笑吧！", c.phrases[0].Text)
}

func TestAllBracketPhraseDropped(t *testing.T) {
	var c collector
	s := c.newSegmenter("happy")
	s.Feed("[happy] (思考中)")
	full := s.Finish()
	assert.Empty(t, c.phrases)
	assert.Empty(t, full)
}

func TestLeadingWhitespaceTrimmedOnFirstPhrase(t *testing.T) {
	var c collector
	s := c.newSegmenter()
	s.Feed("\n\n  你好！马上来！")
	s.Finish()
	require.Len(t, c.phrases, 2)
	assert.Equal(t, "你好！", c.phrases[0].Text)
	assert.Equal(t, "马上来！", c.phrases[1].Text)
}

func TestFinishFlushesRemainder(t *testing.T) {
	var c collector
	s := c.newSegmenter()
	s.Feed("结尾没有标点")
	assert.Empty(t, c.phrases)
	full := s.Finish()
	require.Len(t, c.phrases, 1)
	assert.Equal(t, "结尾没有标点", c.phrases[0].Text)
	assert.Equal(t, "结尾没有标点", full)
}

func TestAbortDiscardsBuffer(t *testing.T) {
	var c collector
	s := c.newSegmenter()
	s.Feed("第一句。后面还没說完")
	require.Len(t, c.phrases, 1)
	s.Abort()
	s.Feed("不应再产出。")
	assert.Empty(t, s.Finish())
	assert.Len(t, c.phrases, 1)
}

func TestPhraseConcatenationMatchesFullText(t *testing.T) {
	var c collector
	s := c.newSegmenter("happy")
	reply := "[happy]早上好！今天的天气看起来很不错，适合出门散步。{image:sun.png}要一起去吗？"
	s.Feed(reply)
	full := s.Finish()
	assert.Equal(t, full, strings.Join(c.texts(), ""))
}

func TestDeltaSplitEquivalence(t *testing.T) {
	reply := "[happy]你好呀！今天过得怎么样？（别急着回答）我猜你一定有很多想说的，对吧！{meme:smile}那就慢慢说…"

	var whole collector
	sw := whole.newSegmenter("happy")
	sw.Feed(reply)
	fullWhole := sw.Finish()

	var split collector
	ss := split.newSegmenter("happy")
	for _, r := range reply {
		ss.Feed(string(r))
	}
	fullSplit := ss.Finish()

	assert.Equal(t, whole.texts(), split.texts())
	assert.Equal(t, fullWhole, fullSplit)
	assert.Equal(t, whole.controls, split.controls)
	for i := range whole.phrases {
		assert.Equal(t, whole.phrases[i].StyleRef, split.phrases[i].StyleRef)
		assert.Equal(t, whole.phrases[i].OrderIndex, split.phrases[i].OrderIndex)
	}
}
