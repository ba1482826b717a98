package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEllipsis(t *testing.T) {
	assert.Equal(t, "等等…", NormalizeEllipsis("等等..."))
	assert.Equal(t, "已经是…了", NormalizeEllipsis("已经是…了"))
}

func TestRemoveHTMLTags(t *testing.T) {
	assert.Equal(t, "你好", RemoveHTMLTags("<b>你好</b>"))
	assert.Equal(t, "换行", RemoveHTMLTags("换<br/>行"))
}

func TestRemoveControlMarkup(t *testing.T) {
	assert.Equal(t, "看图", RemoveControlMarkup("看图{image:cat.png}"))
	assert.Equal(t, "哈哈", RemoveControlMarkup("{meme:doge}哈哈{pics:a,b}"))
}

func TestStripBracketedSpans(t *testing.T) {
	assert.Equal(t, "他走了", StripBracketedSpans("他（笑着）走了"))
	assert.Equal(t, "好的", StripBracketedSpans("[happy]好的(点头)"))
}

func TestLastEmotionTag(t *testing.T) {
	assert.Equal(t, "sad", LastEmotionTag("[happy]先这样[sad]再那样"))
	assert.Equal(t, "", LastEmotionTag("没有标签"))
}

func TestVisibleLength(t *testing.T) {
	assert.Equal(t, 0, VisibleLength("（思考中）"))
	assert.Equal(t, 2, VisibleLength("你好（小声）"))
	assert.Equal(t, 4, VisibleLength("四个汉字"))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "你好", CleanText("，（笑）你好{image:x.png}"))
	assert.Equal(t, "第一句第二句", CleanText("第一句\n 第二句"))
	assert.Equal(t, "", CleanText("（只有动作）"))
}

func TestTrimLeadingSpace(t *testing.T) {
	assert.Equal(t, "正文", TrimLeadingSpace("\n\n  正文"))
	assert.Equal(t, "保留 中间", TrimLeadingSpace("保留 中间"))
}
