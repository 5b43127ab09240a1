package segmenter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalize 测试文本规范化
func TestNormalize(t *testing.T) {
	t.Run("collapse spaces", func(t *testing.T) {
		assert.Equal(t, "a b c", Normalize("a   b  c"))
	})

	t.Run("trim lines", func(t *testing.T) {
		assert.Equal(t, "first\nsecond", Normalize("  first  \n  second  "))
	})

	t.Run("collapse newlines", func(t *testing.T) {
		assert.Equal(t, "a\n\nb", Normalize("a\n\n\n\n\nb"))
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Equal(t, "", Normalize(""))
		assert.Equal(t, "", Normalize("   \n\n  "))
	})
}

// TestSegmentEmpty 测试空输入
func TestSegmentEmpty(t *testing.T) {
	seg := NewSegmenter(DefaultConfig())

	spans := seg.Segment("")
	assert.Empty(t, spans, "空输入应该返回空分段序列")

	spans = seg.Segment("   \n  \n ")
	assert.Empty(t, spans, "纯空白输入应该返回空分段序列")
}

// TestSegmentShortText 测试小于单个窗口的输入
func TestSegmentShortText(t *testing.T) {
	seg := NewSegmenter(DefaultConfig())

	text := "This is a short document. It fits in one chunk."
	spans := seg.Segment(text)

	require.Len(t, spans, 1, "短文本应该只产生一个分段")
	assert.Equal(t, text, spans[0].Text)
	assert.Equal(t, 0, spans[0].Start)
	assert.Equal(t, len(text), spans[0].End)
}

// TestSegmentSentenceBoundary 测试句子边界优先的切分
// 3500字符的输入在默认配置下应该正好产生2个分段
func TestSegmentSentenceBoundary(t *testing.T) {
	seg := NewSegmenter(DefaultConfig())

	// 构造约3500字符、由完整句子组成的文本
	sentence := "The quick brown fox jumps over the lazy dog near the river bank. "
	var sb strings.Builder
	for sb.Len() < 3500 {
		sb.WriteString(sentence)
	}
	text := strings.TrimSpace(sb.String()[:3500])

	spans := seg.Segment(text)
	require.Len(t, spans, 2, "3500字符输入在默认配置下应该产生2个分段")

	// 第一个分段应该在句尾切分，而不是在单词中间
	first := spans[0].Text
	assert.True(t, strings.HasSuffix(first, "."),
		"first chunk should end at a sentence boundary, got: %q", first[len(first)-20:])

	// 两个分段应该有重叠
	assert.Less(t, spans[1].Start, spans[0].End, "相邻分段应该存在重叠")
}

// TestSegmentMultibyteHardCut 测试硬切不会劈开多字节rune
// 无任何自然边界的中文文本迫使每个窗口走硬切路径
func TestSegmentMultibyteHardCut(t *testing.T) {
	seg := NewSegmenter(DefaultConfig())

	// 4000个汉字，无空格、无换行、无句尾标点
	text := strings.Repeat("检索系统按向量相似度排序分段", 286)
	spans := seg.Segment(text)
	require.Greater(t, len(spans), 1, "长文本应该产生多个分段")

	for i, span := range spans {
		assert.True(t, utf8.ValidString(span.Text),
			"span %d should contain valid UTF-8", i)
		assert.Equal(t, span.Text, text[span.Start:span.End],
			"span %d offsets should point at its own text", i)
	}
}

// TestSegmentMonotonicProgress 测试起点严格递增
func TestSegmentMonotonicProgress(t *testing.T) {
	cases := []struct {
		name string
		text string
	}{
		{"plain sentences", strings.Repeat("Hello world. This is a test sentence for the segmenter. ", 300)},
		{"no boundaries", strings.Repeat("a", 10000)},
		{"newline heavy", strings.Repeat("line one\nline two\nline three\n", 500)},
		{"paragraphs", strings.Repeat("First paragraph content goes here.\n\nSecond paragraph content.\n\n", 200)},
	}

	seg := NewSegmenter(DefaultConfig())

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spans := seg.Segment(tc.text)
			require.NotEmpty(t, spans)

			for i := 1; i < len(spans); i++ {
				assert.Greater(t, spans[i].Start, spans[i-1].Start,
					"分段起点必须严格递增 (span %d)", i)
			}
		})
	}
}

// TestSegmentCoverage 测试分段区间完整覆盖规范化文本
func TestSegmentCoverage(t *testing.T) {
	seg := NewSegmenter(DefaultConfig())

	text := strings.Repeat("Coverage check sentence with several words inside. ", 200)
	normalized := Normalize(text)
	spans := seg.Segment(text)
	require.NotEmpty(t, spans)

	assert.Equal(t, 0, spans[0].Start, "第一个分段应该从文本起点开始")
	assert.Equal(t, len(normalized), spans[len(spans)-1].End, "最后一个分段应该到达文本末尾")

	// 相邻分段之间不允许出现空隙
	for i := 1; i < len(spans); i++ {
		assert.LessOrEqual(t, spans[i].Start, spans[i-1].End,
			"分段 %d 与前一分段之间存在空隙", i)
	}
}

// TestSegmentNoBoundaries 测试无自然边界的输入
func TestSegmentNoBoundaries(t *testing.T) {
	seg := NewSegmenter(DefaultConfig())

	text := strings.Repeat("x", 8000)
	spans := seg.Segment(text)

	require.Greater(t, len(spans), 1, "长文本应该被切分为多个分段")

	// 没有任何边界时按窗口硬切
	chunkChars := 800 * 4
	assert.Equal(t, chunkChars, spans[0].End-spans[0].Start)
}

// TestSegmentOverlapTooLarge 测试重叠不小于分块大小时的保护
func TestSegmentOverlapTooLarge(t *testing.T) {
	config := DefaultConfig()
	config.ChunkSize = 100
	config.Overlap = 100
	seg := NewSegmenter(config)

	text := strings.Repeat("Some sentence with words in it. ", 100)
	spans := seg.Segment(text)
	require.NotEmpty(t, spans)

	// 强制零重叠后分段仍然推进并保持不相交
	for i := 1; i < len(spans); i++ {
		assert.GreaterOrEqual(t, spans[i].Start, spans[i-1].End, "零重叠模式下分段不应该相交")
	}
}

// TestSegmentParagraphBoundary 测试段落边界优先于其他边界
func TestSegmentParagraphBoundary(t *testing.T) {
	config := DefaultConfig()
	config.ChunkSize = 100 // 窗口400字符
	seg := NewSegmenter(config)

	para := strings.Repeat("word ", 60) // 300字符
	text := strings.TrimSpace(para) + ".\n\n" + strings.TrimSpace(para) + "." + strings.Repeat(" tail", 40)

	spans := seg.Segment(text)
	require.Greater(t, len(spans), 1)

	// 段落分隔符超过窗口30%时，第一个分段应该在段落处结束
	assert.True(t, strings.HasSuffix(spans[0].Text, "."),
		"first chunk should end at the paragraph break, got: %q", spans[0].Text[len(spans[0].Text)-10:])
}

// TestEstimateTokens 测试token估算
func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))

	// 100字符、20个词：(100/3.8 + 20*1.3)/2 = 26
	text := strings.TrimSpace(strings.Repeat("word ", 20))
	estimate := EstimateTokens(text)
	assert.InDelta(t, 26, estimate, 2, "token估算应该接近字符估计和词数估计的平均值")

	// 估算值随文本长度单调增长
	assert.Greater(t, EstimateTokens(strings.Repeat("word ", 100)), estimate)
}
