package segmenter

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// Span 文本分段结果
// Start和End是规范化文本中的字符区间 [Start, End)
type Span struct {
	Text  string // 分段内容（已去除首尾空白）
	Start int    // 起始偏移
	End   int    // 结束偏移
}

// Config 分段器配置
// 边界搜索阈值是按窗口长度的比例给出的经验值，可按需覆盖
type Config struct {
	ChunkSize     int     // 分块大小（token数）
	Overlap       int     // 分块重叠大小（token数）
	CharsPerToken int     // token到字符的换算系数
	MinChunkChars int     // 窗口字符数下限
	MinOverlap    int     // 重叠字符数下限
	ParaFrac      float64 // 段落边界最小比例
	SentenceFrac  float64 // 句子边界最小比例
	PunctFrac     float64 // 标点边界最小比例
	NewlineFrac   float64 // 换行边界最小比例
	SpaceFrac     float64 // 空格边界最小比例
}

// DefaultConfig 返回默认分段器配置
func DefaultConfig() Config {
	return Config{
		ChunkSize:     800,
		Overlap:       200,
		CharsPerToken: 4,
		MinChunkChars: 400,
		MinOverlap:    100,
		ParaFrac:      0.3,
		SentenceFrac:  0.4,
		PunctFrac:     0.5,
		NewlineFrac:   0.6,
		SpaceFrac:     0.7,
	}
}

// Segmenter 边界感知的文本分段器
// 将规范化后的文本切分为带重叠的有序分段
type Segmenter struct {
	config Config
}

// NewSegmenter 创建新的文本分段器
// 当重叠不小于分块大小时无法保证推进，此时强制使用零重叠
func NewSegmenter(config Config) *Segmenter {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	if config.CharsPerToken <= 0 {
		config.CharsPerToken = 4
	}
	if config.Overlap >= config.ChunkSize {
		logrus.WithFields(logrus.Fields{
			"overlap":    config.Overlap,
			"chunk_size": config.ChunkSize,
		}).Warn("Overlap not smaller than chunk size, forcing zero overlap")
		config.Overlap = 0
		config.MinOverlap = 0
	}
	return &Segmenter{config: config}
}

// 句尾标点列表，按优先级从强到弱排列
var punctBoundaries = []string{". ", "! ", "? ", ".\n", "!\n", "?\n", "; ", ";\n"}

// 连续空格与连续空行的规范化
var (
	multiSpaceRe   = regexp.MustCompile(` {2,}`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// Normalize 规范化文本
// 折叠多余空格、去除行首尾空白、压缩连续空行
func Normalize(text string) string {
	if text == "" {
		return ""
	}

	text = multiSpaceRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")

	text = multiNewlineRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// Segment 将文本分割为带重叠的有序分段
// 输入会先被规范化，返回的偏移量指向规范化后的文本
func (s *Segmenter) Segment(text string) []Span {
	if text == "" {
		return []Span{}
	}

	text = Normalize(text)
	if text == "" {
		return []Span{}
	}

	chunkChars := s.config.ChunkSize * s.config.CharsPerToken
	if chunkChars < s.config.MinChunkChars {
		chunkChars = s.config.MinChunkChars
	}

	overlapChars := s.config.Overlap * s.config.CharsPerToken
	if overlapChars < s.config.MinOverlap {
		overlapChars = s.config.MinOverlap
	}
	// 重叠不得吞掉整个窗口，否则无法推进
	if overlapChars >= chunkChars {
		overlapChars = 0
	}

	var spans []Span
	textLen := len(text)
	start := 0

	for start < textLen {
		end := start + chunkChars

		// 窗口到达文本末尾，输出最后一段后结束
		if end >= textLen {
			chunkText := strings.TrimSpace(text[start:])
			if chunkText != "" {
				spans = append(spans, Span{Text: chunkText, Start: start, End: textLen})
			}
			break
		}

		// 硬切位置不得落在多字节rune中间
		end = runeStart(text, end)
		if end <= start {
			// 窗口容不下一个完整rune时至少前进一个
			_, size := utf8.DecodeRuneInString(text[start:])
			end = start + size
		}

		window := text[start:end]
		if boundary := s.findBoundary(window, chunkChars); boundary > 0 {
			end = start + boundary
		}

		chunkText := strings.TrimSpace(text[start:end])
		if chunkText != "" {
			spans = append(spans, Span{Text: chunkText, Start: start, End: end})
		}

		start = runeStart(text, end-overlapChars)

		// 单调推进保护：新起点必须越过上一段的起点，否则放弃重叠
		if len(spans) > 0 && start <= spans[len(spans)-1].Start {
			start = end
		}
	}

	return spans
}

// runeStart 将字节位置回退到最近的rune起始字节
func runeStart(text string, pos int) int {
	if pos <= 0 {
		return 0
	}
	for pos > 0 && pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos--
	}
	return pos
}

// findBoundary 在窗口内按优先级搜索自然断点
// 返回相对窗口起点的切分位置，找不到返回-1
func (s *Segmenter) findBoundary(window string, chunkChars int) int {
	// 段落边界
	if pos := strings.LastIndex(window, "\n\n"); pos > int(s.config.ParaFrac*float64(chunkChars)) {
		return pos + 2
	}

	// 句尾标点后跟大写字母
	if pos := findSentenceEnd(window, int(s.config.SentenceFrac*float64(chunkChars))); pos > 0 {
		return pos
	}

	// 句尾或分句标点
	minPunct := int(s.config.PunctFrac * float64(chunkChars))
	for _, p := range punctBoundaries {
		if pos := strings.LastIndex(window, p); pos > minPunct {
			return pos + len(p)
		}
	}

	// 单个换行
	if pos := strings.LastIndexByte(window, '\n'); pos > int(s.config.NewlineFrac*float64(chunkChars)) {
		return pos + 1
	}

	// 单个空格
	if pos := strings.LastIndexByte(window, ' '); pos > int(s.config.SpaceFrac*float64(chunkChars)) {
		return pos + 1
	}

	return -1
}

// findSentenceEnd 搜索句尾标点后紧跟空白和大写字母的位置
// 返回第一个超过minPos的匹配（空白结束处的偏移），找不到返回-1
func findSentenceEnd(window string, minPos int) int {
	for i := 0; i < len(window); i++ {
		c := window[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}

		// 跳过标点后的空白
		j := i + 1
		for j < len(window) && (window[j] == ' ' || window[j] == '\n' || window[j] == '\t') {
			j++
		}
		if j == i+1 || j >= len(window) {
			continue
		}

		r, _ := utf8.DecodeRuneInString(window[j:])
		if unicode.IsUpper(r) && j > minPos {
			return j
		}
	}
	return -1
}

// EstimateTokens 估算文本的token数量
// 取字符估计和词数估计的平均值，仅用于配置换算
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	words := len(strings.Fields(text))
	chars := len(text)

	tokensByChars := float64(chars) / 3.8
	tokensByWords := float64(words) * 1.3

	return int((tokensByChars + tokensByWords) / 2)
}
