package document

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		path string
		want ContentType
	}{
		{"doc.txt", PlainText},
		{"doc.TXT", PlainText},
		{"notes.log", PlainText},
		{"readme.md", Markdown},
		{"guide.markdown", Markdown},
		{"report.pdf", Unknown},
		{"binary.exe", Unknown},
		{"noextension", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectContentType(tt.path))
		})
	}
}

func TestParserFactory(t *testing.T) {
	t.Run("plaintext", func(t *testing.T) {
		p, err := ParserFactory("doc.txt")
		require.NoError(t, err)
		assert.IsType(t, &PlainTextParser{}, p)
	})

	t.Run("markdown", func(t *testing.T) {
		p, err := ParserFactory("readme.md")
		require.NoError(t, err)
		assert.IsType(t, &MarkdownParser{}, p)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := ParserFactory("report.pdf")
		assert.ErrorIs(t, err, ErrUnsupportedType)
	})
}

func TestPlainTextParser(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "sample.txt")
	content := "第一段内容。\n\n第二段内容。"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	parser := NewPlainTextParser()

	text, err := parser.Parse(path)
	require.NoError(t, err)
	assert.Equal(t, content, text)

	// ParseReader与Parse结果一致
	text, err = parser.ParseReader(strings.NewReader(content), "sample.txt")
	require.NoError(t, err)
	assert.Equal(t, content, text)

	// 不存在的文件
	_, err = parser.Parse(filepath.Join(tempDir, "missing.txt"))
	assert.Error(t, err)
}

func TestMarkdownParser(t *testing.T) {
	parser := NewMarkdownParser()

	t.Run("headings and paragraphs", func(t *testing.T) {
		md := "# 标题\n\n第一段内容。\n\n第二段内容。"
		text, err := parser.ParseReader(strings.NewReader(md), "doc.md")
		require.NoError(t, err)

		assert.Contains(t, text, "标题")
		assert.Contains(t, text, "第一段内容。")
		assert.Contains(t, text, "第二段内容。")
		assert.NotContains(t, text, "#", "Markdown语法符号应被去除")
		assert.NotContains(t, text, "<", "HTML标签应被去除")

		// 段落边界保留为空行
		assert.Contains(t, text, "\n\n", "段落边界应保留")
	})

	t.Run("lists", func(t *testing.T) {
		md := "列表：\n\n- 第一项\n- 第二项\n"
		text, err := parser.ParseReader(strings.NewReader(md), "doc.md")
		require.NoError(t, err)

		assert.Contains(t, text, "第一项")
		assert.Contains(t, text, "第二项")
	})

	t.Run("html entities unescaped", func(t *testing.T) {
		md := "a < b && b > c"
		text, err := parser.ParseReader(strings.NewReader(md), "doc.md")
		require.NoError(t, err)

		assert.Contains(t, text, "&&")
		assert.NotContains(t, text, "&amp;")
	})

	t.Run("parse from file", func(t *testing.T) {
		tempDir := t.TempDir()
		path := filepath.Join(tempDir, "readme.md")
		require.NoError(t, os.WriteFile(path, []byte("# Title\n\nBody text."), 0644))

		text, err := parser.Parse(path)
		require.NoError(t, err)
		assert.Contains(t, text, "Title")
		assert.Contains(t, text, "Body text.")
	})
}
