// Package markdown holds the text helpers the editor shows next to a post:
// the HTML preview, the index excerpt and the word count.
package markdown

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// ExcerptLength is the rune length of the excerpt stored in the index.
const ExcerptLength = 100

var (
	md = goldmark.New(goldmark.WithExtensions(extension.GFM))

	cjkRe   = regexp.MustCompile(`[\x{4e00}-\x{9fa5}]`)
	latinRe = regexp.MustCompile(`[a-zA-Z]+`)
)

// Render converts markdown to HTML with GitHub flavoured extensions.
func Render(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("markdown: render: %w", err)
	}
	return buf.String(), nil
}

// Excerpt strips markdown punctuation (#*`>[]!-), trims the result and
// keeps its first n runes followed by an ellipsis.
func Excerpt(src string, n int) string {
	stripped := strings.Map(func(r rune) rune {
		switch r {
		case '#', '*', '`', '>', '[', ']', '!', '-':
			return -1
		}
		return r
	}, src)
	runes := []rune(strings.TrimSpace(stripped))
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes) + "…"
}

// WordCount counts CJK ideographs plus runs of latin letters.
func WordCount(src string) int {
	return len(cjkRe.FindAllStringIndex(src, -1)) + len(latinRe.FindAllStringIndex(src, -1))
}
