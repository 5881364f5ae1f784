package utils

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractCodeBlock returns the body of the first fenced code block in a model
// reply. A block tagged json wins over untagged ones. Replies without a fence
// are returned trimmed.
func ExtractCodeBlock(input string) string {
	src := []byte(input)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var first, tagged string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fb, ok := n.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}
		var buf bytes.Buffer
		lines := fb.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			buf.Write(seg.Value(src))
		}
		body := strings.TrimSpace(buf.String())
		if first == "" {
			first = body
		}
		if tagged == "" && strings.EqualFold(string(fb.Language(src)), "json") {
			tagged = body
			return ast.WalkStop, nil
		}
		return ast.WalkSkipChildren, nil
	})

	switch {
	case tagged != "":
		return tagged
	case first != "":
		return first
	}
	return strings.TrimSpace(input)
}
