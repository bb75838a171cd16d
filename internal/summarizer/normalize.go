package summarizer

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PlainText strips markdown structure from s and returns the readable
// text content. Submitted documents and model output both frequently
// arrive as markdown; word statistics are computed over the prose, not
// the markup.
func PlainText(s string) string {
	source := []byte(s)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var b strings.Builder

	err := ast.Walk(doc, func(
		n ast.Node, entering bool,
	) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte('\n')
			}

		case *ast.CodeBlock:
			writeLines(&b, source, t.Lines())

		case *ast.FencedCodeBlock:
			writeLines(&b, source, t.Lines())
		}

		// Separate block-level elements so adjacent words don't
		// merge.
		if n.Type() == ast.TypeBlock {
			b.WriteByte('\n')
		}

		return ast.WalkContinue, nil
	})
	if err != nil {
		// Walk only fails if the callback errors, which ours
		// never does.
		return s
	}

	return strings.TrimSpace(b.String())
}

func writeLines(b *strings.Builder, source []byte, lines *text.Segments) {
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(source))
	}
}

// WordCount returns the number of whitespace-separated words in the
// plain-text rendering of s.
func WordCount(s string) int {
	return len(strings.Fields(PlainText(s)))
}
