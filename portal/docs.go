package portal

import (
	"bytes"
	"fmt"
	"html/template"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
)

const docsStyle = "github"

// renderDocs converts the embedded markdown documentation to html once, with code blocks
// highlighted by css classes, and prepares the matching stylesheet.
func (p *Portal) renderDocs() error {
	src, err := content.ReadFile("docs/index.md")
	if err != nil {
		return fmt.Errorf("failed to read docs: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle(docsStyle),
				highlighting.WithFormatOptions(chromahtml.WithClasses(true)),
			),
		),
	)
	var buf bytes.Buffer
	if err = md.Convert(src, &buf); err != nil {
		return fmt.Errorf("failed to render docs: %w", err)
	}
	p.docs = template.HTML(buf.String()) //nolint:gosec // rendered from embedded markdown

	var css bytes.Buffer
	if err = chromahtml.New(chromahtml.WithClasses(true)).WriteCSS(&css, styles.Get(docsStyle)); err != nil {
		return fmt.Errorf("failed to make highlighting css: %w", err)
	}
	p.chromaCSS = css.Bytes()
	return nil
}
