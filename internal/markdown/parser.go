package markdown

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/frontmatter"
)

// Document is a rendered HTML fragment and its frontmatter.
type Document struct {
	HTML []byte
	Meta map[string]any
}

// String returns the frontmatter value for key, or "" when it is missing or
// not a string.
func (d *Document) String(key string) string {
	v, _ := d.Meta[key].(string)
	return v
}

type Parser struct {
	md goldmark.Markdown
}

// NewParser renders GFM without raw HTML passthrough; frontmatter is
// accepted in YAML or TOML.
func NewParser() *Parser {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Typographer,
			&frontmatter.Extender{},
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			goldmarkhtml.WithHardWraps(),
			goldmarkhtml.WithXHTML(),
		),
	)

	return &Parser{md: md}
}

func (p *Parser) Parse(source []byte) (*Document, error) {
	ctx := parser.NewContext()
	var buf bytes.Buffer

	err := p.md.Convert(source, &buf, parser.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	doc := &Document{HTML: buf.Bytes(), Meta: map[string]any{}}

	data := frontmatter.Get(ctx)
	if data != nil {
		var meta map[string]any
		if data.Decode(&meta) == nil && meta != nil {
			doc.Meta = meta
		}
	}

	return doc, nil
}
