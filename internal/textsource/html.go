package textsource

import (
	"context"
	"fmt"
	"io"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
)

// htmlParser converts HTML to markdown; tables survive as markdown tables, which
// keeps line items readable for the extraction call.
type htmlParser struct {
	conv *converter.Converter
}

func newHTMLParser() *htmlParser {
	return &htmlParser{
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

func (p *htmlParser) parse(_ context.Context, r io.Reader) (string, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	md, err := p.conv.ConvertString(string(src))
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	return md, nil
}
