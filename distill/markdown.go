package distill

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// newMarkdownConverter builds the shared converter: base plugin strips
// script/style/head noise, commonmark renders standard markdown, and the
// table plugin keeps tabular structure with minimal cell padding so
// tables cost as few tokens as possible.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}

// toMarkdown converts HTML to markdown, resolving relative links against
// the source domain so the output is self-contained.
func toMarkdown(conv *converter.Converter, htmlContent, domain string) (string, error) {
	return conv.ConvertString(htmlContent, converter.WithDomain(domain))
}

// newSanitizerPolicy builds the policy for format=html output: structural
// and text markup survives, scripts, styles, event handlers, and forms do
// not.
func newSanitizerPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class", "id").Globally()
	p.AllowTables()
	p.AllowImages()
	return p
}

// HTMLToText flattens an HTML fragment to whitespace-normalized plain
// text. Block-level boundaries become newlines so paragraph structure
// survives.
func HTMLToText(rawHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	var buf strings.Builder
	skipDepth := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return normalizeWhitespace(buf.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				skipDepth++
			case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article":
				buf.WriteByte('\n')
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			switch string(tn) {
			case "script", "style", "noscript":
				if skipDepth > 0 {
					skipDepth--
				}
			case "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "section", "article":
				buf.WriteByte('\n')
			}
		case html.TextToken:
			if skipDepth == 0 {
				buf.WriteString(string(tokenizer.Text()))
			}
		}
	}
}

// normalizeWhitespace collapses runs of spaces and caps consecutive
// newlines at two.
func normalizeWhitespace(s string) string {
	var buf strings.Builder
	newlines := 0
	spaces := 0
	for _, r := range s {
		switch {
		case r == '\n':
			newlines++
			spaces = 0
		case r == ' ' || r == '\t' || r == '\r':
			spaces++
		default:
			if newlines > 0 {
				if newlines > 2 {
					newlines = 2
				}
				for i := 0; i < newlines; i++ {
					buf.WriteByte('\n')
				}
				newlines = 0
			} else if spaces > 0 {
				buf.WriteByte(' ')
			}
			spaces = 0
			buf.WriteRune(r)
		}
	}
	return strings.TrimSpace(buf.String())
}
