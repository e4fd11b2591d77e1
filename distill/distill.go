// Package distill turns fetched bytes into clean, token-budgeted content:
// DOM subsetting, article extraction, format conversion, budget pruning,
// BM25 question filtering, schema extraction, and content metrics.
package distill

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	readability "github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"

	"github.com/webpeel/webpeel/models"
	"github.com/webpeel/webpeel/simhash"
	"github.com/webpeel/webpeel/urlutil"
)

// Result is the distilled output plus everything measured along the way.
type Result struct {
	Content        string
	Format         string
	Title          string
	Metadata       models.Metadata
	Links          []models.Link
	Images         []models.Image
	Chunks         []models.Chunk
	Extracted      json.RawMessage
	Tokens         int
	Words          int
	ReadingTimeMin int
	Fingerprint    string
	Simhash        uint64
	ElapsedMs      int64
}

// Distiller holds the reusable conversion machinery. Safe for concurrent
// use.
type Distiller struct {
	md        *converter.Converter
	sanitizer *bluemonday.Policy
}

func New() *Distiller {
	return &Distiller{
		md:        newMarkdownConverter(),
		sanitizer: newSanitizerPolicy(),
	}
}

// Distill runs the full pipeline on a fetch result. Options must already
// be normalized.
func (d *Distiller) Distill(ctx context.Context, fetched *models.FetchResult, opts *models.PeelOptions) (*Result, error) {
	start := time.Now()

	result, err := d.distill(ctx, fetched, opts)
	if err != nil {
		return nil, err
	}

	result.ElapsedMs = time.Since(start).Milliseconds()
	return result, nil
}

func (d *Distiller) distill(ctx context.Context, fetched *models.FetchResult, opts *models.PeelOptions) (*Result, error) {
	body := string(fetched.Body)
	ct := strings.ToLower(fetched.ContentType)

	switch {
	case opts.Raw:
		// Raw bypasses the whole pipeline: bytes as fetched, no budget.
		return d.finish(&Result{Content: body, Format: "raw", Title: fetched.Title}, opts)

	case isDocumentContent(ct, fetched.FinalURL):
		text, err := ParseDocument(ctx, fetched.Body, fetched.ContentType, fetched.FinalURL)
		if err != nil {
			return nil, err
		}
		return d.finish(&Result{Content: text, Format: textFormat(opts.Format), Title: fetched.Title}, opts)

	case strings.Contains(ct, "text/markdown"):
		// Domain shortcuts return ready markdown; never re-parse it.
		return d.finish(&Result{Content: body, Format: "markdown", Title: fetched.Title}, opts)

	case fetched.IsHTML():
		return d.distillHTML(body, fetched, opts)

	default:
		// JSON, XML, plain text and friends pass through whitespace-normalized.
		return d.finish(&Result{Content: strings.TrimSpace(body), Format: textFormat(opts.Format), Title: fetched.Title}, opts)
	}
}

func (d *Distiller) distillHTML(rawHTML string, fetched *models.FetchResult, opts *models.PeelOptions) (*Result, error) {
	if err := validateSelectors(opts); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, models.NewValidationError(models.ErrCodeInvalidOpt, "failed to parse HTML")
	}

	result := &Result{
		Format:   opts.Format,
		Metadata: extractMetadata(doc, fetched.FinalURL),
	}
	result.Title = result.Metadata.Title
	if result.Title == "" {
		result.Title = fetched.Title
	}
	if len(fetched.FinalURL) > 0 {
		result.Links = extractLinks(doc, fetched.FinalURL)
	}
	if opts.Images {
		result.Images = extractImages(doc, fetched.FinalURL)
	}

	// DOM subsetting happens on the document before any extraction.
	doc.Find("script, style, noscript").Remove()
	for _, sel := range opts.Exclude {
		doc.Find(sel).Remove()
	}
	for _, sel := range opts.ExcludeTags {
		doc.Find(sel).Remove()
	}
	if opts.OnlyMainContent {
		doc.Find("nav, header, footer, aside, form").Remove()
	}

	workHTML := subsetHTML(doc, opts)

	if opts.Readable {
		if extracted, ok := d.readableContent(workHTML, fetched.FinalURL); ok {
			workHTML = extracted
		}
	}

	var content string
	switch opts.Format {
	case "markdown", "":
		content, err = toMarkdown(d.md, workHTML, fetched.FinalURL)
		if err != nil {
			return nil, models.NewValidationError(models.ErrCodeInvalidOpt, "markdown conversion failed")
		}
		result.Format = "markdown"
	case "text":
		content = HTMLToText(workHTML)
	case "html":
		content = d.sanitizer.Sanitize(workHTML)
	case "clean":
		clean := workHTML
		if !opts.Readable {
			if extracted, ok := d.readableContent(workHTML, fetched.FinalURL); ok {
				clean = extracted
			}
		}
		content = d.sanitizer.Sanitize(clean)
	default:
		content, err = toMarkdown(d.md, workHTML, fetched.FinalURL)
		if err != nil {
			return nil, models.NewValidationError(models.ErrCodeInvalidOpt, "markdown conversion failed")
		}
		result.Format = "markdown"
	}

	result.Content = strings.TrimSpace(content)
	return d.finish(result, opts)
}

// validateSelectors compiles the caller's CSS selectors up front so a
// typo surfaces as a validation error instead of silently matching
// nothing. goquery swallows compile failures.
func validateSelectors(opts *models.PeelOptions) error {
	all := make([]string, 0, 1+len(opts.Exclude)+len(opts.ExcludeTags)+len(opts.IncludeTags))
	if opts.Selector != "" {
		all = append(all, opts.Selector)
	}
	all = append(all, opts.Exclude...)
	all = append(all, opts.ExcludeTags...)
	all = append(all, opts.IncludeTags...)
	for _, sel := range all {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			return models.NewValidationError(models.ErrCodeInvalidOpt,
				fmt.Sprintf("invalid selector %q", sel))
		}
	}
	return nil
}

// subsetHTML applies the selector and includeTags narrowing and returns
// the HTML to convert.
func subsetHTML(doc *goquery.Document, opts *models.PeelOptions) string {
	if opts.Selector != "" {
		if sel := doc.Find(opts.Selector); sel.Length() > 0 {
			if h := outerHTML(sel); h != "" {
				return h
			}
		}
	}
	if len(opts.IncludeTags) > 0 {
		combined := strings.Join(opts.IncludeTags, ", ")
		if sel := doc.Find(combined); sel.Length() > 0 {
			if h := outerHTML(sel); h != "" {
				return h
			}
		}
	}
	h, err := doc.Html()
	if err != nil {
		return ""
	}
	return h
}

func outerHTML(sel *goquery.Selection) string {
	var buf strings.Builder
	sel.Each(func(_ int, s *goquery.Selection) {
		if h, err := goquery.OuterHtml(s); err == nil {
			buf.WriteString(h)
		}
	})
	return buf.String()
}

// readableContent runs article extraction, falling back when it finds
// less than a paragraph of text.
func (d *Distiller) readableContent(rawHTML, sourceURL string) (string, bool) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		u = nil
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), u)
	if err != nil {
		return "", false
	}
	if len(strings.TrimSpace(article.TextContent)) < 200 {
		return "", false
	}
	return article.Content, true
}

// finish applies the shared tail of every path: budget, question filter,
// schema extraction, chunking, and metrics.
func (d *Distiller) finish(result *Result, opts *models.PeelOptions) (*Result, error) {
	if result.Format == "raw" {
		// Raw output is byte-preserving: metrics only.
		return d.measure(result), nil
	}

	blocks := SplitBlocks(result.Content)

	if budget := opts.EffectiveBudget(); budget > 0 {
		blocks = ApplyBudget(blocks, budget)
	}
	if opts.Question != "" {
		blocks = FilterByQuestion(blocks, opts.Question)
	}

	if len(opts.Schema) > 0 {
		extracted, err := ExtractSchema(blocks, opts.Schema)
		if err != nil {
			return nil, err
		}
		result.Extracted = extracted
	}

	if opts.Chunk > 0 {
		for i, chunk := range Chunkify(blocks, opts.Chunk) {
			text := JoinBlocks(chunk)
			result.Chunks = append(result.Chunks, models.Chunk{
				Index:   i,
				Content: text,
				Tokens:  EstimateTokens(text),
			})
		}
	}

	result.Content = JoinBlocks(blocks)
	return d.measure(result), nil
}

func (d *Distiller) measure(result *Result) *Result {
	result.Tokens = EstimateTokens(result.Content)
	result.Words = CountWords(result.Content)
	result.ReadingTimeMin = ReadingTimeMinutes(result.Words)
	result.Fingerprint = urlutil.ContentFingerprint(result.Content)
	result.Simhash = simhash.Fingerprint(result.Content)
	return result
}

func isDocumentContent(ct, rawURL string) bool {
	if strings.Contains(ct, "application/pdf") ||
		strings.Contains(ct, "officedocument.wordprocessingml") {
		return true
	}
	lower := strings.ToLower(rawURL)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	return strings.HasSuffix(lower, ".pdf") || strings.HasSuffix(lower, ".docx")
}

// textFormat maps the requested format onto what a non-HTML source can
// actually deliver.
func textFormat(requested string) string {
	if requested == "markdown" || requested == "" {
		return "markdown"
	}
	return "text"
}
