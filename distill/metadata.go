package distill

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/webpeel/webpeel/models"
)

// extractMetadata pulls page-level metadata from the full document:
// title, standard meta tags, Open Graph properties, and raw JSON-LD
// blocks for schema.org consumers.
func extractMetadata(doc *goquery.Document, sourceURL string) models.Metadata {
	meta := models.Metadata{SourceURL: sourceURL}

	meta.Title = strings.TrimSpace(doc.Find("title").First().Text())
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		meta.Language = lang
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content, ok := s.Attr("content")
		if !ok || content == "" {
			return
		}
		name, _ := s.Attr("name")
		prop, _ := s.Attr("property")

		switch strings.ToLower(name) {
		case "description":
			meta.Description = content
		case "author":
			meta.Author = content
		case "article:published_time", "date":
			meta.Published = content
		}
		switch strings.ToLower(prop) {
		case "og:title":
			meta.OGTitle = content
		case "og:description":
			meta.OGDescription = content
		case "og:image":
			meta.OGImage = content
		case "og:type":
			meta.OGType = content
		case "og:site_name":
			meta.SiteName = content
		case "article:published_time":
			if meta.Published == "" {
				meta.Published = content
			}
		}
	})

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" || !json.Valid([]byte(raw)) {
			return
		}
		meta.SchemaOrg = append(meta.SchemaOrg, json.RawMessage(raw))
	})

	return meta
}

// extractLinks collects unique hyperlinks, resolved to absolute URLs.
// Fragment-only and javascript: links are skipped.
func extractLinks(doc *goquery.Document, sourceURL string) []models.Link {
	base, _ := url.Parse(sourceURL)
	seen := make(map[string]struct{})
	var links []models.Link

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return
		}
		if base != nil {
			if abs, err := base.Parse(href); err == nil {
				href = abs.String()
			}
		}
		if _, dup := seen[href]; dup {
			return
		}
		seen[href] = struct{}{}
		links = append(links, models.Link{
			Href: href,
			Text: strings.TrimSpace(s.Text()),
		})
	})
	return links
}

// extractImages collects unique image sources, resolved to absolute URLs.
func extractImages(doc *goquery.Document, sourceURL string) []models.Image {
	base, _ := url.Parse(sourceURL)
	seen := make(map[string]struct{})
	var images []models.Image

	doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" || strings.HasPrefix(src, "data:") {
			return
		}
		if base != nil {
			if abs, err := base.Parse(src); err == nil {
				src = abs.String()
			}
		}
		if _, dup := seen[src]; dup {
			return
		}
		seen[src] = struct{}{}
		alt, _ := s.Attr("alt")
		images = append(images, models.Image{Src: src, Alt: strings.TrimSpace(alt)})
	})
	return images
}
