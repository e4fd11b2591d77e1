package distill

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/webpeel/webpeel/models"
)

// ParseDocument converts supported binary documents (PDF, DOCX) to plain
// text based on the content type or URL suffix.
func ParseDocument(ctx context.Context, body []byte, contentType, rawURL string) (string, error) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/pdf") || strings.HasSuffix(strings.ToLower(rawURL), ".pdf"):
		return parsePDF(ctx, body)
	case strings.Contains(ct, "officedocument.wordprocessingml") || strings.HasSuffix(strings.ToLower(rawURL), ".docx"):
		return parseDOCX(body)
	}
	return "", models.NewValidationError(models.ErrCodeInvalidOpt, "unsupported document type")
}

// parsePDF shells out to pdftotext with layout preservation. The binary
// is the de facto standard extractor and handles encrypted-but-readable
// PDFs that pure-Go parsers choke on.
func parsePDF(ctx context.Context, content []byte) (string, error) {
	if len(content) == 0 {
		return "", nil
	}
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", models.NewValidationError(models.ErrCodeInvalidOpt,
			"PDF parsing unavailable: pdftotext not installed")
	}

	tmp, err := os.CreateTemp("", "webpeel-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(content); err != nil {
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp file: %w", err)
	}

	cmd := exec.CommandContext(ctx, "pdftotext", "-layout", "-nopgbrk", tmp.Name(), "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext failed: %w (stderr: %s)", err, stderr.String())
	}
	return stdout.String(), nil
}

// docxBody mirrors the subset of the WordprocessingML document tree we
// read: paragraphs of runs of text.
type docxBody struct {
	Paragraphs []struct {
		Runs []struct {
			Text string `xml:"t"`
		} `xml:"r"`
	} `xml:"body>p"`
}

// parseDOCX extracts paragraph text from word/document.xml inside the
// OOXML container.
func parseDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("not a valid docx archive: %w", err)
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		docXML, err = io.ReadAll(io.LimitReader(rc, 50<<20))
		rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		break
	}
	if docXML == nil {
		return "", fmt.Errorf("docx archive has no word/document.xml")
	}

	var body docxBody
	if err := xml.Unmarshal(docXML, &body); err != nil {
		return "", fmt.Errorf("parse document.xml: %w", err)
	}

	var b strings.Builder
	for _, p := range body.Paragraphs {
		var line strings.Builder
		for _, r := range p.Runs {
			line.WriteString(r.Text)
		}
		if text := strings.TrimSpace(line.String()); text != "" {
			b.WriteString(text)
			b.WriteString("\n\n")
		}
	}
	return strings.TrimSpace(b.String()), nil
}
