package distill

import "strings"

// Block is one unit of prunable content: a paragraph, a heading merged
// with its first body paragraph, or an intact fenced code block.
type Block struct {
	Text    string
	Heading bool // starts with a markdown heading
	Code    bool // fenced code block
	Tokens  int
}

// SplitBlocks cuts markdown (or plain text) into blocks on blank-line
// boundaries. Fenced code blocks are never split, and a heading is merged
// with the paragraph that follows it so the question filter cannot keep a
// heading while dropping the text it introduces.
func SplitBlocks(content string) []Block {
	lines := strings.Split(content, "\n")
	var blocks []Block
	var cur []string
	inCode := false

	flush := func() {
		text := strings.TrimSpace(strings.Join(cur, "\n"))
		cur = cur[:0]
		if text == "" {
			return
		}
		blocks = append(blocks, Block{
			Text:    text,
			Heading: strings.HasPrefix(text, "#"),
			Code:    strings.HasPrefix(text, "```"),
			Tokens:  EstimateTokens(text),
		})
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inCode {
				cur = append(cur, line)
				inCode = false
				flush()
				continue
			}
			flush()
			inCode = true
			cur = append(cur, line)
			continue
		}
		if inCode {
			cur = append(cur, line)
			continue
		}
		if trimmed == "" {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()

	return mergeHeadings(blocks)
}

// mergeHeadings folds each heading-only block into its following body
// block. A trailing heading with no body stays as-is.
func mergeHeadings(blocks []Block) []Block {
	out := make([]Block, 0, len(blocks))
	for i := 0; i < len(blocks); i++ {
		b := blocks[i]
		if b.Heading && !strings.Contains(b.Text, "\n") && i+1 < len(blocks) && !blocks[i+1].Heading {
			next := blocks[i+1]
			merged := Block{
				Text:    b.Text + "\n\n" + next.Text,
				Heading: true,
				Code:    next.Code,
			}
			merged.Tokens = EstimateTokens(merged.Text)
			out = append(out, merged)
			i++
			continue
		}
		out = append(out, b)
	}
	return out
}

// JoinBlocks reassembles blocks into a document.
func JoinBlocks(blocks []Block) string {
	parts := make([]string, len(blocks))
	for i, b := range blocks {
		parts[i] = b.Text
	}
	return strings.Join(parts, "\n\n")
}
