package distill

import "sort"

// ApplyBudget prunes the lowest-value blocks until the document fits the
// token budget, preserving document order. Value favors early position,
// headings, and code blocks; long late paragraphs go first. budget <= 0
// means unlimited.
func ApplyBudget(blocks []Block, budget int) []Block {
	if budget <= 0 || len(blocks) == 0 {
		return blocks
	}

	total := 0
	for _, b := range blocks {
		total += b.Tokens
	}
	if total <= budget {
		return blocks
	}

	type scored struct {
		idx   int
		value float64
	}
	order := make([]scored, len(blocks))
	for i, b := range blocks {
		v := 1.0 / float64(i+1) // early content matters most
		if b.Heading {
			v *= 3
		}
		if b.Code {
			v *= 2
		}
		order[i] = scored{idx: i, value: v}
	}
	sort.SliceStable(order, func(a, b int) bool { return order[a].value < order[b].value })

	dropped := make(map[int]struct{})
	for _, s := range order {
		if total <= budget {
			break
		}
		// Never prune down to nothing.
		if len(blocks)-len(dropped) <= 1 {
			break
		}
		dropped[s.idx] = struct{}{}
		total -= blocks[s.idx].Tokens
	}

	kept := make([]Block, 0, len(blocks)-len(dropped))
	for i, b := range blocks {
		if _, gone := dropped[i]; !gone {
			kept = append(kept, b)
		}
	}

	// A single oversized block is truncated rather than returned whole.
	if len(kept) == 1 && kept[0].Tokens > budget {
		kept[0] = truncateBlock(kept[0], budget)
	}
	return kept
}

// truncateBlock cuts a block to roughly the budget on a rune boundary.
func truncateBlock(b Block, budget int) Block {
	runes := []rune(b.Text)
	maxRunes := budget * charsPerToken
	if len(runes) <= maxRunes {
		return b
	}
	b.Text = string(runes[:maxRunes])
	b.Tokens = EstimateTokens(b.Text)
	return b
}

// Chunkify splits blocks into RAG chunks of at most chunkTokens each,
// cutting only on block boundaries except for single blocks that exceed
// the chunk size on their own.
func Chunkify(blocks []Block, chunkTokens int) [][]Block {
	if chunkTokens <= 0 || len(blocks) == 0 {
		return nil
	}
	var chunks [][]Block
	var cur []Block
	curTokens := 0

	for _, b := range blocks {
		if curTokens > 0 && curTokens+b.Tokens > chunkTokens {
			chunks = append(chunks, cur)
			cur = nil
			curTokens = 0
		}
		cur = append(cur, b)
		curTokens += b.Tokens
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}
