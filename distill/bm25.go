package distill

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// BM25 parameters: standard Robertson values.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// minKeptBlocks is the never-empty floor of the question filter: even a
// nonsense question keeps the top 3 blocks.
const minKeptBlocks = 3

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// bm25Scorer scores blocks against a query over a small in-memory index.
type bm25Scorer struct {
	docs      [][]string
	docFreq   map[string]int
	avgDocLen float64
}

func newBM25Scorer(blocks []Block) *bm25Scorer {
	s := &bm25Scorer{docFreq: make(map[string]int)}
	totalLen := 0
	for _, b := range blocks {
		terms := tokenize(b.Text)
		s.docs = append(s.docs, terms)
		totalLen += len(terms)

		seen := make(map[string]struct{}, len(terms))
		for _, t := range terms {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			s.docFreq[t]++
		}
	}
	if len(blocks) > 0 {
		s.avgDocLen = float64(totalLen) / float64(len(blocks))
	}
	return s
}

// score computes the BM25 relevance of document i to the query terms.
func (s *bm25Scorer) score(i int, query []string) float64 {
	doc := s.docs[i]
	if len(doc) == 0 {
		return 0
	}

	tf := make(map[string]int, len(doc))
	for _, t := range doc {
		tf[t]++
	}

	n := float64(len(s.docs))
	var total float64
	for _, q := range query {
		f := float64(tf[q])
		if f == 0 {
			continue
		}
		df := float64(s.docFreq[q])
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		norm := f * (bm25K1 + 1) / (f + bm25K1*(1-bm25B+bm25B*float64(len(doc))/s.avgDocLen))
		total += idf * norm
	}
	return total
}

// FilterByQuestion keeps blocks relevant to the question: score >= mean/2,
// document order preserved. If the threshold would drop everything, the
// top-scoring minKeptBlocks survive instead.
func FilterByQuestion(blocks []Block, question string) []Block {
	if len(blocks) == 0 || strings.TrimSpace(question) == "" {
		return blocks
	}
	query := tokenize(question)
	if len(query) == 0 {
		return blocks
	}

	scorer := newBM25Scorer(blocks)
	scores := make([]float64, len(blocks))
	var sum float64
	for i := range blocks {
		scores[i] = scorer.score(i, query)
		sum += scores[i]
	}
	threshold := sum / float64(len(blocks)) * 0.5

	var kept []Block
	for i, b := range blocks {
		if scores[i] >= threshold && scores[i] > 0 {
			kept = append(kept, b)
		}
	}
	if len(kept) > 0 {
		return kept
	}

	// Nothing scored: keep the top blocks by score, back in document order.
	idx := make([]int, len(blocks))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	n := minKeptBlocks
	if n > len(idx) {
		n = len(idx)
	}
	top := idx[:n]
	sort.Ints(top)
	kept = make([]Block, 0, n)
	for _, i := range top {
		kept = append(kept, blocks[i])
	}
	return kept
}

// AnswerQuestion returns the single best block for a question, used by
// schema-template extraction. Empty when no block contains any query
// term.
func AnswerQuestion(blocks []Block, question string) string {
	query := tokenize(question)
	if len(blocks) == 0 || len(query) == 0 {
		return ""
	}
	scorer := newBM25Scorer(blocks)
	best, bestScore := -1, 0.0
	for i := range blocks {
		if s := scorer.score(i, query); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return ""
	}
	return blocks[best].Text
}
