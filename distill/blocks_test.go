package distill

import (
	"strings"
	"testing"
)

func TestSplitBlocksParagraphs(t *testing.T) {
	content := "First paragraph here.\n\nSecond paragraph here.\n\n\nThird one."
	blocks := SplitBlocks(content)
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	if blocks[0].Text != "First paragraph here." {
		t.Errorf("block 0 = %q", blocks[0].Text)
	}
}

func TestSplitBlocksMergesHeadings(t *testing.T) {
	content := "## Installation\n\nRun the installer and follow the prompts.\n\nAnother paragraph."
	blocks := SplitBlocks(content)
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2 (heading merged with body)", len(blocks))
	}
	if !blocks[0].Heading {
		t.Error("merged block not marked as heading")
	}
	if !strings.Contains(blocks[0].Text, "Run the installer") {
		t.Errorf("heading not merged with body: %q", blocks[0].Text)
	}
}

func TestSplitBlocksPreservesCodeFences(t *testing.T) {
	content := "Intro text.\n\n```go\nfunc main() {\n\n\tprintln(\"hi\")\n}\n```\n\nOutro text."
	blocks := SplitBlocks(content)
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	code := blocks[1]
	if !code.Code {
		t.Error("code block not marked")
	}
	// The blank line inside the fence must survive.
	if !strings.Contains(code.Text, "func main() {\n\n\tprintln") {
		t.Errorf("code block split internally: %q", code.Text)
	}
}

func TestJoinBlocksRoundTrip(t *testing.T) {
	content := "Para one.\n\nPara two.\n\nPara three."
	if got := JoinBlocks(SplitBlocks(content)); got != content {
		t.Errorf("round trip changed content: %q", got)
	}
}

func TestApplyBudgetPrunesToFit(t *testing.T) {
	long := strings.Repeat("filler words here ", 50) // ~225 tokens
	blocks := SplitBlocks(strings.Join([]string{
		"# Title\n\nShort intro.",
		long,
		long,
		long,
	}, "\n\n"))

	pruned := ApplyBudget(blocks, 300)
	total := 0
	for _, b := range pruned {
		total += b.Tokens
	}
	if total > 300 {
		t.Errorf("pruned content still %d tokens", total)
	}
	if len(pruned) == 0 {
		t.Fatal("budget pruning removed everything")
	}
	// Early content survives preferentially.
	if !strings.Contains(pruned[0].Text, "# Title") {
		t.Errorf("leading heading pruned first: %q", pruned[0].Text)
	}
}

func TestApplyBudgetUnlimited(t *testing.T) {
	blocks := SplitBlocks("a\n\nb\n\nc")
	if got := ApplyBudget(blocks, 0); len(got) != 3 {
		t.Errorf("budget 0 must keep everything, got %d blocks", len(got))
	}
}

func TestApplyBudgetSingleOversizeBlockTruncated(t *testing.T) {
	huge := strings.Repeat("x", 10000)
	pruned := ApplyBudget(SplitBlocks(huge), 100)
	if len(pruned) != 1 {
		t.Fatalf("got %d blocks", len(pruned))
	}
	if pruned[0].Tokens > 100 {
		t.Errorf("oversize block not truncated: %d tokens", pruned[0].Tokens)
	}
}

func TestChunkify(t *testing.T) {
	var parts []string
	for i := 0; i < 10; i++ {
		parts = append(parts, strings.Repeat("word ", 80)) // ~100 tokens each
	}
	blocks := SplitBlocks(strings.Join(parts, "\n\n"))

	chunks := Chunkify(blocks, 250)
	if len(chunks) < 4 {
		t.Fatalf("got %d chunks, expected the content split across at least 4", len(chunks))
	}
	for i, c := range chunks {
		tokens := 0
		for _, b := range c {
			tokens += b.Tokens
		}
		if tokens > 250 && len(c) > 1 {
			t.Errorf("chunk %d has %d tokens across %d blocks", i, tokens, len(c))
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(""); got != 0 {
		t.Errorf("empty = %d", got)
	}
	if got := EstimateTokens("ab"); got != 1 {
		t.Errorf("tiny input = %d, want minimum 1", got)
	}
	if got := EstimateTokens(strings.Repeat("x", 400)); got != 100 {
		t.Errorf("400 chars = %d tokens, want 100", got)
	}
}

func TestReadingTime(t *testing.T) {
	if got := ReadingTimeMinutes(0); got != 0 {
		t.Errorf("0 words = %d min", got)
	}
	if got := ReadingTimeMinutes(100); got != 1 {
		t.Errorf("100 words = %d min, want 1", got)
	}
	if got := ReadingTimeMinutes(500); got != 3 {
		t.Errorf("500 words = %d min, want 3", got)
	}
}
