package distill

import (
	"strings"
	"testing"
)

func questionBlocks() []Block {
	return SplitBlocks(strings.Join([]string{
		"The pricing page lists three plans: free, pro at $20 per month, and enterprise.",
		"Our office dog is named Biscuit and enjoys long naps under the standing desks.",
		"Refunds are processed within 5 business days of the cancellation request.",
		"The engineering blog covers Go, distributed systems, and the occasional war story.",
		"Enterprise pricing includes SSO, audit logs, and a dedicated support channel.",
	}, "\n\n"))
}

func TestFilterByQuestionKeepsRelevant(t *testing.T) {
	blocks := questionBlocks()
	kept := FilterByQuestion(blocks, "how much does the pro plan pricing cost")

	if len(kept) == 0 {
		t.Fatal("filter dropped everything")
	}
	joined := JoinBlocks(kept)
	if !strings.Contains(joined, "$20 per month") {
		t.Errorf("most relevant block missing:\n%s", joined)
	}
	if strings.Contains(joined, "Biscuit") {
		t.Errorf("irrelevant block survived:\n%s", joined)
	}
}

func TestFilterByQuestionPreservesOrder(t *testing.T) {
	blocks := questionBlocks()
	kept := FilterByQuestion(blocks, "pricing plans enterprise")

	var positions []int
	for _, k := range kept {
		for i, b := range blocks {
			if b.Text == k.Text {
				positions = append(positions, i)
			}
		}
	}
	for i := 1; i < len(positions); i++ {
		if positions[i] < positions[i-1] {
			t.Fatalf("document order not preserved: %v", positions)
		}
	}
}

func TestFilterByQuestionNeverEmpty(t *testing.T) {
	blocks := questionBlocks()
	kept := FilterByQuestion(blocks, "zxqwv flurbish grommet")

	if len(kept) < 3 {
		t.Fatalf("nonsense question kept %d blocks, want at least 3", len(kept))
	}
}

func TestFilterByQuestionEmptyQuestion(t *testing.T) {
	blocks := questionBlocks()
	if got := FilterByQuestion(blocks, "   "); len(got) != len(blocks) {
		t.Errorf("blank question should be a no-op, got %d of %d blocks", len(got), len(blocks))
	}
}

func TestAnswerQuestion(t *testing.T) {
	blocks := questionBlocks()
	answer := AnswerQuestion(blocks, "how long do refunds take to process")
	if !strings.Contains(answer, "5 business days") {
		t.Errorf("answer = %q", answer)
	}

	if got := AnswerQuestion(blocks, "zxqwv flurbish"); got != "" {
		t.Errorf("unanswerable question returned %q", got)
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("Hello, World! Prices start at $20/month.")
	want := []string{"hello", "world", "prices", "start", "at", "20", "month"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}
