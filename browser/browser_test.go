package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-rod/rod"

	"github.com/webpeel/webpeel/models"
)

func TestPagePoolLazyCreate(t *testing.T) {
	pool := newPagePool(2)
	created := 0

	page, err := pool.get(context.Background(), func() (*rod.Page, error) {
		created++
		return &rod.Page{}, nil
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if created != 1 {
		t.Errorf("created = %d", created)
	}

	pool.put(page)

	// The returned page is reused, not recreated.
	again, err := pool.get(context.Background(), func() (*rod.Page, error) {
		created++
		return &rod.Page{}, nil
	})
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if again != page {
		t.Error("pool did not reuse the returned page")
	}
	if created != 1 {
		t.Errorf("created = %d after reuse", created)
	}
}

func TestPagePoolQueueTimeout(t *testing.T) {
	pool := newPagePool(1)

	busy, err := pool.get(context.Background(), func() (*rod.Page, error) {
		return &rod.Page{}, nil
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer pool.put(busy)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = pool.get(ctx, func() (*rod.Page, error) {
		return &rod.Page{}, nil
	})
	if models.KindOf(err) != models.KindTimeout {
		t.Fatalf("error = %v, want timeout while pool exhausted", err)
	}
}

func TestPagePoolCreateFailureRecyclesSlot(t *testing.T) {
	pool := newPagePool(1)

	_, err := pool.get(context.Background(), func() (*rod.Page, error) {
		return nil, errors.New("browser crashed")
	})
	if err == nil {
		t.Fatal("expected create failure to propagate")
	}

	// The slot must be available again.
	page, err := pool.get(context.Background(), func() (*rod.Page, error) {
		return &rod.Page{}, nil
	})
	if err != nil {
		t.Fatalf("slot lost after create failure: %v", err)
	}
	pool.put(page)
}

func TestReleaseCancelledContextRetiresTab(t *testing.T) {
	m := &Manager{pool: newPagePool(1), cfg: DefaultConfig()}
	<-m.pool.slots // borrow the only slot
	m.activePages.Add(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.release(ctx, nil)

	if got := m.activePages.Load(); got != 0 {
		t.Errorf("activePages = %d after release", got)
	}
	select {
	case page := <-m.pool.slots:
		if page != nil {
			t.Error("cancelled release must retire the tab, not return it")
		}
	default:
		t.Error("slot not recycled after cancelled release")
	}
}

func TestExecuteActionsDeadlineIsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := executeActions(ctx, &rod.Page{}, []models.Action{
		{Type: models.ActionWait, Ms: 60000},
	})
	if models.KindOf(err) != models.KindTimeout {
		t.Fatalf("error = %v, want timeout kind when the deadline expires mid-sequence", err)
	}
}

func TestExecuteActionsUnknownTypeIsValidation(t *testing.T) {
	_, err := executeActions(context.Background(), &rod.Page{}, []models.Action{
		{Type: "teleport"},
	})
	if models.KindOf(err) != models.KindValidation {
		t.Fatalf("error = %v, want validation kind for an unknown action", err)
	}
}

func TestIsDocumentURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://example.com/report.pdf", true},
		{"https://example.com/Report.PDF", true},
		{"https://example.com/files/minutes.docx?download=1", true},
		{"https://example.com/article", false},
		{"https://example.com/pdf-guide", false},
		{"https://example.com/page#notes.pdf", false},
	}
	for _, tc := range cases {
		if got := isDocumentURL(tc.url); got != tc.want {
			t.Errorf("isDocumentURL(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestIsAdDomain(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"doubleclick.net", true},
		{"pagead2.googlesyndication.com", true},
		{"cdn.taboola.com", true},
		{"DoubleClick.Net", true},
		{"example.com", false},
		{"nottaboola.com", false},
		{"taboola.com.evil.org", false},
	}
	for _, tc := range cases {
		if got := isAdDomain(tc.host); got != tc.want {
			t.Errorf("isAdDomain(%q) = %v, want %v", tc.host, got, tc.want)
		}
	}
}

func TestDeviceByName(t *testing.T) {
	if _, ok := deviceByName("mobile"); !ok {
		t.Error("mobile device missing")
	}
	if _, ok := deviceByName("Tablet"); !ok {
		t.Error("device lookup should be case-insensitive")
	}
	if _, ok := deviceByName("commodore64"); ok {
		t.Error("unknown device should not resolve")
	}
}
