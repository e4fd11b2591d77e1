package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/webpeel/webpeel/models"
)

const (
	// actionsBudget bounds the whole action sequence.
	actionsBudget = 30 * time.Second
	// defaultActionTimeout applies per action unless the action carries
	// its own; either way the remaining sequence budget clamps it.
	defaultActionTimeout = 5 * time.Second
)

// executeActions runs the ordered action list on the page. A failing
// action aborts the sequence with an error naming the action and how many
// completed before it. The returned bytes are the last screenshot action's
// capture, if any.
func executeActions(ctx context.Context, page *rod.Page, actions []models.Action) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, actionsBudget)
	defer cancel()

	var lastShot []byte
	for i, action := range actions {
		shot, err := executeSingleAction(ctx, page, action)
		if err != nil {
			msg := fmt.Sprintf("action %d (%s) failed after %d completed", i, action.Type, i)
			// Deadline expiry mid-sequence is a timeout, not a bad request:
			// the action list was valid, the page was just too slow.
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, models.NewTimeoutError(msg, err)
			}
			return nil, models.NewValidationError(models.ErrCodeInvalidOpt,
				fmt.Sprintf("%s: %v", msg, err))
		}
		if shot != nil {
			lastShot = shot
		}
	}
	return lastShot, nil
}

func executeSingleAction(ctx context.Context, page *rod.Page, action models.Action) ([]byte, error) {
	timeout := defaultActionTimeout
	if action.Timeout > 0 {
		timeout = time.Duration(action.Timeout) * time.Millisecond
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	actionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p := page.Context(actionCtx)

	switch action.Type {
	case models.ActionWait:
		return nil, execSleep(actionCtx, time.Duration(action.Ms)*time.Millisecond)
	case models.ActionWaitForSelector:
		return nil, p.WaitElementsMoreThan(action.Selector, 0)
	case models.ActionClick:
		return nil, execClick(p, action.Selector)
	case models.ActionType:
		return nil, execType(p, action.Selector, action.Value)
	case models.ActionFill:
		return nil, execFill(p, action.Selector, action.Value)
	case models.ActionSelect:
		return nil, execSelect(p, action.Selector, action.Value)
	case models.ActionPress:
		return nil, execPress(p, action.Key)
	case models.ActionHover:
		return nil, execHover(p, action.Selector)
	case models.ActionScroll:
		return nil, execScroll(actionCtx, p, action)
	case models.ActionScreenshot:
		return execScreenshot(p, action)
	default:
		return nil, fmt.Errorf("unknown action type: %s", action.Type)
	}
}

func execSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func execClick(p *rod.Page, selector string) error {
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// execType appends to the element's current value via key events, so
// page-side listeners fire as they would for a real keyboard.
func execType(p *rod.Page, selector, value string) error {
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	if err := el.Focus(); err != nil {
		return err
	}
	return el.Input(value)
}

// execFill replaces the element's value.
func execFill(p *rod.Page, selector, value string) error {
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		return err
	}
	return el.Input(value)
}

func execSelect(p *rod.Page, selector, value string) error {
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Select([]string{value}, true, rod.SelectorTypeText)
}

func execPress(p *rod.Page, key string) error {
	k, ok := keyNames[key]
	if !ok {
		if len(key) == 1 {
			return p.Keyboard.Type(input.Key(key[0]))
		}
		return fmt.Errorf("unknown key: %s", key)
	}
	return p.Keyboard.Type(k)
}

var keyNames = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
}

func execHover(p *rod.Page, selector string) error {
	el, err := p.Element(selector)
	if err != nil {
		return fmt.Errorf("element %q not found: %w", selector, err)
	}
	return el.Hover()
}

// execScroll handles both forms: absolute targets ("top", "bottom", a y
// offset, or {x,y}) and relative direction+amount in pixels. Scrolling to
// the bottom uses the incremental auto-scroll so lazy content loads.
func execScroll(ctx context.Context, p *rod.Page, action models.Action) error {
	if len(action.To) > 0 || (action.Direction == "" && action.Amount == 0) {
		target, err := action.DecodeScrollTarget()
		if err != nil {
			return err
		}
		switch {
		case target.Top:
			_, err = p.Eval(`() => window.scrollTo(0, 0)`)
			return err
		case target.Bottom:
			_, err := autoScroll(ctx, p)
			return err
		case target.HasXY:
			_, err = p.Eval(`(x, y) => window.scrollTo(x, y)`, target.X, target.Y)
			return err
		}
		return nil
	}

	amount := action.Amount
	if amount <= 0 {
		res, err := p.Eval(`() => window.innerHeight`)
		if err != nil {
			return fmt.Errorf("failed to get viewport height: %w", err)
		}
		amount = res.Value.Int()
	}
	delta := float64(amount)
	if action.Direction == "up" {
		delta = -delta
	}
	if err := p.Mouse.Scroll(0, delta, 0); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	// Let lazy-loaded content trigger.
	return execSleep(ctx, 100*time.Millisecond)
}

func execScreenshot(p *rod.Page, action models.Action) ([]byte, error) {
	format := proto.PageCaptureScreenshotFormatPng
	quality := (*int)(nil)
	if action.Format == "jpeg" {
		format = proto.PageCaptureScreenshotFormatJpeg
		q := action.Quality
		if q <= 0 || q > 100 {
			q = 80
		}
		quality = &q
	}
	fullPage := action.FullPage != nil && *action.FullPage
	return p.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format:  format,
		Quality: quality,
	})
}

// scrollStats summarises an auto-scroll run.
type scrollStats struct {
	ScrollCount int
	FinalHeight int
	ContentGrew bool
}

// autoScroll walks to the bottom of the page one viewport at a time,
// pausing for lazy loaders, until the document height stops growing or
// the iteration cap is hit.
func autoScroll(ctx context.Context, p *rod.Page) (scrollStats, error) {
	const maxScrolls = 20
	var stats scrollStats

	initial, err := documentHeight(p)
	if err != nil {
		return stats, err
	}
	height := initial

	for i := 0; i < maxScrolls; i++ {
		if _, err := p.Eval(`() => window.scrollBy(0, window.innerHeight)`); err != nil {
			return stats, err
		}
		stats.ScrollCount++
		if err := execSleep(ctx, 250*time.Millisecond); err != nil {
			return stats, err
		}

		newHeight, err := documentHeight(p)
		if err != nil {
			return stats, err
		}
		atBottom, err := p.Eval(`() => window.innerHeight + window.scrollY >= document.body.scrollHeight - 2`)
		if err == nil && atBottom.Value.Bool() && newHeight == height {
			height = newHeight
			break
		}
		height = newHeight
	}

	stats.FinalHeight = height
	stats.ContentGrew = height > initial
	return stats, nil
}

func documentHeight(p *rod.Page) (int, error) {
	res, err := p.Eval(`() => document.body.scrollHeight`)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}
