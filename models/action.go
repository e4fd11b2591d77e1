package models

import (
	"encoding/json"
	"fmt"
)

// Action types accepted by the executor.
const (
	ActionWait            = "wait"
	ActionClick           = "click"
	ActionType            = "type"
	ActionFill            = "fill"
	ActionSelect          = "select"
	ActionPress           = "press"
	ActionHover           = "hover"
	ActionScroll          = "scroll"
	ActionWaitForSelector = "waitForSelector"
	ActionScreenshot      = "screenshot"
)

// Action is a single imperative page interaction. Clients use competing
// naming conventions (ms vs milliseconds, text vs value, direction+amount
// vs to); Normalize folds the aliases into the canonical fields so the
// executor only ever sees one shape.
type Action struct {
	Type     string `json:"type"`
	Selector string `json:"selector,omitempty"`

	// Canonical duration in milliseconds. "milliseconds" is the alias.
	Ms           int `json:"ms,omitempty"`
	Milliseconds int `json:"milliseconds,omitempty"`

	// Canonical input value. "text" is the alias.
	Value string `json:"value,omitempty"`
	Text  string `json:"text,omitempty"`

	// Press
	Key string `json:"key,omitempty"`

	// Scroll: either relative (direction+amount) or absolute (to).
	Direction string          `json:"direction,omitempty"` // "up" | "down"
	Amount    int             `json:"amount,omitempty"`    // pixels
	To        json.RawMessage `json:"to,omitempty"`        // "top" | "bottom" | number | {x,y}

	// Per-action timeout in ms; clamped by the remaining total deadline.
	Timeout int `json:"timeout,omitempty"`

	// Screenshot
	FullPage *bool  `json:"full_page,omitempty"`
	Format   string `json:"format,omitempty"` // "png" (default) | "jpeg"
	Quality  int    `json:"quality,omitempty"`
}

// ScrollTarget is the decoded form of the scroll "to" field.
type ScrollTarget struct {
	Top    bool
	Bottom bool
	Y      float64
	X      float64
	HasXY  bool
}

// Normalize validates the action and folds aliases into canonical fields.
func (a *Action) Normalize() error {
	if a.Ms == 0 && a.Milliseconds > 0 {
		a.Ms = a.Milliseconds
	}
	a.Milliseconds = 0
	if a.Value == "" && a.Text != "" {
		a.Value = a.Text
	}
	a.Text = ""

	switch a.Type {
	case ActionWait:
		if a.Ms <= 0 {
			return NewValidationError(ErrCodeInvalidOpt, "wait action requires ms > 0")
		}
	case ActionClick, ActionHover:
		if a.Selector == "" {
			return NewValidationError(ErrCodeInvalidOpt, fmt.Sprintf("%s action requires a selector", a.Type))
		}
	case ActionType, ActionFill, ActionSelect:
		if a.Selector == "" {
			return NewValidationError(ErrCodeInvalidOpt, fmt.Sprintf("%s action requires a selector", a.Type))
		}
		if a.Value == "" {
			return NewValidationError(ErrCodeInvalidOpt, fmt.Sprintf("%s action requires a value", a.Type))
		}
	case ActionPress:
		if a.Key == "" {
			return NewValidationError(ErrCodeInvalidOpt, "press action requires a key")
		}
	case ActionScroll:
		if a.Direction != "" && a.Direction != "up" && a.Direction != "down" {
			return NewValidationError(ErrCodeInvalidOpt, "scroll direction must be up or down")
		}
		if len(a.To) > 0 {
			if _, err := a.DecodeScrollTarget(); err != nil {
				return err
			}
		}
	case ActionWaitForSelector:
		if a.Selector == "" {
			return NewValidationError(ErrCodeInvalidOpt, "waitForSelector action requires a selector")
		}
	case ActionScreenshot:
		switch a.Format {
		case "", "png", "jpeg":
		default:
			return NewValidationError(ErrCodeInvalidOpt, "screenshot format must be png or jpeg")
		}
	default:
		return NewValidationError(ErrCodeInvalidOpt, fmt.Sprintf("unknown action type: %s", a.Type))
	}
	return nil
}

// DecodeScrollTarget interprets the polymorphic "to" field.
func (a *Action) DecodeScrollTarget() (ScrollTarget, error) {
	var t ScrollTarget
	if len(a.To) == 0 {
		t.Bottom = true
		return t, nil
	}
	var s string
	if err := json.Unmarshal(a.To, &s); err == nil {
		switch s {
		case "top":
			t.Top = true
			return t, nil
		case "bottom":
			t.Bottom = true
			return t, nil
		default:
			return t, NewValidationError(ErrCodeInvalidOpt, fmt.Sprintf("scroll target must be top or bottom, got %s", s))
		}
	}
	var y float64
	if err := json.Unmarshal(a.To, &y); err == nil {
		t.Y = y
		t.HasXY = true
		return t, nil
	}
	var xy struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := json.Unmarshal(a.To, &xy); err == nil {
		t.X, t.Y = xy.X, xy.Y
		t.HasXY = true
		return t, nil
	}
	return t, NewValidationError(ErrCodeInvalidOpt, "malformed scroll target")
}
