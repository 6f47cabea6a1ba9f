package provider

import (
	"github.com/rotisserie/eris"
)

// Window is the price-history duration requested from the provider.
type Window string

const (
	WindowAll  Window = "all"
	Window365d Window = "365d"
	Window90d  Window = "90d"
	Window30d  Window = "30d"
	Window7d   Window = "7d"
)

// broadToNarrow is the fallback cascade, broadest first.
var broadToNarrow = []Window{WindowAll, Window365d, Window90d, Window30d}

// ParseWindow validates a window name.
func ParseWindow(s string) (Window, error) {
	switch w := Window(s); w {
	case WindowAll, Window365d, Window90d, Window30d, Window7d:
		return w, nil
	default:
		return "", eris.Errorf("provider: unknown window %q", s)
	}
}

// Param returns the query parameter value for the window.
func (w Window) Param() string {
	if w == WindowAll {
		return "allTime"
	}
	return string(w)
}

// Cascade returns the ordered windows to try for a set fetch. Aggressive
// runs start at the broadest window; otherwise the cascade starts at
// defaultWindow (90d when unset or not part of the cascade).
func Cascade(aggressive bool, defaultWindow Window) []Window {
	if aggressive {
		return append([]Window(nil), broadToNarrow...)
	}
	start := 2 // 90d
	for i, w := range broadToNarrow {
		if w == defaultWindow {
			start = i
			break
		}
	}
	return append([]Window(nil), broadToNarrow[start:]...)
}

// WindowAttempt records one window's set fetch during a cascade.
type WindowAttempt struct {
	Window     Window `json:"window"`
	OK         bool   `json:"ok"`
	Pages      int    `json:"pages"`
	Cards      int    `json:"cards"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Error      string `json:"error,omitempty"`
}
