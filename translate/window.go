package translate

import (
	"strings"

	"github.com/teranos/tren/errors"
)

// ContextWindowSize is how many previous chunks a user prompt sees
const ContextWindowSize = 8

// HistoryMode selects what the window remembers of each completed chunk
type HistoryMode string

const (
	// HistorySource keeps the source text of each chunk
	HistorySource HistoryMode = "source"
	// HistoryTranslated keeps the model's translation of each chunk
	HistoryTranslated HistoryMode = "translated"
)

// ParseHistoryMode parses a configured history mode. Empty means source.
func ParseHistoryMode(s string) (HistoryMode, error) {
	switch HistoryMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", HistorySource:
		return HistorySource, nil
	case HistoryTranslated:
		return HistoryTranslated, nil
	}
	return "", errors.Newf("unknown history mode %q (want %q or %q)", s, HistorySource, HistoryTranslated)
}

// Window is the history of completed chunks for one job. It keeps every
// entry; prompts only ever see Tail(ContextWindowSize). The zero value is an
// empty window in source mode.
type Window struct {
	hist []string
	mode HistoryMode
}

// NewWindow creates an empty window
func NewWindow(mode HistoryMode) *Window {
	if mode == "" {
		mode = HistorySource
	}
	return &Window{mode: mode}
}

// Mode returns the window's history mode
func (w *Window) Mode() HistoryMode {
	if w.mode == "" {
		return HistorySource
	}
	return w.mode
}

// Len returns the number of recorded entries
func (w *Window) Len() int {
	return len(w.hist)
}

// Append adds text as the newest entry
func (w *Window) Append(text string) {
	w.hist = append(w.hist, text)
}

// Record appends either the source or the translation of a completed
// chunk, depending on the window's mode
func (w *Window) Record(source, translated string) {
	if w.Mode() == HistoryTranslated {
		w.Append(translated)
		return
	}
	w.Append(source)
}

// Tail returns the last min(n, Len()) entries, oldest first. The result is
// a fresh slice.
func (w *Window) Tail(n int) []string {
	if n <= 0 {
		return []string{}
	}
	start := max(0, len(w.hist)-n)
	out := make([]string, len(w.hist)-start)
	copy(out, w.hist[start:])
	return out
}
