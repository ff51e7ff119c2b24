package views

import (
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/chat"
)

// sanitizeForTerminal drops codepoints that tcell renders badly: skin tone
// modifiers, zero width joiners and variation selectors. A modified emoji
// collapses to its base glyph.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		if isProblematicRune(r) {
			return -1
		}
		return r
	}, s)
}

func isProblematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}

// display prepares untrusted text for a dynamic-color tview widget.
func display(s string) string {
	return tview.Escape(sanitizeForTerminal(s))
}

// formatTimestamp renders today's times as a clock and older ones as a date.
func formatTimestamp(ts *chat.Timestamp, now time.Time) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	t := ts.Local()
	now = now.Local()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
