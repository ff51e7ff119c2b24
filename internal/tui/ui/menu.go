package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// Menu displays keyboard shortcut hints in a vertical list.
type Menu struct {
	*tview.TextView
	theme  *Theme
	hints  []MenuHint
	online bool
}

// NewMenu creates a new menu hint bar.
func NewMenu(theme *Theme) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{TextView: tv, theme: theme}
}

// Update replaces the hints.
func (m *Menu) Update(hints []MenuHint) {
	m.hints = hints
	m.draw()
}

// SetOnline redraws the hints if channel availability changed.
func (m *Menu) SetOnline(online bool) {
	if m.online == online {
		return
	}
	m.online = online
	m.draw()
}

func (m *Menu) draw() {
	m.Clear()
	for _, h := range m.hints {
		kc := colorName(m.theme.MenuKeyColor)
		switch {
		case h.Online && !m.online:
			kc = colorName(m.theme.MutedColor)
		case h.Numeric:
			kc = colorName(m.theme.NumericKeyColor)
		}
		_, _ = fmt.Fprintf(m, "[%s::b]<%s>[-:-:-] %s\n", kc, h.Key, h.Description)
	}
}
