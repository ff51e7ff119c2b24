package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// ChatDetails displays the participants and last activity of a chat.
type ChatDetails struct {
	*tview.TextView
	theme *ui.Theme
}

// NewChatDetails creates a new chat details view.
func NewChatDetails(theme *ui.Theme) *ChatDetails {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Chat Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ChatDetails{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (cd *ChatDetails) Name() string { return "Details" }

// Hints implements Component.
func (cd *ChatDetails) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders details for c. transcript is the number of loaded messages.
func (cd *ChatDetails) Update(c chat.Chat, self string, transcript int) {
	cd.Clear()

	fg := ui.Tag(cd.theme.FgColor)
	ct := ui.Tag(cd.theme.CounterColor)

	lastActive, lastText := "-", "-"
	if c.LastMessage != nil {
		if ts := formatTimestamp(c.LastMessage.Timestamp, time.Now()); ts != "" {
			lastActive = ts
		}
		lastText = fmt.Sprintf("%s: %s", c.LastMessage.Sender, c.LastMessage.Text)
	}

	_, _ = fmt.Fprintf(cd,
		"\n [%s::b]With:[-:-:-]         [%s]%s[-]\n"+
			" [%s::b]Chat ID:[-:-:-]      [%s]%s[-]\n"+
			" [%s::b]Participants:[-:-:-] [%s]%s[-]\n"+
			" [%s::b]Loaded:[-:-:-]       [%s]%d messages[-]\n"+
			" [%s::b]Last Active:[-:-:-]  [%s]%s[-]\n"+
			" [%s::b]Last Message:[-:-:-] [%s]%s[-]",
		fg, ct, display(c.Title(self)),
		fg, ct, display(c.ID),
		fg, ct, display(strings.Join(c.Participants, ", ")),
		fg, ct, transcript,
		fg, ct, lastActive,
		fg, ct, display(lastText),
	)
	cd.SetTitle(fmt.Sprintf(" %s Details ", display(c.Title(self))))
}
