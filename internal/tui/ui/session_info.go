package ui

import (
	"fmt"

	"github.com/rivo/tview"
)

// SessionData holds session information for display.
type SessionData struct {
	Profile     string
	User        string
	Server      string
	ChannelOpen bool
	Phase       string
	ChatCount   int
}

// SessionInfo displays session metadata in the header.
type SessionInfo struct {
	*tview.TextView
	theme *Theme
}

// NewSessionInfo creates a new session info panel.
func NewSessionInfo(theme *Theme) *SessionInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &SessionInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders the session info.
func (si *SessionInfo) Update(data *SessionData) {
	si.Clear()
	if data == nil {
		return
	}

	fg := colorName(si.theme.FgColor)
	counter := colorName(si.theme.CounterColor)

	user := data.User
	if user == "" {
		user = "-"
	}
	channel, channelColor := "offline", colorName(si.theme.OfflineColor)
	if data.ChannelOpen {
		channel, channelColor = "online", colorName(si.theme.OnlineColor)
	}

	text := fmt.Sprintf(
		"[%s::b]Profile:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]User:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Server:[-:-:-]  [%s]%s[-]\n"+
			"[%s::b]Channel:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Phase:[-:-:-]   [%s]%s[-]\n"+
			"[%s::b]Chats:[-:-:-]   [%s]%d[-]",
		fg, counter, tview.Escape(data.Profile),
		fg, counter, tview.Escape(user),
		fg, counter, tview.Escape(data.Server),
		fg, channelColor, channel,
		fg, counter, data.Phase,
		fg, counter, data.ChatCount,
	)

	_, _ = fmt.Fprint(si, text)
}
