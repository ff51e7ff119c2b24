package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// ChatList is the main chat list table, most recent first.
type ChatList struct {
	*tview.Table
	theme   *ui.Theme
	chats   []chat.Chat
	visible []chat.Chat
	self    string
	filter  string
	loading bool
	now     func() time.Time
}

// NewChatList creates a new chat list table.
func NewChatList(theme *ui.Theme) *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	cl := &ChatList{
		Table: table,
		theme: theme,
		now:   time.Now,
	}
	cl.render()
	return cl
}

// Name implements Component.
func (cl *ChatList) Name() string { return "Chats" }

// Hints implements Component.
func (cl *ChatList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "n", Description: "New chat"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update replaces the rows. self is left out of chat titles. The cursor
// follows the selected chat across reorders.
func (cl *ChatList) Update(chats []chat.Chat, self string, loading bool) {
	selected := cl.SelectedChat()
	cl.chats = chats
	cl.self = self
	cl.loading = loading
	cl.render()
	cl.selectID(selected)
}

// SetFilter sets the active filter text and re-renders.
func (cl *ChatList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
}

// Filter returns the active filter.
func (cl *ChatList) Filter() string {
	return cl.filter
}

func (cl *ChatList) matches(c chat.Chat) bool {
	return cl.filter == "" ||
		containsFold(c.Title(cl.self), cl.filter) ||
		containsFold(c.Preview(), cl.filter)
}

func (cl *ChatList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" WITH", 1},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	cl.visible = cl.visible[:0]
	now := cl.now()
	for _, c := range cl.chats {
		if !cl.matches(c) {
			continue
		}
		cl.visible = append(cl.visible, c)
		row := len(cl.visible)

		var ts *chat.Timestamp
		preview := c.Preview()
		if c.LastMessage != nil {
			ts = c.LastMessage.Timestamp
			if c.LastMessage.Sender == cl.self && preview != "" {
				preview = "You: " + preview
			}
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+display(c.Title(cl.self))).SetExpansion(1).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+display(preview)).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(formatTimestamp(ts, now)).SetExpansion(0).SetTextColor(cl.theme.MutedColor).SetAlign(tview.AlignRight))
	}

	title := fmt.Sprintf(" Chats (%d) ", len(cl.chats))
	switch {
	case cl.loading:
		title = " Chats (loading...) "
	case cl.filter != "":
		title = fmt.Sprintf(" Chats (%d/%d) filter: %s ", len(cl.visible), len(cl.chats), tview.Escape(cl.filter))
	}
	cl.SetTitle(title)
}

func (cl *ChatList) selectID(id string) {
	for i, c := range cl.visible {
		if c.ID == id {
			cl.Select(i+1, 0)
			return
		}
	}
	if len(cl.visible) > 0 {
		row, _ := cl.GetSelection()
		if row < 1 || row > len(cl.visible) {
			cl.Select(1, 0)
		}
	}
}

// SelectedChat returns the chat ID under the cursor.
func (cl *ChatList) SelectedChat() string {
	row, _ := cl.GetSelection()
	return cl.ChatByIndex(row)
}

// ChatByIndex returns the ID of the Nth visible chat (1-based).
func (cl *ChatList) ChatByIndex(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1].ID
}

// FindByTitle returns the first chat, filtered or not, whose title contains
// name, ignoring case.
func (cl *ChatList) FindByTitle(name string) string {
	for _, c := range cl.chats {
		if containsFold(c.Title(cl.self), name) {
			return c.ID
		}
	}
	return ""
}
