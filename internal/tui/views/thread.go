package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// Thread displays the active chat transcript and a composer.
type Thread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	title    string
	chatID   string
	rendered int
	onSend   func(text string)
	onChange func(text string)
	now      func() time.Time
}

// NewThread creates a new thread view.
func NewThread(theme *ui.Theme) *Thread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	t := &Thread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	composer.SetChangedFunc(func(text string) {
		if t.onChange != nil {
			t.onChange(text)
		}
	})
	// The field is cleared by the owner once the send is confirmed.
	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && t.onSend != nil {
			t.onSend(composer.GetText())
		}
	})

	return t
}

// Name implements Component.
func (t *Thread) Name() string {
	if t.title != "" {
		return t.title
	}
	return "Messages"
}

// Hints implements Component.
func (t *Thread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose", Online: true},
		{Key: "Enter", Description: "Send", Online: true},
		{Key: "d", Description: "Details"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// SetOnSend sets the callback for Enter in the composer.
func (t *Thread) SetOnSend(fn func(text string)) {
	t.onSend = fn
}

// SetOnChange sets the callback fired on every composer edit.
func (t *Thread) SetOnChange(fn func(text string)) {
	t.onChange = fn
}

// Update renders c's transcript. Only messages past the last render are
// appended unless the chat changed.
func (t *Thread) Update(c chat.Chat, msgs []chat.Message, self string) {
	if c.ID != t.chatID || len(msgs) < t.rendered {
		t.messages.Clear()
		t.rendered = 0
		t.chatID = c.ID
	}
	t.title = c.Title(self)
	t.messages.SetTitle(fmt.Sprintf(" %s ", display(t.title)))

	now := t.now()
	for _, m := range msgs[t.rendered:] {
		sender, color := m.Sender, ui.Tag(t.theme.FgColor)
		if m.Sender == self {
			sender, color = "You", ui.Tag(t.theme.SelfColor)
		}
		ts := m.Timestamp
		_, _ = fmt.Fprintf(t.messages, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]\n%s\n\n",
			color, display(sender), formatTimestamp(&ts, now), display(m.Text))
	}
	t.rendered = len(msgs)
	t.messages.ScrollToEnd()
}

// SetCompose syncs the composer with the engine's compose text.
func (t *Thread) SetCompose(text string) {
	if t.composer.GetText() != text {
		t.composer.SetText(text)
	}
}

// ChatID returns the chat currently rendered.
func (t *Thread) ChatID() string {
	return t.chatID
}

// Messages returns the messages text view (for focus management).
func (t *Thread) Messages() *tview.TextView {
	return t.messages
}

// Composer returns the composer input field (for focus management).
func (t *Thread) Composer() *tview.InputField {
	return t.composer
}
