package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestViewBindingShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	var got string
	r.AddGlobal(Rune("quit", 'q', func() { got = "global" }))
	r.AddView("thread", Rune("back", 'q', func() { got = "view" }))
	r.AddGlobal(Key("esc", tcell.KeyEscape, func() { got = "esc" }))

	q := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	if !r.HandleEvent("thread", q) || got != "view" {
		t.Errorf("thread q -> %q, want view", got)
	}
	if !r.HandleEvent("chats", q) || got != "global" {
		t.Errorf("chats q -> %q, want global", got)
	}
	if !r.HandleEvent("chats", tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)) || got != "esc" {
		t.Errorf("esc -> %q", got)
	}
	if r.HandleEvent("chats", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound key should not match")
	}
}
