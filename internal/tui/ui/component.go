package ui

// MenuHint describes a keyboard shortcut for display in the menu bar.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // 1-9 jumps, drawn in their own color

	// Online marks actions that need an open push channel; they are drawn
	// muted while it is closed.
	Online bool
}

// Component is a page the shell can stack: its breadcrumb name and the
// hints shown while it is on top.
type Component interface {
	Name() string
	Hints() []MenuHint
}
