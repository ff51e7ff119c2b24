package views

import (
	"strings"

	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/tui/ui"
)

// Login is the username/password form shown while unauthenticated.
type Login struct {
	*tview.Form
	theme    *ui.Theme
	onSubmit func(username, password string)
	busy     bool
}

// NewLogin creates the login form.
func NewLogin(theme *ui.Theme) *Login {
	form := tview.NewForm()
	form.SetBorder(true)
	form.SetBorderColor(theme.BorderColor)
	form.SetBackgroundColor(theme.BgColor)
	form.SetFieldBackgroundColor(theme.BgColor)
	form.SetFieldTextColor(theme.FgColor)
	form.SetLabelColor(theme.MenuKeyColor)
	form.SetButtonBackgroundColor(theme.BorderColor)
	form.SetTitle(" Log in ")
	form.SetTitleColor(theme.TitleColor)

	l := &Login{Form: form, theme: theme}
	form.AddInputField("Username", "", 32, nil, nil)
	form.AddPasswordField("Password", "", 32, '*', nil)
	form.AddButton("Log in", l.submit)
	return l
}

// Name implements Component.
func (l *Login) Name() string { return "Login" }

// Hints implements Component.
func (l *Login) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Tab", Description: "Next field"},
		{Key: "Enter", Description: "Log in"},
		{Key: "Ctrl-C", Description: "Quit"},
	}
}

// SetOnSubmit sets the callback for the login button.
func (l *Login) SetOnSubmit(fn func(username, password string)) {
	l.onSubmit = fn
}

// SetBusy disables resubmission while a login is in flight.
func (l *Login) SetBusy(busy bool) {
	l.busy = busy
	if busy {
		l.SetTitle(" Logging in... ")
	} else {
		l.SetTitle(" Log in ")
	}
}

// Reset clears the password.
func (l *Login) Reset() {
	if f, ok := l.GetFormItemByLabel("Password").(*tview.InputField); ok {
		f.SetText("")
	}
}

func (l *Login) submit() {
	if l.busy || l.onSubmit == nil {
		return
	}
	user := strings.TrimSpace(l.text("Username"))
	pass := l.text("Password")
	if user == "" || pass == "" {
		return
	}
	l.onSubmit(user, pass)
}

func (l *Login) text(label string) string {
	if f, ok := l.GetFormItemByLabel(label).(*tview.InputField); ok {
		return f.GetText()
	}
	return ""
}
