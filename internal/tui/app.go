// Package tui is the terminal client. It renders engine snapshots and turns
// key presses into engine intents; it holds no chat state of its own.
package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/status"
	intsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
)

const (
	pageLogin   = "login"
	pageChats   = "chats"
	pageThread  = "thread"
	pageDetails = "details"
	pageHelp    = "help"
)

// Engine is the synchronization engine as seen by the UI.
type Engine interface {
	Snapshot() intsync.Snapshot
	SelectChat(ctx context.Context, chatID string) error
	SubmitCreateChat(ctx context.Context, participant string) error
	SubmitMessage(ctx context.Context, text string) error
	SetCompose(text string)
	SetParticipantQuery(q string)
	Logout(ctx context.Context) error
}

// Session is the part of the session context the UI drives directly.
type Session interface {
	Login(ctx context.Context, username, password string) error
	Reconnect(ctx context.Context) error
}

// Options labels the header.
type Options struct {
	Profile string
	Server  string
}

// App is the main TUI application shell.
type App struct {
	app    *tview.Application
	theme  *ui.Theme
	pages  *ui.Pages
	body   *tview.Flex
	prompt *ui.Prompt

	sessionInfo *ui.SessionInfo
	menu        *ui.Menu
	crumbs      *ui.Crumbs
	flashBar    *ui.FlashBar
	flash       *ui.FlashModel
	registry    *keys.Registry

	login   *views.Login
	chats   *views.ChatList
	thread  *views.Thread
	details *views.ChatDetails
	help    *views.HelpView

	components    map[string]ui.Component
	promptVisible bool

	engine Engine
	sess   Session
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(engine Engine, sess Session, b *bus.Bus, logger *zap.Logger, opts Options) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:         tview.NewApplication(),
		theme:       theme,
		pages:       ui.NewPages(),
		prompt:      ui.NewPrompt(theme),
		sessionInfo: ui.NewSessionInfo(theme),
		menu:        ui.NewMenu(theme),
		crumbs:      ui.NewCrumbs(theme),
		flashBar:    ui.NewFlashBar(theme),
		flash:       ui.NewFlashModel(),
		registry:    keys.NewRegistry(),
		login:       views.NewLogin(theme),
		chats:       views.NewChatList(theme),
		thread:      views.NewThread(theme),
		details:     views.NewChatDetails(theme),
		help:        views.NewHelpView(theme),
		engine:      engine,
		sess:        sess,
		bus:         b,
		logger:      logging.OrNop(logger).Named("tui"),
		opts:        opts,
		ctx:         ctx,
		cancel:      cancel,
	}
	a.components = map[string]ui.Component{
		pageLogin:   a.login,
		pageChats:   a.chats,
		pageThread:  a.thread,
		pageDetails: a.details,
		pageHelp:    a.help,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(keys.Rune("command", ':', func() { a.showPrompt(ui.PromptCommand, "") }))
	a.registry.AddGlobal(keys.Rune("help", '?', func() { a.pushPage(pageHelp) }))
	a.registry.AddGlobal(keys.Rune("quit", 'q', func() {
		if a.pages.Pop() == "" {
			a.Stop()
			return
		}
		a.focusPage()
	}))

	a.registry.AddView(pageChats, keys.Rune("filter", '/', func() { a.showPrompt(ui.PromptFilter, a.chats.Filter()) }))
	a.registry.AddView(pageChats, keys.Rune("new", 'n', func() {
		a.showPrompt(ui.PromptCreate, a.engine.Snapshot().ParticipantQuery)
	}))
	a.registry.AddView(pageChats, keys.Rune("clear-filter", '0', func() { a.chats.SetFilter("") }))
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageChats, keys.Rune("jump", rune('0'+n), func() {
			if id := a.chats.ChatByIndex(n); id != "" {
				a.openChat(id)
			}
		}))
	}

	a.registry.AddView(pageThread, keys.Rune("compose", 'i', func() { a.app.SetFocus(a.thread.Composer()) }))
	a.registry.AddView(pageThread, keys.Rune("details", 'd', func() { a.pushPage(pageDetails) }))
}

func (a *App) setupCallbacks() {
	a.chats.SetSelectedFunc(func(row, _ int) {
		if id := a.chats.ChatByIndex(row); id != "" {
			a.openChat(id)
		}
	})

	a.thread.SetOnChange(a.engine.SetCompose)
	a.thread.SetOnSend(func(text string) {
		go func() { _ = a.engine.SubmitMessage(a.ctx, text) }()
	})

	a.login.SetOnSubmit(func(username, password string) {
		a.login.SetBusy(true)
		go func() {
			err := a.sess.Login(a.ctx, username, password)
			a.app.QueueUpdateDraw(func() {
				a.login.SetBusy(false)
				if err == nil {
					a.login.Reset()
				}
				a.render()
			})
		}()
	})

	a.prompt.SetOnChange(func(mode ui.PromptMode, text string) {
		switch mode {
		case ui.PromptFilter:
			a.chats.SetFilter(text)
		case ui.PromptCreate:
			a.engine.SetParticipantQuery(text)
		}
	})
	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		case ui.PromptFilter:
			a.chats.SetFilter(text)
		case ui.PromptCreate:
			a.createChat(text)
		}
	})
	a.prompt.SetOnCancel(func() {
		if a.prompt.Mode() == ui.PromptFilter {
			a.chats.SetFilter("")
		}
		a.hidePrompt()
	})

	a.pages.SetOnChange(func(stack []string) {
		titles := make([]string, len(stack))
		for i, name := range stack {
			titles[i] = a.components[name].Name()
		}
		a.crumbs.Update(titles)
		if top, ok := a.components[a.pages.Current()]; ok {
			a.menu.Update(top.Hints())
		}
	})
}

func (a *App) setupLayout() {
	for name, c := range a.components {
		a.pages.AddPage(name, c.(tview.Primitive), true, false)
	}

	header := tview.NewFlex().
		AddItem(a.sessionInfo, 0, 2, false).
		AddItem(a.menu, 0, 2, false).
		AddItem(ui.NewLogo(a.theme), 16, 0, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.body, true)
	a.app.SetInputCapture(a.handleKey)
}

func (a *App) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	if ev.Key() == tcell.KeyCtrlC {
		a.Stop()
		return nil
	}
	if a.promptVisible {
		return ev
	}

	page := a.pages.Current()
	focused := a.app.GetFocus()

	if ev.Key() == tcell.KeyEscape {
		if focused == a.thread.Composer() {
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		if page != pageLogin && a.pages.Pop() != "" {
			a.focusPage()
		}
		return nil
	}

	// Inputs take every other key.
	if _, ok := focused.(*tview.InputField); ok {
		return ev
	}
	if page == pageLogin {
		return ev
	}
	if a.registry.HandleEvent(page, ev) {
		return nil
	}
	return ev
}

func (a *App) showPrompt(mode ui.PromptMode, text string) {
	a.prompt.Activate(mode, text)
	a.promptVisible = true
	a.body.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.promptVisible = false
	a.body.ResizeItem(a.prompt, 0, 0)
	a.focusPage()
}

func (a *App) pushPage(name string) {
	if name == pageDetails && a.thread.ChatID() == "" {
		return
	}
	a.pages.Push(name)
	a.focusPage()
}

func (a *App) focusPage() {
	switch a.pages.Current() {
	case pageLogin:
		a.app.SetFocus(a.login)
	case pageChats:
		a.app.SetFocus(a.chats)
	case pageThread:
		a.app.SetFocus(a.thread.Composer())
	case pageDetails:
		a.app.SetFocus(a.details)
	case pageHelp:
		a.app.SetFocus(a.help)
	}
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "q", "quit":
		a.Stop()
	case "h", "help":
		a.pushPage(pageHelp)
	case "logout":
		go func() { _ = a.engine.Logout(a.ctx) }()
	case "reconnect":
		go func() {
			if err := a.sess.Reconnect(a.ctx); err != nil {
				a.flash.Err("Reconnect failed: " + err.Error())
				a.app.QueueUpdateDraw(a.render)
			}
		}()
	case "new":
		if cmd.Args == "" {
			a.showPrompt(ui.PromptCreate, a.engine.Snapshot().ParticipantQuery)
			return
		}
		a.createChat(cmd.Args)
	case "chat":
		id := a.chats.FindByTitle(cmd.Args)
		if cmd.Args == "" || id == "" {
			a.flash.Warn("No chat matches " + cmd.Args)
			a.render()
			return
		}
		a.openChat(id)
	default:
		a.flash.Warn("Unknown command: " + cmd.Name)
		a.render()
	}
}

func (a *App) createChat(participant string) {
	go func() {
		if err := a.engine.SubmitCreateChat(a.ctx, participant); err == nil {
			a.flash.Info("Chat with " + participant + " created")
			a.app.QueueUpdateDraw(a.render)
		}
	}()
}

// openChat selects id and shows its thread once the history is loaded. A
// failed load leaves the current page; the engine publishes the notice.
func (a *App) openChat(id string) {
	go func() {
		if err := a.engine.SelectChat(a.ctx, id); err != nil {
			return
		}
		a.app.QueueUpdateDraw(func() {
			snap := a.engine.Snapshot()
			if snap.Active == nil || snap.Active.ID != id {
				return
			}
			a.render()
			a.pages.Push(pageThread)
			a.focusPage()
		})
	}()
}

// render redraws every widget from a fresh snapshot. Must run on the UI
// goroutine.
func (a *App) render() {
	snap := a.engine.Snapshot()
	self := snap.Credential.User

	switch {
	case !snap.Authenticated && a.pages.Current() != pageLogin:
		a.pages.Reset(pageLogin)
		a.login.Reset()
		a.focusPage()
	case snap.Authenticated && (a.pages.Current() == pageLogin || a.pages.Current() == ""):
		a.pages.Reset(pageChats)
		a.focusPage()
	}

	a.chats.Update(snap.Chats, self, snap.Loading)
	if snap.Active != nil {
		a.thread.Update(*snap.Active, snap.Transcript, self)
		a.details.Update(*snap.Active, self, len(snap.Transcript))
	} else if p := a.pages.Current(); p == pageThread || p == pageDetails {
		a.pages.Reset(pageChats)
		a.focusPage()
	}
	a.thread.SetCompose(snap.Compose)
	a.menu.SetOnline(snap.ChannelOpen)

	a.sessionInfo.Update(&ui.SessionData{
		Profile:     a.opts.Profile,
		User:        self,
		Server:      a.opts.Server,
		ChannelOpen: snap.ChannelOpen,
		Phase:       string(snap.Phase),
		ChatCount:   len(snap.Chats),
	})
	a.flashBar.Update(a.flash.GetMessage())
}

// watch turns bus events into flash messages and redraws.
func (a *App) watch(events <-chan bus.Event) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case evt := <-events:
			a.note(evt)
			a.app.QueueUpdateDraw(a.render)
		case <-ticker.C:
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.flash.GetMessage()) })
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *App) note(evt bus.Event) {
	switch evt.Kind {
	case bus.KindNotice:
		if n, ok := evt.Payload.(bus.Notice); ok {
			a.flash.Err(n.Text)
		}
	case bus.KindChannelStatus:
		change, ok := evt.Payload.(status.StatusChange)
		if !ok {
			return
		}
		switch change.To {
		case status.ChannelOpen:
			a.flash.Info("Connected")
		case status.ChannelClosed:
			if change.From == status.ChannelOpen {
				a.flash.Warn("Disconnected. Use :reconnect to retry")
			}
		}
	}
}

// Run starts the TUI and blocks until it exits.
func (a *App) Run() error {
	events, unsub := a.bus.Subscribe("", 256)
	defer unsub()
	go a.watch(events)

	a.render()
	a.logger.Info("tui started")
	err := a.app.Run()
	a.cancel()
	return err
}

// Stop shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
