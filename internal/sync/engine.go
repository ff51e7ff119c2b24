// Package sync reconciles gateway responses, push events and user intents
// into one consistent view of the chat list and the active chat transcript.
//
// Every mutation happens under a single lock and is applied whole. Gateway
// calls run without the lock; when one resolves, its result is checked
// against the current binding generation and selection sequence and dropped
// if either moved on.
package sync

import (
	"context"
	gosync "sync"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/apperr"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/channel"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
)

// Notices shown to the user on failures.
const (
	NoticeCreateChatFailed = "Failed to create a new chat."
	NoticeLoadChatsFailed  = "Failed to load chats."
	NoticeLoadChatFailed   = "Failed to load chat."
	NoticeSendFailed       = "Failed to send message."
	NoticeSessionExpired   = "Session expired. Please log in again."
)

// Gateway is the request/response side the engine calls.
type Gateway interface {
	ListChats(ctx context.Context, cred chat.Credential) ([]chat.Chat, error)
	FetchChatHistory(ctx context.Context, chatID string, cred chat.Credential) (chat.History, error)
	CreateChat(ctx context.Context, participant string, cred chat.Credential) (chat.Chat, error)
	SendMessage(ctx context.Context, chatID, text string, cred chat.Credential) (chat.Message, error)
}

// Session provides the credential and channel lifecycle.
type Session interface {
	Current() (chat.Credential, bool)
	ClearCredential(ctx context.Context)
	Bind(fn session.Binding) (unbind func())
}

// Engine owns the chat list, the active selection and its transcript.
type Engine struct {
	gw     Gateway
	sess   Session
	bus    *bus.Bus
	logger *zap.Logger
	phase  *status.Machine

	mu gosync.Mutex

	// Binding scope. gen changes on every bind and release so results of
	// calls started under an older binding are discarded.
	gen    uint64
	bound  bool
	cred   chat.Credential
	ch     session.Channel
	cancel context.CancelFunc

	chats   []chat.Chat
	listing bool
	// pushed records chats touched by push events while a list refresh is
	// in flight; they survive the snapshot replacement.
	pushed map[string]bool

	active     string
	pending    string
	seq        uint64
	transcript []chat.Message
	seen       map[string]struct{}

	compose          string
	participantQuery string

	revision uint64
	unbind   func()
}

// New creates an engine. Call Start to attach it to the session.
func New(gw Gateway, sess Session, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		gw:     gw,
		sess:   sess,
		bus:    b,
		logger: logging.OrNop(logger).Named("engine"),
		phase:  status.NewEngineMachine(b),
		seen:   make(map[string]struct{}),
	}
}

// Start registers the engine with the session so it binds to every channel
// the session opens.
func (e *Engine) Start() {
	e.unbind = e.sess.Bind(e.Bind)
}

// Stop detaches the engine from the session.
func (e *Engine) Stop() {
	if e.unbind != nil {
		e.unbind()
	}
}

// Bind attaches the engine to an open channel for cred, registers the push
// handlers and starts the initial chat list load. The returned release func
// deregisters the handlers and clears all engine state.
func (e *Engine) Bind(cred chat.Credential, ch session.Channel) (release func()) {
	ctx, cancel := context.WithCancel(context.Background())

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.resetLocked()
	e.bound = true
	e.cred = cred
	e.ch = ch
	e.cancel = cancel
	e.listing = true
	e.pushed = make(map[string]bool)
	if err := e.phase.Transition(status.NoSelection); err != nil {
		e.logger.Warn("phase", zap.Error(err))
	}
	unsubscribe := ch.Subscribe(channel.Handlers{
		NewChat:    func(c chat.Chat) { e.upsertChat(gen, c) },
		JoinChat:   func(c chat.Chat) { e.upsertChat(gen, c) },
		NewMessage: func(m chat.Message) { e.receiveMessage(gen, m) },
		Error:      e.channelError,
	})
	e.mu.Unlock()

	e.logger.Info("bound", zap.String("user", cred.User))
	e.changed()
	go e.refresh(ctx, gen, cred)

	var once gosync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			e.mu.Lock()
			if e.gen == gen {
				e.gen++
				e.resetLocked()
				e.phase.Reset(status.Unauthenticated)
			}
			e.mu.Unlock()
			cancel()
			e.logger.Info("released", zap.String("user", cred.User))
			e.changed()
		})
	}
}

// resetLocked drops everything scoped to a binding.
func (e *Engine) resetLocked() {
	e.bound = false
	e.cred = chat.Credential{}
	e.ch = nil
	e.cancel = nil
	e.chats = nil
	e.listing = false
	e.pushed = nil
	e.active = ""
	e.pending = ""
	e.seq++
	e.transcript = nil
	e.seen = make(map[string]struct{})
	e.compose = ""
	e.participantQuery = ""
}

// refresh loads the authoritative chat list for the binding gen.
func (e *Engine) refresh(ctx context.Context, gen uint64, cred chat.Credential) {
	chats, err := e.gw.ListChats(ctx, cred)

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		metrics.RecordStale("list_chats")
		return
	}
	if err != nil {
		e.listing = false
		e.pushed = nil
		e.mu.Unlock()
		e.fail(ctx, err, NoticeLoadChatsFailed)
		return
	}
	e.chats = mergeSnapshot(e.chats, e.pushed, chats)
	e.listing = false
	e.pushed = nil
	e.mu.Unlock()

	e.logger.Debug("chat list loaded", zap.Int("chats", len(chats)))
	e.changed()
}

func (e *Engine) upsertChat(gen uint64, c chat.Chat) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	added := false
	if indexOf(e.chats, c.ID) < 0 {
		e.chats = prepend(e.chats, c)
		added = true
	}
	if e.listing {
		e.pushed[c.ID] = true
	}
	e.mu.Unlock()

	if added {
		e.changed()
	}
}

func (e *Engine) receiveMessage(gen uint64, m chat.Message) {
	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return
	}
	e.applyMessageLocked(m)
	e.mu.Unlock()
	e.changed()
}

// applyMessageLocked records m against its chat summary, moves that chat to
// the front, and appends m to the transcript when its chat is active and m
// has not been seen.
func (e *Engine) applyMessageLocked(m chat.Message) {
	if i := indexOf(e.chats, m.ChatID); i >= 0 {
		c := e.chats[i]
		if newer(m, c.LastMessage) {
			c.LastMessage = m.Summarize()
		}
		e.chats = moveToFront(e.chats, i, c)
		if e.listing {
			e.pushed[m.ChatID] = true
		}
	}
	if m.ChatID != e.active {
		return
	}
	if _, dup := e.seen[m.ID]; dup {
		return
	}
	e.seen[m.ID] = struct{}{}
	e.transcript = append(e.transcript, m)
}

func (e *Engine) channelError(err error) {
	e.logger.Warn("channel error", zap.Error(err))
}

// fail routes a gateway error: AuthExpired forces a logout, anything else
// becomes a notice.
func (e *Engine) fail(ctx context.Context, err error, notice string) {
	if apperr.Is(err, apperr.AuthExpired) {
		e.logger.Warn("credential rejected, logging out", zap.Error(err))
		e.sess.ClearCredential(context.WithoutCancel(ctx))
		e.bus.Notify(NoticeSessionExpired, err)
		return
	}
	e.logger.Warn(notice, zap.Error(err))
	e.bus.Notify(notice, err)
}

func (e *Engine) changed() {
	e.mu.Lock()
	e.revision++
	rev := e.revision
	e.mu.Unlock()
	e.bus.Emit(bus.KindEngineChanged, rev)
}
