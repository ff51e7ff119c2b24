package sync

import (
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/status"
)

// Snapshot is a copy of the engine's observable state.
type Snapshot struct {
	Phase         status.State
	Credential    chat.Credential
	Authenticated bool
	ChannelOpen   bool
	Loading       bool

	Chats      []chat.Chat
	Active     *chat.Chat
	Pending    string
	Transcript []chat.Message

	Compose          string
	ParticipantQuery string
	Revision         uint64
}

// Snapshot returns a deep copy of the current state.
func (e *Engine) Snapshot() Snapshot {
	// Read the session before taking e.mu; the session calls into the
	// engine while holding its own lock.
	cred, authed := e.sess.Current()

	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Phase:            e.phase.Current(),
		Credential:       cred,
		Authenticated:    authed,
		ChannelOpen:      e.ch != nil && e.ch.Open(),
		Loading:          e.listing,
		Pending:          e.pending,
		Compose:          e.compose,
		ParticipantQuery: e.participantQuery,
		Revision:         e.revision,
		Chats:            make([]chat.Chat, len(e.chats)),
		Transcript:       append([]chat.Message(nil), e.transcript...),
	}
	for i, c := range e.chats {
		s.Chats[i] = c.Clone()
	}
	if e.active != "" {
		active := chat.Chat{ID: e.active}
		if i := indexOf(e.chats, e.active); i >= 0 {
			active = e.chats[i].Clone()
		}
		s.Active = &active
	}
	return s
}
