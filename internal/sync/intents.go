package sync

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/apperr"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
)

// SelectChat makes chatID the active chat. The history is fetched first; only
// on success is the transcript replaced and join_chat emitted. On failure the
// previous selection stays and the error is returned. Selecting the chat that
// is already active or already pending does nothing. Selecting the active
// chat while another fetch is pending abandons that fetch.
func (e *Engine) SelectChat(ctx context.Context, chatID string) error {
	e.mu.Lock()
	if !e.bound || chatID == "" {
		e.mu.Unlock()
		return nil
	}
	if chatID == e.pending || (e.pending == "" && chatID == e.active) {
		e.mu.Unlock()
		return nil
	}
	if chatID == e.active {
		e.pending = ""
		e.seq++
		e.mu.Unlock()
		e.changed()
		return nil
	}
	e.seq++
	seq, gen, cred := e.seq, e.gen, e.cred
	e.pending = chatID
	e.mu.Unlock()
	e.changed()

	hist, err := e.gw.FetchChatHistory(ctx, chatID, cred)

	e.mu.Lock()
	if e.gen == gen && e.seq != seq && apperr.Is(err, apperr.AuthExpired) {
		// Superseded, but the credential it was sent with is still current.
		e.mu.Unlock()
		e.fail(ctx, err, NoticeLoadChatFailed)
		return err
	}
	if e.gen != gen || e.seq != seq {
		e.mu.Unlock()
		metrics.RecordStale("fetch_chat_history")
		e.logger.Debug("discarding stale history", zap.String("chat_id", chatID))
		return nil
	}
	e.pending = ""
	if err == nil && hist.ChatID != chatID {
		err = apperr.New(apperr.RequestFailed, "fetch_chat_history",
			fmt.Sprintf("asked for %q, got %q", chatID, hist.ChatID), nil)
	}
	if err != nil {
		e.mu.Unlock()
		e.changed()
		e.fail(ctx, err, NoticeLoadChatFailed)
		return err
	}

	e.active = chatID
	e.transcript = make([]chat.Message, 0, len(hist.Messages))
	e.seen = make(map[string]struct{}, len(hist.Messages))
	for _, m := range hist.Messages {
		if _, dup := e.seen[m.ID]; dup {
			continue
		}
		e.seen[m.ID] = struct{}{}
		e.transcript = append(e.transcript, m)
	}
	if err := e.phase.Ensure(status.ChatActive); err != nil {
		e.logger.Warn("phase", zap.Error(err))
	}
	target := chat.Chat{ID: chatID, Participants: []string{}}
	if i := indexOf(e.chats, chatID); i >= 0 {
		target = e.chats[i].Clone()
	}
	ch := e.ch
	e.mu.Unlock()

	if err := ch.JoinChat(target); err != nil {
		e.logger.Warn("join_chat not sent", zap.String("chat_id", chatID), zap.Error(err))
	}
	e.changed()
	return nil
}

// SubmitCreateChat opens a chat with participant, announces it on the
// channel and puts it at the front of the list. An empty participant is
// ignored. A failure publishes a notice and leaves the query untouched.
func (e *Engine) SubmitCreateChat(ctx context.Context, participant string) error {
	name := strings.TrimSpace(participant)
	e.mu.Lock()
	if !e.bound || name == "" {
		e.mu.Unlock()
		return nil
	}
	gen, cred, ch := e.gen, e.cred, e.ch
	e.mu.Unlock()

	c, err := e.gw.CreateChat(ctx, name, cred)
	if err != nil {
		e.fail(ctx, err, NoticeCreateChatFailed)
		return err
	}

	if err := ch.NewChat(c); err != nil {
		e.logger.Warn("new_chat not sent", zap.String("chat_id", c.ID), zap.Error(err))
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return nil
	}
	if i := indexOf(e.chats, c.ID); i >= 0 {
		e.chats = moveToFront(e.chats, i, e.chats[i])
	} else {
		e.chats = prepend(e.chats, c)
	}
	if e.listing {
		e.pushed[c.ID] = true
	}
	if e.participantQuery == participant {
		e.participantQuery = ""
	}
	e.mu.Unlock()
	e.changed()
	return nil
}

// SubmitMessage sends text to the active chat. Without a credential, an open
// channel, an active chat, or non-blank text it does nothing. On success the
// confirmed message is applied locally, broadcast on the channel and the
// compose field cleared; on failure the compose field is kept.
func (e *Engine) SubmitMessage(ctx context.Context, text string) error {
	e.mu.Lock()
	if !e.bound || e.ch == nil || !e.ch.Open() || e.active == "" || strings.TrimSpace(text) == "" {
		e.mu.Unlock()
		return nil
	}
	gen, cred, ch, chatID := e.gen, e.cred, e.ch, e.active
	e.mu.Unlock()

	m, err := e.gw.SendMessage(ctx, chatID, text, cred)
	if err != nil {
		e.fail(ctx, err, NoticeSendFailed)
		return err
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return nil
	}
	e.applyMessageLocked(m)
	if e.compose == text {
		e.compose = ""
	}
	e.mu.Unlock()

	if err := ch.SendMessage(m); err != nil {
		e.logger.Warn("send_message not sent", zap.String("message_id", m.ID), zap.Error(err))
	}
	e.changed()
	return nil
}

// SetCompose updates the message being composed.
func (e *Engine) SetCompose(text string) {
	e.mu.Lock()
	e.compose = text
	e.mu.Unlock()
	e.changed()
}

// SetParticipantQuery updates the participant field of the create-chat form.
func (e *Engine) SetParticipantQuery(q string) {
	e.mu.Lock()
	e.participantQuery = q
	e.mu.Unlock()
	e.changed()
}

// Logout clears the credential. The session releases the engine's binding,
// which drops all engine state.
func (e *Engine) Logout(ctx context.Context) error {
	e.sess.ClearCredential(ctx)
	return nil
}
