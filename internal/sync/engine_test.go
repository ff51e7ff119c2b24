package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	gosync "sync"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/apperr"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/channel"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
)

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func ts(min int) chat.Timestamp { return chat.At(base.Add(time.Duration(min) * time.Minute)) }

func summary(text string, min int) *chat.Summary {
	t := ts(min)
	return &chat.Summary{Sender: "bob", Text: text, Timestamp: &t}
}

func msg(id, chatID, text string, min int) chat.Message {
	return chat.Message{ID: id, ChatID: chatID, Sender: "bob", Text: text, Timestamp: ts(min)}
}

type fakeGateway struct {
	mu gosync.Mutex

	chats    []chat.Chat
	listErr  error
	listGate chan struct{}

	histories map[string]chat.History
	histErr   map[string]error
	histGate  map[string]chan struct{}
	histCalls map[string]int

	created   chat.Chat
	createErr error
	creates   []string

	sendErr error
	sends   []string
	nextID  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		chats: []chat.Chat{
			{ID: "a", Participants: []string{"alice", "bob"}, LastMessage: summary("a1", 3)},
			{ID: "b", Participants: []string{"alice", "carol"}, LastMessage: summary("b1", 2)},
			{ID: "c", Participants: []string{"alice", "dave"}, LastMessage: summary("c1", 1)},
		},
		histories: map[string]chat.History{
			"a": {ChatID: "a", Messages: []chat.Message{msg("a1", "a", "a1", 3)}},
			"b": {ChatID: "b", Messages: []chat.Message{msg("b1", "b", "b1", 2)}},
			"c": {ChatID: "c", Messages: []chat.Message{msg("c1", "c", "c1", 1)}},
		},
		histErr:   map[string]error{},
		histGate:  map[string]chan struct{}{},
		histCalls: map[string]int{},
	}
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *fakeGateway) ListChats(ctx context.Context, _ chat.Credential) ([]chat.Chat, error) {
	g.mu.Lock()
	gate := g.listGate
	g.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return nil, apperr.Failed("list_chats", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	out := make([]chat.Chat, len(g.chats))
	for i, c := range g.chats {
		out[i] = c.Clone()
	}
	return out, nil
}

func (g *fakeGateway) FetchChatHistory(ctx context.Context, chatID string, _ chat.Credential) (chat.History, error) {
	g.mu.Lock()
	g.histCalls[chatID]++
	gate := g.histGate[chatID]
	g.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return chat.History{}, apperr.Failed("fetch_chat_history", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.histErr[chatID]; err != nil {
		return chat.History{}, err
	}
	return g.histories[chatID], nil
}

func (g *fakeGateway) CreateChat(_ context.Context, participant string, _ chat.Credential) (chat.Chat, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, participant)
	if g.createErr != nil {
		return chat.Chat{}, g.createErr
	}
	return g.created, nil
}

func (g *fakeGateway) SendMessage(_ context.Context, chatID, text string, _ chat.Credential) (chat.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, text)
	if g.sendErr != nil {
		return chat.Message{}, g.sendErr
	}
	g.nextID++
	return chat.Message{ID: fmt.Sprintf("sent-%d", g.nextID), ChatID: chatID, Sender: "alice", Text: text, Timestamp: ts(10 + g.nextID)}, nil
}

func (g *fakeGateway) calls(chatID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.histCalls[chatID]
}

type fakeChannel struct {
	mu          gosync.Mutex
	handlers    []channel.Handlers
	closed      bool
	joins       []string
	joinTargets []chat.Chat
	newChats    []string
	sent        []string
}

func (f *fakeChannel) Subscribe(h channel.Handlers) func() {
	f.mu.Lock()
	f.handlers = append(f.handlers, h)
	i := len(f.handlers) - 1
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.handlers[i] = channel.Handlers{}
		f.mu.Unlock()
	}
}

func (f *fakeChannel) JoinChat(c chat.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, c.ID)
	f.joinTargets = append(f.joinTargets, c)
	return nil
}

func (f *fakeChannel) NewChat(c chat.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.newChats = append(f.newChats, c.ID)
	return nil
}

func (f *fakeChannel) SendMessage(m chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m.ID)
	return nil
}

func (f *fakeChannel) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeChannel) Done() <-chan struct{} { return nil }

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) active() []channel.Handlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channel.Handlers(nil), f.handlers...)
}

func (f *fakeChannel) pushChat(c chat.Chat, join bool) {
	for _, h := range f.active() {
		switch {
		case join && h.JoinChat != nil:
			h.JoinChat(c)
		case !join && h.NewChat != nil:
			h.NewChat(c)
		}
	}
}

func (f *fakeChannel) pushMessage(m chat.Message) {
	for _, h := range f.active() {
		if h.NewMessage != nil {
			h.NewMessage(m)
		}
	}
}

func (f *fakeChannel) joined() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...)
}

type fakeSession struct {
	mu      gosync.Mutex
	cred    chat.Credential
	has     bool
	binding session.Binding
	release func()
	cleared int
}

func (s *fakeSession) Current() (chat.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, s.has
}

func (s *fakeSession) Bind(fn session.Binding) func() {
	s.mu.Lock()
	s.binding = fn
	s.mu.Unlock()
	return func() {}
}

func (s *fakeSession) connect(cred chat.Credential, ch session.Channel) {
	s.mu.Lock()
	s.cred, s.has = cred, true
	fn := s.binding
	s.mu.Unlock()
	release := fn(cred, ch)
	s.mu.Lock()
	s.release = release
	s.mu.Unlock()
}

func (s *fakeSession) ClearCredential(context.Context) {
	s.mu.Lock()
	release := s.release
	s.release = nil
	s.cred, s.has = chat.Credential{}, false
	s.cleared++
	s.mu.Unlock()
	if release != nil {
		release()
	}
}

func (s *fakeSession) clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleared
}

type harness struct {
	e    *Engine
	gw   *fakeGateway
	ch   *fakeChannel
	sess *fakeSession
	bus  *bus.Bus
}

// start binds a fresh engine. With wait set it blocks until the initial
// chat list has loaded.
func start(t *testing.T, gw *fakeGateway, wait bool) *harness {
	t.Helper()
	h := &harness{gw: gw, ch: &fakeChannel{}, sess: &fakeSession{}, bus: bus.New()}
	h.e = New(gw, h.sess, h.bus, nil)
	h.e.Start()
	t.Cleanup(h.e.Stop)
	h.sess.connect(chat.Credential{Token: "tok", User: "alice"}, h.ch)
	if wait {
		eventually(t, "initial chat list", func() bool { return !h.e.Snapshot().Loading })
	}
	return h
}

func ids(chats []chat.Chat) []string {
	out := make([]string, len(chats))
	for i, c := range chats {
		out[i] = c.ID
	}
	return out
}

func messageIDs(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func notices(b *bus.Bus) (<-chan bus.Event, func()) {
	return b.Subscribe(bus.KindNotice, 16)
}

func nextNotice(t *testing.T, ch <-chan bus.Event) bus.Notice {
	t.Helper()
	select {
	case evt := <-ch:
		n, ok := evt.Payload.(bus.Notice)
		if !ok {
			t.Fatalf("payload type = %T, want bus.Notice", evt.Payload)
		}
		return n
	case <-time.After(time.Second):
		t.Fatal("no notice published")
		return bus.Notice{}
	}
}

// eventually polls cond for up to a second.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func wantIDs(t *testing.T, what string, got, want []string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

func activeID(snap Snapshot) string {
	if snap.Active == nil {
		return ""
	}
	return snap.Active.ID
}

func TestBindLoadsChatList(t *testing.T) {
	h := start(t, newFakeGateway(), true)

	snap := h.e.Snapshot()
	if snap.Phase != status.NoSelection {
		t.Errorf("phase = %s, want %s", snap.Phase, status.NoSelection)
	}
	wantIDs(t, "chats", ids(snap.Chats), []string{"a", "b", "c"})
	if !snap.Authenticated || !snap.ChannelOpen {
		t.Errorf("authenticated=%v channelOpen=%v, want both true", snap.Authenticated, snap.ChannelOpen)
	}
	if snap.Active != nil {
		t.Errorf("active = %v, want none", snap.Active.ID)
	}
}

func TestSelectChatLoadsTranscriptAndJoins(t *testing.T) {
	h := start(t, newFakeGateway(), true)
	ctx := context.Background()

	must(t, h.e.SelectChat(ctx, "b"))

	snap := h.e.Snapshot()
	if activeID(snap) != "b" {
		t.Fatalf("active = %q, want b", activeID(snap))
	}
	if snap.Phase != status.ChatActive {
		t.Errorf("phase = %s, want %s", snap.Phase, status.ChatActive)
	}
	wantIDs(t, "transcript", messageIDs(snap.Transcript), []string{"b1"})
	wantIDs(t, "joins", h.ch.joined(), []string{"b"})
}

func TestSelectChatIsIdempotent(t *testing.T) {
	h := start(t, newFakeGateway(), true)
	ctx := context.Background()

	must(t, h.e.SelectChat(ctx, "a"))
	must(t, h.e.SelectChat(ctx, "a"))

	if n := h.gw.calls("a"); n != 1 {
		t.Errorf("history fetches = %d, want 1", n)
	}
	wantIDs(t, "joins", h.ch.joined(), []string{"a"})
	wantIDs(t, "transcript", messageIDs(h.e.Snapshot().Transcript), []string{"a1"})
}

func TestSelectChatIgnoresRepeatWhilePending(t *testing.T) {
	gw := newFakeGateway()
	gate := make(chan struct{})
	gw.histGate["a"] = gate
	h := start(t, gw, true)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- h.e.SelectChat(ctx, "a") }()
	eventually(t, "pending a", func() bool { return h.e.Snapshot().Pending == "a" })

	must(t, h.e.SelectChat(ctx, "a"))
	close(gate)
	must(t, <-done)

	if n := h.gw.calls("a"); n != 1 {
		t.Errorf("history fetches = %d, want 1", n)
	}
	wantIDs(t, "joins", h.ch.joined(), []string{"a"})
}

func TestSelectChatFailureKeepsSelection(t *testing.T) {
	gw := newFakeGateway()
	gw.histErr["b"] = apperr.Failed("fetch_chat_history", errors.New("boom"))
	h := start(t, gw, true)
	ctx := context.Background()
	events, unsub := notices(h.bus)
	defer unsub()

	must(t, h.e.SelectChat(ctx, "a"))
	err := h.e.SelectChat(ctx, "b")
	if !apperr.Is(err, apperr.RequestFailed) {
		t.Fatalf("err = %v, want RequestFailed", err)
	}

	snap := h.e.Snapshot()
	if activeID(snap) != "a" {
		t.Errorf("active = %q, want a", activeID(snap))
	}
	if snap.Pending != "" {
		t.Errorf("pending = %q, want none", snap.Pending)
	}
	wantIDs(t, "transcript", messageIDs(snap.Transcript), []string{"a1"})
	wantIDs(t, "joins", h.ch.joined(), []string{"a"})
	if n := nextNotice(t, events); n.Text != NoticeLoadChatFailed {
		t.Errorf("notice = %q, want %q", n.Text, NoticeLoadChatFailed)
	}
}

func TestSelectChatRejectsMismatchedHistory(t *testing.T) {
	gw := newFakeGateway()
	gw.histories["b"] = chat.History{ChatID: "c", Messages: []chat.Message{msg("c1", "c", "c1", 1)}}
	h := start(t, gw, true)
	ctx := context.Background()

	must(t, h.e.SelectChat(ctx, "a"))
	err := h.e.SelectChat(ctx, "b")
	if !apperr.Is(err, apperr.RequestFailed) {
		t.Fatalf("err = %v, want RequestFailed", err)
	}

	snap := h.e.Snapshot()
	if activeID(snap) != "a" {
		t.Errorf("active = %q, want a", activeID(snap))
	}
	wantIDs(t, "transcript", messageIDs(snap.Transcript), []string{"a1"})
	wantIDs(t, "joins", h.ch.joined(), []string{"a"})
}

func TestSelectUnlistedChatJoinsWithEmptyParticipants(t *testing.T) {
	gw := newFakeGateway()
	gw.histories["x"] = chat.History{ChatID: "x", Messages: []chat.Message{}}
	h := start(t, gw, true)

	must(t, h.e.SelectChat(context.Background(), "x"))

	h.ch.mu.Lock()
	target := h.ch.joinTargets[len(h.ch.joinTargets)-1]
	h.ch.mu.Unlock()
	if target.ID != "x" {
		t.Fatalf("joined %q, want x", target.ID)
	}
	if target.Participants == nil {
		t.Error("join_chat participants must be an empty list, not null")
	}
}

func TestStaleHistoryIsDiscarded(t *testing.T) {
	gw := newFakeGateway()
	gate := make(chan struct{})
	gw.histGate["a"] = gate
	h := start(t, gw, true)
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() { slow <- h.e.SelectChat(ctx, "a") }()
	eventually(t, "pending a", func() bool { return h.e.Snapshot().Pending == "a" })

	must(t, h.e.SelectChat(ctx, "b"))
	close(gate)
	must(t, <-slow)

	snap := h.e.Snapshot()
	if activeID(snap) != "b" {
		t.Fatalf("active = %q, want b", activeID(snap))
	}
	wantIDs(t, "transcript", messageIDs(snap.Transcript), []string{"b1"})
	wantIDs(t, "joins", h.ch.joined(), []string{"b"})
}

func TestStaleHistoryRejectedAsExpiredForcesLogout(t *testing.T) {
	gw := newFakeGateway()
	gate := make(chan struct{})
	gw.histGate["a"] = gate
	gw.histErr["a"] = apperr.Expired("fetch_chat_history", "status 401")
	h := start(t, gw, true)
	ctx := context.Background()
	events, unsub := notices(h.bus)
	defer unsub()

	slow := make(chan error, 1)
	go func() { slow <- h.e.SelectChat(ctx, "a") }()
	eventually(t, "pending a", func() bool { return h.e.Snapshot().Pending == "a" })

	must(t, h.e.SelectChat(ctx, "b"))
	close(gate)
	if err := <-slow; !apperr.Is(err, apperr.AuthExpired) {
		t.Fatalf("err = %v, want AuthExpired", err)
	}

	if n := h.sess.clears(); n != 1 {
		t.Errorf("credential clears = %d, want 1", n)
	}
	if n := nextNotice(t, events); n.Text != NoticeSessionExpired {
		t.Errorf("notice = %q, want %q", n.Text, NoticeSessionExpired)
	}
	snap := h.e.Snapshot()
	if snap.Phase != status.Unauthenticated || snap.Active != nil || len(snap.Chats) != 0 {
		t.Errorf("state not cleared: phase=%s active=%q chats=%v", snap.Phase, activeID(snap), ids(snap.Chats))
	}
}

func TestSelectActiveChatAbandonsPending(t *testing.T) {
	gw := newFakeGateway()
	gate := make(chan struct{})
	gw.histGate["b"] = gate
	h := start(t, gw, true)
	ctx := context.Background()

	must(t, h.e.SelectChat(ctx, "a"))
	slow := make(chan error, 1)
	go func() { slow <- h.e.SelectChat(ctx, "b") }()
	eventually(t, "pending b", func() bool { return h.e.Snapshot().Pending == "b" })

	must(t, h.e.SelectChat(ctx, "a"))
	if p := h.e.Snapshot().Pending; p != "" {
		t.Errorf("pending = %q, want none", p)
	}
	close(gate)
	must(t, <-slow)

	if got := activeID(h.e.Snapshot()); got != "a" {
		t.Errorf("active = %q, want a", got)
	}
	wantIDs(t, "joins", h.ch.joined(), []string{"a"})
}

func TestPushedChatIsDeduplicated(t *testing.T) {
	h := start(t, newFakeGateway(), true)
	d := chat.Chat{ID: "d", Participants: []string{"alice", "erin"}}

	h.ch.pushChat(d, false)
	h.ch.pushChat(d, true)
	h.ch.pushChat(chat.Chat{ID: "b"}, true)

	wantIDs(t, "chats", ids(h.e.Snapshot().Chats), []string{"d", "a", "b", "c"})
}

func TestIncomingMessageMovesChatToFront(t *testing.T) {
	h := start(t, newFakeGateway(), true)

	h.ch.pushMessage(msg("c2", "c", "hello", 20))

	snap := h.e.Snapshot()
	wantIDs(t, "chats", ids(snap.Chats), []string{"c", "a", "b"})
	if lm := snap.Chats[0].LastMessage; lm == nil || lm.Text != "hello" {
		t.Errorf("last message = %+v, want hello", lm)
	}
}

func TestOlderMessageDoesNotRegressSummary(t *testing.T) {
	h := start(t, newFakeGateway(), true)

	h.ch.pushMessage(msg("c2", "c", "late", 30))
	h.ch.pushMessage(msg("c0", "c", "early", 0))

	snap := h.e.Snapshot()
	if snap.Chats[0].ID != "c" {
		t.Fatalf("front chat = %q, want c", snap.Chats[0].ID)
	}
	if got := snap.Chats[0].LastMessage.Text; got != "late" {
		t.Errorf("last message = %q, want late", got)
	}
}

func TestTranscriptDeduplicatesByMessageID(t *testing.T) {
	h := start(t, newFakeGateway(), true)
	must(t, h.e.SelectChat(context.Background(), "a"))

	h.ch.pushMessage(msg("a1", "a", "a1", 3))
	h.ch.pushMessage(msg("a2", "a", "again", 4))
	h.ch.pushMessage(msg("a2", "a", "again", 4))
	h.ch.pushMessage(msg("b2", "b", "elsewhere", 5))

	wantIDs(t, "transcript", messageIDs(h.e.Snapshot().Transcript), []string{"a1", "a2"})
}

func TestSubmitMessageEndToEnd(t *testing.T) {
	h := start(t, newFakeGateway(), true)
	ctx := context.Background()
	must(t, h.e.SelectChat(ctx, "c"))

	h.e.SetCompose("hi there")
	must(t, h.e.SubmitMessage(ctx, "hi there"))

	snap := h.e.Snapshot()
	if snap.Compose != "" {
		t.Errorf("compose = %q, want cleared", snap.Compose)
	}
	wantIDs(t, "chats", ids(snap.Chats), []string{"c", "a", "b"})
	if got := snap.Chats[0].LastMessage.Text; got != "hi there" {
		t.Errorf("last message = %q, want hi there", got)
	}
	wantIDs(t, "transcript", messageIDs(snap.Transcript), []string{"c1", "sent-1"})
	wantIDs(t, "sent", h.ch.sent, []string{"sent-1"})

	// The server echoes the message back on the channel.
	h.ch.pushMessage(snap.Transcript[1])
	wantIDs(t, "transcript after echo", messageIDs(h.e.Snapshot().Transcript), []string{"c1", "sent-1"})
}

func TestSubmitMessageGuards(t *testing.T) {
	h := start(t, newFakeGateway(), true)
	ctx := context.Background()

	must(t, h.e.SubmitMessage(ctx, "no chat selected"))
	must(t, h.e.SelectChat(ctx, "a"))
	must(t, h.e.SubmitMessage(ctx, "   "))
	must(t, h.e.SubmitMessage(ctx, ""))

	_ = h.ch.Close()
	must(t, h.e.SubmitMessage(ctx, "channel closed"))

	if len(h.gw.sends) != 0 {
		t.Errorf("gateway sends = %v, want none", h.gw.sends)
	}
}

func TestSubmitMessageFailureKeepsCompose(t *testing.T) {
	gw := newFakeGateway()
	gw.sendErr = apperr.Failed("send_message", errors.New("down"))
	h := start(t, gw, true)
	ctx := context.Background()
	events, unsub := notices(h.bus)
	defer unsub()

	must(t, h.e.SelectChat(ctx, "a"))
	h.e.SetCompose("draft")
	if err := h.e.SubmitMessage(ctx, "draft"); err == nil {
		t.Fatal("SubmitMessage should fail")
	}

	snap := h.e.Snapshot()
	if snap.Compose != "draft" {
		t.Errorf("compose = %q, want draft", snap.Compose)
	}
	wantIDs(t, "transcript", messageIDs(snap.Transcript), []string{"a1"})
	if n := nextNotice(t, events); n.Text != NoticeSendFailed {
		t.Errorf("notice = %q, want %q", n.Text, NoticeSendFailed)
	}
}

func TestSubmitCreateChat(t *testing.T) {
	gw := newFakeGateway()
	gw.created = chat.Chat{ID: "n", Participants: []string{"alice", "zoe"}}
	h := start(t, gw, true)

	h.e.SetParticipantQuery("zoe")
	must(t, h.e.SubmitCreateChat(context.Background(), "zoe"))

	snap := h.e.Snapshot()
	wantIDs(t, "chats", ids(snap.Chats), []string{"n", "a", "b", "c"})
	if snap.ParticipantQuery != "" {
		t.Errorf("participant query = %q, want cleared", snap.ParticipantQuery)
	}
	wantIDs(t, "new_chat sent", h.ch.newChats, []string{"n"})
	wantIDs(t, "creates", gw.creates, []string{"zoe"})
}

func TestSubmitCreateChatDuringRefreshSurvivesSnapshot(t *testing.T) {
	gw := newFakeGateway()
	gw.created = chat.Chat{ID: "e", Participants: []string{"alice", "erin"}}
	gate := make(chan struct{})
	gw.listGate = gate
	h := start(t, gw, false)

	must(t, h.e.SubmitCreateChat(context.Background(), "erin"))
	wantIDs(t, "chats while loading", ids(h.e.Snapshot().Chats), []string{"e"})

	close(gate)
	eventually(t, "chat list", func() bool { return !h.e.Snapshot().Loading })
	wantIDs(t, "chats", ids(h.e.Snapshot().Chats), []string{"e", "a", "b", "c"})
}

func TestSubmitCreateChatIgnoresBlank(t *testing.T) {
	gw := newFakeGateway()
	h := start(t, gw, true)

	must(t, h.e.SubmitCreateChat(context.Background(), "  "))
	if len(gw.creates) != 0 {
		t.Errorf("creates = %v, want none", gw.creates)
	}
}

func TestSubmitCreateChatFailurePublishesNotice(t *testing.T) {
	gw := newFakeGateway()
	gw.createErr = apperr.Failed("create_chat", errors.New("status 404"))
	h := start(t, gw, true)
	events, unsub := notices(h.bus)
	defer unsub()

	h.e.SetParticipantQuery("nobody")
	if err := h.e.SubmitCreateChat(context.Background(), "nobody"); err == nil {
		t.Fatal("SubmitCreateChat should fail")
	}

	if n := nextNotice(t, events); n.Text != NoticeCreateChatFailed {
		t.Errorf("notice = %q, want %q", n.Text, NoticeCreateChatFailed)
	}
	snap := h.e.Snapshot()
	if snap.ParticipantQuery != "nobody" {
		t.Errorf("participant query = %q, want nobody", snap.ParticipantQuery)
	}
	wantIDs(t, "chats", ids(snap.Chats), []string{"a", "b", "c"})
}

func TestAuthExpiredForcesLogout(t *testing.T) {
	gw := newFakeGateway()
	gw.sendErr = apperr.Expired("send_message", "token expired")
	h := start(t, gw, true)
	ctx := context.Background()
	events, unsub := notices(h.bus)
	defer unsub()

	must(t, h.e.SelectChat(ctx, "a"))
	if err := h.e.SubmitMessage(ctx, "hello"); err == nil {
		t.Fatal("SubmitMessage should fail")
	}

	if n := h.sess.clears(); n != 1 {
		t.Errorf("credential clears = %d, want 1", n)
	}
	if n := nextNotice(t, events); n.Text != NoticeSessionExpired {
		t.Errorf("notice = %q, want %q", n.Text, NoticeSessionExpired)
	}
	snap := h.e.Snapshot()
	if snap.Phase != status.Unauthenticated {
		t.Errorf("phase = %s, want %s", snap.Phase, status.Unauthenticated)
	}
	if snap.Authenticated {
		t.Error("still authenticated")
	}
	if len(snap.Chats) != 0 || len(snap.Transcript) != 0 || snap.Active != nil {
		t.Errorf("state not cleared: chats=%v transcript=%v active=%q",
			ids(snap.Chats), messageIDs(snap.Transcript), activeID(snap))
	}
}

func TestRefreshKeepsChatsPushedWhileLoading(t *testing.T) {
	gw := newFakeGateway()
	gate := make(chan struct{})
	gw.listGate = gate
	h := start(t, gw, false)
	if !h.e.Snapshot().Loading {
		t.Fatal("expected initial list load in flight")
	}

	h.ch.pushChat(chat.Chat{ID: "d"}, false)
	h.ch.pushMessage(msg("d1", "d", "pushed", 40))
	close(gate)
	eventually(t, "chat list", func() bool { return !h.e.Snapshot().Loading })

	snap := h.e.Snapshot()
	wantIDs(t, "chats", ids(snap.Chats), []string{"d", "a", "b", "c"})
	if got := snap.Chats[0].LastMessage.Text; got != "pushed" {
		t.Errorf("last message = %q, want pushed", got)
	}
}

func TestRefreshFailurePublishesNotice(t *testing.T) {
	gw := newFakeGateway()
	gw.listErr = apperr.Failed("list_chats", errors.New("down"))
	gate := make(chan struct{})
	gw.listGate = gate
	h := start(t, gw, false)
	events, unsub := notices(h.bus)
	defer unsub()

	close(gate)
	if n := nextNotice(t, events); n.Text != NoticeLoadChatsFailed {
		t.Errorf("notice = %q, want %q", n.Text, NoticeLoadChatsFailed)
	}
	if chats := h.e.Snapshot().Chats; len(chats) != 0 {
		t.Errorf("chats = %v, want none", ids(chats))
	}
}

func TestLogoutClearsState(t *testing.T) {
	h := start(t, newFakeGateway(), true)
	ctx := context.Background()
	must(t, h.e.SelectChat(ctx, "a"))
	h.e.SetCompose("unsent")

	must(t, h.e.Logout(ctx))

	snap := h.e.Snapshot()
	if snap.Phase != status.Unauthenticated {
		t.Errorf("phase = %s, want %s", snap.Phase, status.Unauthenticated)
	}
	if len(snap.Chats) != 0 || snap.Compose != "" || snap.Active != nil {
		t.Errorf("state not cleared: chats=%v compose=%q active=%q", ids(snap.Chats), snap.Compose, activeID(snap))
	}

	// Push handlers are gone with the binding.
	h.ch.pushChat(chat.Chat{ID: "late"}, false)
	if chats := h.e.Snapshot().Chats; len(chats) != 0 {
		t.Errorf("chats after logout push = %v, want none", ids(chats))
	}
}

func TestListResultAfterLogoutIsDiscarded(t *testing.T) {
	gw := newFakeGateway()
	gate := make(chan struct{})
	gw.listGate = gate
	h := start(t, gw, false)
	events, unsub := notices(h.bus)
	defer unsub()

	h.sess.ClearCredential(context.Background())
	close(gate)

	time.Sleep(20 * time.Millisecond)
	if chats := h.e.Snapshot().Chats; len(chats) != 0 {
		t.Errorf("chats = %v, want none", ids(chats))
	}
	if len(events) != 0 {
		t.Errorf("notices = %d, want none", len(events))
	}
}

func TestMergeSnapshot(t *testing.T) {
	local := []chat.Chat{
		{ID: "x", LastMessage: summary("local-new", 50)},
		{ID: "y", LastMessage: summary("local-old", 1)},
		{ID: "z"},
	}
	snap := []chat.Chat{
		{ID: "a"},
		{ID: "y", LastMessage: summary("server-new", 9)},
		{ID: "x", LastMessage: summary("server-old", 5)},
	}
	pushed := map[string]bool{"x": true, "y": true}

	out := mergeSnapshot(local, pushed, snap)

	wantIDs(t, "merged", ids(out), []string{"x", "y", "a"})
	if got := out[0].LastMessage.Text; got != "local-new" {
		t.Errorf("x last message = %q, want local-new", got)
	}
	if got := out[1].LastMessage.Text; got != "server-new" {
		t.Errorf("y last message = %q, want server-new", got)
	}
}
