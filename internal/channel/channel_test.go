package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matheus3301/chatsync/internal/apperr"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/testserver"
)

type recorder struct {
	mu       sync.Mutex
	chats    []chat.Chat
	joined   []chat.Chat
	messages []chat.Message
	errs     []error
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		NewChat: func(c chat.Chat) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.chats = append(r.chats, c)
		},
		JoinChat: func(c chat.Chat) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.joined = append(r.joined, c)
		},
		NewMessage: func(m chat.Message) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.messages = append(r.messages, m)
		},
		Error: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) counts() (chats, joined, messages, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats), len(r.joined), len(r.messages), len(r.errs)
}

func dial(t *testing.T, srv *testserver.Server, url, user string, b *bus.Bus) *Conn {
	t.Helper()
	before := srv.Connections(user)
	d := &Dialer{ServerURL: url, Bus: b}
	c, err := d.Dial(context.Background(), srv.Token(user))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.Eventually(t, func() bool { return srv.Connections(user) > before }, time.Second, 10*time.Millisecond)
	return c
}

func TestURL(t *testing.T) {
	u, err := URL("https://chat.example.com/base/", "tok")
	require.NoError(t, err)
	require.Equal(t, "wss://chat.example.com/base/socket.io/?EIO=4&token=tok&transport=websocket", u)

	_, err = URL("ftp://x", "tok")
	require.Error(t, err)
}

func TestDialPublishesLifecycle(t *testing.T) {
	srv, ts := testserver.Start(t)
	srv.AddUser("alice", "pw")
	b := bus.New()
	events, unsub := b.Subscribe(bus.KindChannelStatus, 10)
	defer unsub()

	c := dial(t, srv, ts.URL, "alice", b)
	require.True(t, c.Open())
	require.Eventually(t, func() bool { return srv.Connections("alice") == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	<-c.Done()
	require.Equal(t, status.ChannelClosed, c.State())
	require.NoError(t, c.Err())

	var seen []status.State
	for len(events) > 0 {
		seen = append(seen, (<-events).Payload.(status.StatusChange).To)
	}
	require.Equal(t, []status.State{status.ChannelConnecting, status.ChannelOpen, status.ChannelClosed}, seen)
}

func TestDialRejectedToken(t *testing.T) {
	srv, ts := testserver.Start(t)
	srv.AddUser("alice", "pw")
	b := bus.New()
	events, unsub := b.Subscribe(bus.KindChannelStatus, 10)
	defer unsub()

	d := &Dialer{ServerURL: ts.URL, Bus: b}
	_, err := d.Dial(context.Background(), "bogus")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.ChannelError))

	require.Len(t, events, 2)
	<-events
	require.Equal(t, status.ChannelClosed, (<-events).Payload.(status.StatusChange).To)
}

func TestJoinChatEchoesAndSubscribesRoom(t *testing.T) {
	srv, ts := testserver.Start(t)
	srv.AddUser("alice", "pw")
	srv.AddUser("bob", "pw")
	c1 := srv.SeedChat("alice", "bob")

	c := dial(t, srv, ts.URL, "alice", nil)
	rec := &recorder{}
	defer c.Subscribe(rec.handlers())()

	require.NoError(t, c.JoinChat(c1))
	require.Eventually(t, func() bool { _, j, _, _ := rec.counts(); return j == 1 }, time.Second, 10*time.Millisecond)
	require.True(t, srv.Joined("alice", c1.ID))
}

func TestSendMessageRebroadcastsToRoom(t *testing.T) {
	srv, ts := testserver.Start(t)
	srv.AddUser("alice", "pw")
	srv.AddUser("bob", "pw")
	c1 := srv.SeedChat("alice", "bob")

	alice := dial(t, srv, ts.URL, "alice", nil)
	bob := dial(t, srv, ts.URL, "bob", nil)
	aliceRec, bobRec := &recorder{}, &recorder{}
	defer alice.Subscribe(aliceRec.handlers())()
	defer bob.Subscribe(bobRec.handlers())()

	require.NoError(t, alice.JoinChat(c1))
	require.NoError(t, bob.JoinChat(c1))
	require.Eventually(t, func() bool { return srv.Joined("alice", c1.ID) && srv.Joined("bob", c1.ID) }, time.Second, 10*time.Millisecond)

	m := srv.SeedMessage(c1.ID, "alice", "hey")
	require.NoError(t, alice.SendMessage(m))

	require.Eventually(t, func() bool { _, _, n, _ := bobRec.counts(); return n == 1 }, time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { _, _, n, _ := aliceRec.counts(); return n == 1 }, time.Second, 10*time.Millisecond)
	bobRec.mu.Lock()
	require.Equal(t, m.ID, bobRec.messages[0].ID)
	bobRec.mu.Unlock()
}

func TestNewChatAnnouncedToOtherParticipant(t *testing.T) {
	srv, ts := testserver.Start(t)
	srv.AddUser("alice", "pw")
	srv.AddUser("bob", "pw")
	c1 := srv.SeedChat("alice", "bob")

	alice := dial(t, srv, ts.URL, "alice", nil)
	bob := dial(t, srv, ts.URL, "bob", nil)
	bobRec := &recorder{}
	defer bob.Subscribe(bobRec.handlers())()

	require.NoError(t, alice.NewChat(c1))
	require.Eventually(t, func() bool { n, _, _, _ := bobRec.counts(); return n == 1 }, time.Second, 10*time.Millisecond)
}

func TestInvalidPayloadBecomesChannelError(t *testing.T) {
	srv, ts := testserver.Start(t)
	srv.AddUser("alice", "pw")

	c := dial(t, srv, ts.URL, "alice", nil)
	rec := &recorder{}
	defer c.Subscribe(rec.handlers())()

	srv.Push("alice", EventNewMessage, map[string]string{"chatId": "c1"})
	srv.Push("alice", EventNewChat, map[string]any{"participants": []string{"x"}})
	srv.Push("alice", EventError, map[string]string{"message": "Chat not found"})
	srv.Push("alice", "chat_joined", map[string]string{"message": "ignored"})

	require.Eventually(t, func() bool { _, _, _, e := rec.counts(); return e == 3 }, time.Second, 10*time.Millisecond)
	chats, _, msgs, _ := rec.counts()
	require.Zero(t, chats)
	require.Zero(t, msgs)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, err := range rec.errs {
		require.True(t, apperr.Is(err, apperr.ChannelError))
	}
	require.Contains(t, rec.errs[2].Error(), "Chat not found")
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	srv, ts := testserver.Start(t)
	srv.AddUser("alice", "pw")

	c := dial(t, srv, ts.URL, "alice", nil)
	first, second := &recorder{}, &recorder{}
	unsub := c.Subscribe(first.handlers())
	defer c.Subscribe(second.handlers())()
	unsub()
	unsub()

	srv.Push("alice", EventNewChat, chat.Chat{ID: "c1", Participants: []string{"alice", "bob"}})
	require.Eventually(t, func() bool { n, _, _, _ := second.counts(); return n == 1 }, time.Second, 10*time.Millisecond)
	n, _, _, _ := first.counts()
	require.Zero(t, n)
}

func TestServerDropClosesChannel(t *testing.T) {
	srv, ts := testserver.Start(t)
	srv.AddUser("alice", "pw")

	c := dial(t, srv, ts.URL, "alice", nil)
	require.Eventually(t, func() bool { return srv.Connections("alice") == 1 }, time.Second, 10*time.Millisecond)
	srv.Disconnect("alice")

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after server drop")
	}
	require.Error(t, c.Err())
	require.False(t, c.Open())
	require.True(t, apperr.Is(c.JoinChat(chat.Chat{ID: "x"}), apperr.ChannelError))
}

func TestPingIsAnswered(t *testing.T) {
	srv, ts := testserver.Start(t)
	srv.AddUser("alice", "pw")
	dial(t, srv, ts.URL, "alice", nil)
	require.Eventually(t, func() bool { return srv.Connections("alice") == 1 }, time.Second, 10*time.Millisecond)

	before := srv.Pings()
	require.Eventually(t, func() bool { return srv.Pings() > before }, 2*time.Second, 20*time.Millisecond)
}
