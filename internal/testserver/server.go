// Package testserver is an in-memory chat backend speaking the same HTTP and
// push channel contract as the real service. Tests start it with
// httptest; chatctl devserver serves it for manual runs.
package testserver

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/logging"
)

// Server holds users, chats and messages in memory.
type Server struct {
	secret   []byte
	tokenTTL time.Duration
	logger   *zap.Logger
	router   *mux.Router
	now      func() time.Time

	mu       sync.Mutex
	users    map[string]string
	chats    map[string]*chat.Chat
	order    []string
	messages map[string][]chat.Message
	faults   map[string][]int
	gates    map[string]chan struct{}
	hits     map[string]int

	hub *hub
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(d time.Duration) Option {
	return func(s *Server) { s.tokenTTL = d }
}

// WithClock overrides the server clock used for message timestamps and tokens.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		secret:   []byte(uuid.NewString()),
		tokenTTL: time.Hour,
		now:      time.Now,
		users:    make(map[string]string),
		chats:    make(map[string]*chat.Chat),
		messages: make(map[string][]chat.Message),
		faults:   make(map[string][]int),
		gates:    make(map[string]chan struct{}),
		hits:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logging.OrNop(s.logger).Named("testserver")
	s.hub = newHub(s.logger)
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler serving /api and /socket.io.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves a new Server on a loopback httptest listener closed at the
// end of the test.
func Start(tb testing.TB, opts ...Option) (*Server, *httptest.Server) {
	tb.Helper()
	s := New(opts...)
	ts := httptest.NewServer(s.Handler())
	tb.Cleanup(ts.Close)
	return s, ts
}

// AddUser registers a user.
func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = password
}

// Token issues a signed token for username valid for the configured TTL.
func (s *Server) Token(username string) string {
	return s.TokenWithExpiry(username, s.now().Add(s.tokenTTL))
}

// TokenWithExpiry issues a signed token for username expiring at exp.
func (s *Server) TokenWithExpiry(username string, exp time.Time) string {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(s.now()),
		ExpiresAt: jwt.NewNumericDate(exp),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		panic(err)
	}
	return signed
}

var (
	errTokenExpired   = errors.New("token has expired")
	errTokenMalformed = errors.New("token is malformed")
)

// subject validates token and returns its user.
func (s *Server) subject(token string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", errTokenExpired
	case err != nil:
		return "", errTokenMalformed
	}
	s.mu.Lock()
	_, known := s.users[claims.Subject]
	s.mu.Unlock()
	if !known {
		return "", errTokenMalformed
	}
	return claims.Subject, nil
}

// SeedChat creates a chat between participants without any push traffic.
func (s *Server) SeedChat(participants ...string) chat.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createChatLocked(participants)
}

func (s *Server) createChatLocked(participants []string) chat.Chat {
	c := &chat.Chat{ID: uuid.NewString(), Participants: append([]string(nil), participants...)}
	s.chats[c.ID] = c
	s.order = append(s.order, c.ID)
	return c.Clone()
}

// SeedMessage stores a message from sender without any push traffic.
func (s *Server) SeedMessage(chatID, sender, text string) chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createMessageLocked(chatID, sender, text)
}

func (s *Server) createMessageLocked(chatID, sender, text string) chat.Message {
	m := chat.Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Sender:    sender,
		Text:      text,
		Timestamp: chat.At(s.now().UTC()),
	}
	s.messages[chatID] = append(s.messages[chatID], m)
	if c, ok := s.chats[chatID]; ok {
		c.LastMessage = m.Summarize()
	}
	return m
}

// Fail makes the next request to route answer with status. Routes are the
// gateway operation names: login, verify, list_chats, fetch_chat_history,
// create_chat, send_message.
func (s *Server) Fail(route string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[route] = append(s.faults[route], status)
}

// Gate blocks history fetches for chatID until the returned func is called.
func (s *Server) Gate(chatID string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.gates[chatID] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.gates, chatID)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Hits returns how many requests reached route.
func (s *Server) Hits(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[route]
}

// Messages returns the stored transcript of chatID.
func (s *Server) Messages(chatID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]chat.Message(nil), s.messages[chatID]...)
}

// Push delivers an event to every connection of username.
func (s *Server) Push(username, event string, payload any) {
	s.hub.toRoom(userRoom(username), event, payload)
}

// Broadcast delivers an event to every connection joined to chatID.
func (s *Server) Broadcast(chatID, event string, payload any) {
	s.hub.toRoom(chatRoom(chatID), event, payload)
}

// Connections returns the number of open push connections of username.
func (s *Server) Connections(username string) int {
	return s.hub.roomSize(userRoom(username))
}

// Joined reports whether any connection of username has joined chatID.
func (s *Server) Joined(username, chatID string) bool {
	return s.hub.joined(username, chatRoom(chatID))
}

// Disconnect drops every push connection of username.
func (s *Server) Disconnect(username string) {
	s.hub.drop(userRoom(username))
}

// Pings sends an engine.io ping to every connection and returns how many pongs
// have been received so far.
func (s *Server) Pings() int {
	return s.hub.ping()
}

func (s *Server) chatsFor(username string) []chat.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Chat, 0)
	for _, id := range s.order {
		c := s.chats[id]
		if slices.Contains(c.Participants, username) {
			out = append(out, c.Clone())
		}
	}
	return out
}

// Users returns every registered user, sorted.
func (s *Server) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.users))
	for u := range s.users {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
