// Package session holds the credential, persists it, and owns the push
// channel whose lifetime follows it. Components that need the channel
// register a Binding, which runs each time a channel opens and is released
// before that channel closes.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/apperr"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/channel"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/logging"
)

// LoginFailedNotice is shown when the service rejects a login.
const LoginFailedNotice = "Login failed. Please check your username and password."

// CredentialStore persists the credential across restarts.
type CredentialStore interface {
	Save(ctx context.Context, cred chat.Credential) error
	Load(ctx context.Context) (chat.Credential, bool, error)
	Delete(ctx context.Context) error
}

// Authenticator issues and verifies credentials.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (chat.Credential, error)
	Verify(ctx context.Context, token string) error
}

// Channel is an open push channel.
type Channel interface {
	Subscribe(h channel.Handlers) (unsubscribe func())
	JoinChat(c chat.Chat) error
	NewChat(c chat.Chat) error
	SendMessage(m chat.Message) error
	Open() bool
	Done() <-chan struct{}
	Close() error
}

// DialFunc opens a push channel authenticated by token.
type DialFunc func(ctx context.Context, token string) (Channel, error)

// DialWith adapts a channel.Dialer to a DialFunc.
func DialWith(d *channel.Dialer) DialFunc {
	return func(ctx context.Context, token string) (Channel, error) {
		c, err := d.Dial(ctx, token)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Binding is invoked with every newly opened channel. The returned release
// func runs before that channel is closed, on every path.
type Binding func(cred chat.Credential, ch Channel) (release func())

// CredentialChange is the payload of bus.KindCredentialChanged.
type CredentialChange struct {
	User          string
	Authenticated bool
}

// Context is the session: credential holder and channel owner.
type Context struct {
	store  CredentialStore
	auth   Authenticator
	dial   DialFunc
	bus    *bus.Bus
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	cred     chat.Credential
	has      bool
	ch       Channel
	gen      uint64
	bindings map[int]Binding
	releases map[int]func()
	nextID   int
}

// New creates an unauthenticated session.
func New(store CredentialStore, auth Authenticator, dial DialFunc, b *bus.Bus, logger *zap.Logger) *Context {
	return &Context{
		store:    store,
		auth:     auth,
		dial:     dial,
		bus:      b,
		logger:   logging.OrNop(logger).Named("session"),
		now:      time.Now,
		bindings: make(map[int]Binding),
		releases: make(map[int]func()),
	}
}

// Current returns the credential, if any.
func (s *Context) Current() (chat.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred, s.has
}

// ChannelOpen reports whether a push channel is currently open.
func (s *Context) ChannelOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch != nil && s.ch.Open()
}

// Bind registers fn. If a channel is already open fn runs immediately.
// The returned func unregisters fn and releases its current activation.
func (s *Context) Bind(fn Binding) (unbind func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.bindings[id] = fn
	if s.ch != nil {
		s.releases[id] = fn(s.cred, s.ch)
	}
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.bindings, id)
			release := s.releases[id]
			delete(s.releases, id)
			s.mu.Unlock()
			if release != nil {
				release()
			}
		})
	}
}

// SetCredential persists cred, closes any existing channel, then opens a new
// one for cred and activates every binding on it. The old channel is fully
// closed before the new one is dialed. A dial failure leaves the credential
// set with no channel; Reconnect retries.
func (s *Context) SetCredential(ctx context.Context, cred chat.Credential) error {
	if !cred.Valid() {
		return apperr.Invalid("set credential", "empty token")
	}
	if err := s.store.Save(ctx, cred); err != nil {
		return fmt.Errorf("persist credential: %w", err)
	}

	s.mu.Lock()
	s.teardownLocked()
	s.cred, s.has = cred, true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.logger.Info("credential set", zap.String("user", cred.User))
	s.bus.Emit(bus.KindCredentialChanged, CredentialChange{User: cred.User, Authenticated: true})

	return s.connect(ctx, gen, cred)
}

// Reconnect dials a fresh channel for the current credential if none is open.
func (s *Context) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if !s.has {
		s.mu.Unlock()
		return apperr.Invalid("reconnect", "no credential")
	}
	if s.ch != nil && s.ch.Open() {
		s.mu.Unlock()
		return nil
	}
	s.teardownLocked()
	s.gen++
	gen, cred := s.gen, s.cred
	s.mu.Unlock()
	return s.connect(ctx, gen, cred)
}

func (s *Context) connect(ctx context.Context, gen uint64, cred chat.Credential) error {
	ch, err := s.dial(ctx, cred.Token)
	if err != nil {
		s.logger.Warn("push channel unavailable", zap.Error(err))
		return err
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		_ = ch.Close()
		return nil
	}
	s.ch = ch
	for id, fn := range s.bindings {
		s.releases[id] = fn(cred, ch)
	}
	s.mu.Unlock()

	go s.watch(gen, ch)
	return nil
}

// watch releases bindings when the transport drops on its own.
func (s *Context) watch(gen uint64, ch Channel) {
	<-ch.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.ch != ch {
		return
	}
	s.logger.Warn("push channel lost")
	s.teardownLocked()
}

// teardownLocked releases every binding, then closes the channel.
func (s *Context) teardownLocked() {
	for id, release := range s.releases {
		if release != nil {
			release()
		}
		delete(s.releases, id)
	}
	if s.ch != nil {
		_ = s.ch.Close()
		s.ch = nil
	}
}

// ClearCredential closes the channel and forgets the credential, including
// its persisted copy.
func (s *Context) ClearCredential(ctx context.Context) {
	s.mu.Lock()
	s.teardownLocked()
	user := s.cred.User
	wasSet := s.has
	s.cred, s.has = chat.Credential{}, false
	s.gen++
	s.mu.Unlock()

	if err := s.store.Delete(ctx); err != nil {
		s.logger.Warn("delete persisted credential", zap.Error(err))
	}
	if wasSet {
		s.logger.Info("credential cleared", zap.String("user", user))
		s.bus.Emit(bus.KindCredentialChanged, CredentialChange{User: user, Authenticated: false})
	}
}

// Close releases bindings and closes the channel, keeping the credential
// persisted for the next start.
func (s *Context) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teardownLocked()
	s.gen++
	return nil
}

// Login authenticates and, on success, sets the credential. A rejected login
// publishes a notice.
func (s *Context) Login(ctx context.Context, username, password string) error {
	cred, err := s.auth.Login(ctx, username, password)
	if err != nil {
		s.logger.Warn("login failed", zap.String("user", username), zap.Error(err))
		s.bus.Notify(LoginFailedNotice, err)
		return err
	}
	return s.SetCredential(ctx, cred)
}

// Restore attempts silent re-authentication from the persisted credential.
// It returns true when a credential was restored. An expired or rejected
// token is deleted; a network failure keeps it for the next attempt.
func (s *Context) Restore(ctx context.Context) (bool, error) {
	cred, ok, err := s.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if !ok || !cred.Valid() {
		return false, nil
	}

	if s.expired(cred.Token) {
		s.logger.Info("persisted token expired")
		return false, s.store.Delete(ctx)
	}

	if err := s.auth.Verify(ctx, cred.Token); err != nil {
		if apperr.Is(err, apperr.AuthExpired) {
			s.logger.Info("persisted token rejected", zap.Error(err))
			return false, s.store.Delete(ctx)
		}
		return false, err
	}

	if err := s.SetCredential(ctx, cred); err != nil {
		return true, err
	}
	return true, nil
}

// expired reads the token's exp claim without verifying the signature. A
// token that is not a JWT, or carries no exp, is left for the server to judge.
func (s *Context) expired(token string) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !s.now().Before(claims.ExpiresAt.Time)
}
