// Package channel is the client side of the push channel: one authenticated
// websocket per credential that delivers new_chat, new_message, join_chat and
// error events and accepts join_chat, new_chat and send_message.
package channel

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/apperr"
	"github.com/matheus3301/chatsync/internal/channel/frame"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
)

// Event names on the wire.
const (
	EventNewChat     = "new_chat"
	EventNewMessage  = "new_message"
	EventJoinChat    = "join_chat"
	EventError       = "error"
	EventSendMessage = "send_message"
)

const writeWait = 5 * time.Second

// ErrClosed is returned by emitters once the channel is closed.
var ErrClosed = errors.New("push channel closed")

var validate = validator.New()

// Handlers receives inbound events. Nil fields are skipped. Handlers run on
// the channel's read goroutine, one event at a time in arrival order.
type Handlers struct {
	NewChat    func(chat.Chat)
	NewMessage func(chat.Message)
	JoinChat   func(chat.Chat)
	Error      func(error)
}

// Conn is an open push channel.
type Conn struct {
	ws     *websocket.Conn
	state  *status.Machine
	logger *zap.Logger

	// liveness is pingInterval+pingTimeout from the handshake; zero disables it.
	liveness time.Duration

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[int]Handlers
	next int

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newConn(ws *websocket.Conn, state *status.Machine, liveness time.Duration, logger *zap.Logger) *Conn {
	return &Conn{
		ws:       ws,
		state:    state,
		logger:   logger,
		liveness: liveness,
		subs:     make(map[int]Handlers),
		done:     make(chan struct{}),
	}
}

// Subscribe registers h and returns a func that deregisters it. The returned
// func is safe to call more than once.
func (c *Conn) Subscribe(h Handlers) func() {
	c.mu.Lock()
	id := c.next
	c.next++
	c.subs[id] = h
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// Open reports whether the channel is open.
func (c *Conn) Open() bool {
	return c.state.Current() == status.ChannelOpen
}

// State returns the channel state.
func (c *Conn) State() status.State {
	return c.state.Current()
}

// Done is closed when the channel closes for any reason.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the channel closed, or nil while open or after Close.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// JoinChat subscribes this connection to a chat's room.
func (c *Conn) JoinChat(ch chat.Chat) error {
	return c.emit(EventJoinChat, ch)
}

// NewChat announces a freshly created chat to its other participants.
func (c *Conn) NewChat(ch chat.Chat) error {
	return c.emit(EventNewChat, ch)
}

// SendMessage broadcasts a server-confirmed message to the chat's room.
func (c *Conn) SendMessage(m chat.Message) error {
	return c.emit(EventSendMessage, m)
}

func (c *Conn) emit(name string, payload any) error {
	if !c.Open() {
		return apperr.New(apperr.ChannelError, "emit "+name, "", ErrClosed)
	}
	b, err := frame.EncodeEvent(name, payload)
	if err != nil {
		return apperr.New(apperr.ChannelError, "emit "+name, "", err)
	}
	if err := c.write(b); err != nil {
		return apperr.New(apperr.ChannelError, "emit "+name, "", err)
	}
	metrics.RecordPushOut(name)
	c.logger.Debug("emitted", zap.String("event", name))
	return nil
}

func (c *Conn) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Close tears the channel down. It does not wait for in-flight handlers.
func (c *Conn) Close() error {
	c.shutdown(nil, true)
	return nil
}

func (c *Conn) shutdown(reason error, graceful bool) {
	c.closeOnce.Do(func() {
		if graceful {
			_ = c.write(frame.DisconnectFrame)
		}
		_ = c.ws.Close()
		c.closeErr = reason
		if err := c.state.Ensure(status.ChannelClosed); err != nil {
			c.logger.Warn("channel state", zap.Error(err))
		}
		metrics.SetChannelState(string(status.ChannelClosed))
		if reason != nil {
			c.logger.Info("push channel closed", zap.Error(reason))
		} else {
			c.logger.Info("push channel closed")
		}
		close(c.done)
	})
}

func (c *Conn) readLoop() {
	for {
		if c.liveness > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.liveness))
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.shutdown(err, false)
			}
			return
		}
		f, err := frame.Decode(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		switch f.Type {
		case frame.Ping:
			if err := c.write(frame.PongFrame); err != nil {
				c.shutdown(err, false)
				return
			}
		case frame.Event:
			c.dispatch(f.Name, f.Payload)
		case frame.Close, frame.Disconnect:
			c.shutdown(errors.New("server closed the channel"), false)
			return
		default:
			c.logger.Debug("ignoring frame", zap.Stringer("type", f.Type))
		}
	}
}

func (c *Conn) handlers() []Handlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Handlers, 0, len(c.subs))
	for _, h := range c.subs {
		out = append(out, h)
	}
	return out
}

func (c *Conn) dispatch(name string, payload []byte) {
	metrics.RecordPushIn(name)
	switch name {
	case EventNewChat, EventJoinChat:
		var ch chat.Chat
		if err := decode(payload, &ch); err != nil {
			c.fail(name, err)
			return
		}
		for _, h := range c.handlers() {
			if name == EventNewChat && h.NewChat != nil {
				h.NewChat(ch.Clone())
			}
			if name == EventJoinChat && h.JoinChat != nil {
				h.JoinChat(ch.Clone())
			}
		}
	case EventNewMessage:
		var m chat.Message
		if err := decode(payload, &m); err != nil {
			c.fail(name, err)
			return
		}
		for _, h := range c.handlers() {
			if h.NewMessage != nil {
				h.NewMessage(m)
			}
		}
	case EventError:
		msg := frame.ErrorMessage(payload)
		c.logger.Warn("server reported error", zap.String("message", msg))
		c.report(apperr.New(apperr.ChannelError, "push", msg, nil))
	default:
		c.logger.Debug("ignoring event", zap.String("event", name))
	}
}

func (c *Conn) fail(name string, err error) {
	c.logger.Warn("invalid push payload", zap.String("event", name), zap.Error(err))
	c.report(apperr.New(apperr.ChannelError, name, "invalid payload", err))
}

func (c *Conn) report(err error) {
	for _, h := range c.handlers() {
		if h.Error != nil {
			h.Error(err)
		}
	}
}

func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return errors.New("missing payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return err
	}
	return validate.Struct(v)
}
