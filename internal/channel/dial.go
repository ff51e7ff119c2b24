package channel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/apperr"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/channel/frame"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/status"
)

const defaultHandshakeTimeout = 10 * time.Second

// Dialer opens push channels against one server.
type Dialer struct {
	ServerURL        string
	HandshakeTimeout time.Duration
	Bus              *bus.Bus
	Logger           *zap.Logger
}

// URL builds the websocket endpoint for serverURL carrying token.
func URL(serverURL, token string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	q := url.Values{}
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens and handshakes a channel authenticated by token. The channel
// moves Closed, Connecting, then Open; any failure returns it to Closed.
func (d *Dialer) Dial(ctx context.Context, token string) (*Conn, error) {
	logger := logging.OrNop(d.Logger).Named("channel")
	state := status.NewChannelMachine(d.Bus)
	if err := state.Transition(status.ChannelConnecting); err != nil {
		return nil, err
	}
	metrics.SetChannelState(string(status.ChannelConnecting))

	fail := func(reason string, err error) (*Conn, error) {
		_ = state.Transition(status.ChannelClosed)
		metrics.SetChannelState(string(status.ChannelClosed))
		logger.Warn("push channel handshake failed", zap.String("reason", reason), zap.Error(err))
		return nil, apperr.New(apperr.ChannelError, "dial", reason, err)
	}

	endpoint, err := URL(d.ServerURL, token)
	if err != nil {
		return fail("bad server url", err)
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		reason := "connect"
		if resp != nil {
			reason = fmt.Sprintf("connect: status %d", resp.StatusCode)
		}
		return fail(reason, err)
	}

	liveness, err := handshake(ws, deadline)
	if err != nil {
		_ = ws.Close()
		return fail("handshake", err)
	}

	c := newConn(ws, state, liveness, logger)
	if err := state.Transition(status.ChannelOpen); err != nil {
		_ = ws.Close()
		return fail("state", err)
	}
	metrics.SetChannelState(string(status.ChannelOpen))
	logger.Info("push channel open")
	go c.readLoop()
	return c, nil
}

// handshake reads the engine.io open packet, joins the default namespace and
// waits for its ack. Returns the liveness window advertised by the server.
func handshake(ws *websocket.Conn, deadline time.Time) (time.Duration, error) {
	_ = ws.SetReadDeadline(deadline)
	_ = ws.SetWriteDeadline(deadline)
	defer func() {
		_ = ws.SetReadDeadline(time.Time{})
		_ = ws.SetWriteDeadline(time.Time{})
	}()

	f, err := readFrame(ws)
	if err != nil {
		return 0, err
	}
	if f.Type != frame.Open {
		return 0, fmt.Errorf("expected open packet, got %s", f.Type)
	}
	h, err := frame.ParseHandshake(f.Data)
	if err != nil {
		return 0, err
	}

	connect, err := frame.EncodeConnect(nil)
	if err != nil {
		return 0, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, connect); err != nil {
		return 0, fmt.Errorf("send connect: %w", err)
	}

	for {
		f, err := readFrame(ws)
		if err != nil {
			return 0, err
		}
		switch f.Type {
		case frame.Connect:
			var liveness time.Duration
			if h.PingInterval > 0 {
				liveness = time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
			}
			return liveness, nil
		case frame.ConnectError:
			return 0, fmt.Errorf("connect refused: %s", frame.ErrorMessage(f.Data))
		case frame.Ping:
			if err := ws.WriteMessage(websocket.TextMessage, frame.PongFrame); err != nil {
				return 0, err
			}
		case frame.Close:
			return 0, fmt.Errorf("server closed during handshake")
		}
	}
}

func readFrame(ws *websocket.Conn) (frame.Frame, error) {
	_, data, err := ws.ReadMessage()
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Decode(data)
}
