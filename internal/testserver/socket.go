package testserver

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/channel/frame"
	"github.com/matheus3301/chatsync/internal/chat"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type peer struct {
	user string
	ws   *websocket.Conn
	wmu  sync.Mutex
}

func (p *peer) send(b []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return p.ws.WriteMessage(websocket.TextMessage, b)
}

func (p *peer) emit(event string, payload any) error {
	b, err := frame.EncodeEvent(event, payload)
	if err != nil {
		return err
	}
	return p.send(b)
}

// hub tracks push connections by room. Every peer is in its user room
// ("user:<name>") and in each chat room ("chat:<id>") it has joined.
type hub struct {
	logger *zap.Logger

	mu    sync.Mutex
	rooms map[string]map[*peer]struct{}
	pongs int
}

func newHub(logger *zap.Logger) *hub {
	return &hub{logger: logger, rooms: make(map[string]map[*peer]struct{})}
}

func userRoom(name string) string { return "user:" + name }
func chatRoom(id string) string   { return "chat:" + id }

func (h *hub) join(room string, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*peer]struct{})
	}
	h.rooms[room][p] = struct{}{}
}

func (h *hub) leaveAll(p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, members := range h.rooms {
		delete(members, p)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *hub) members(room string) []*peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*peer, 0, len(h.rooms[room]))
	for p := range h.rooms[room] {
		out = append(out, p)
	}
	return out
}

func (h *hub) roomSize(room string) int {
	return len(h.members(room))
}

func (h *hub) joined(user, room string) bool {
	return slices.ContainsFunc(h.members(room), func(p *peer) bool { return p.user == user })
}

func (h *hub) toRoom(room, event string, payload any) {
	for _, p := range h.members(room) {
		if err := p.emit(event, payload); err != nil {
			h.logger.Debug("emit failed", zap.String("room", room), zap.Error(err))
		}
	}
}

func (h *hub) drop(room string) {
	for _, p := range h.members(room) {
		_ = p.ws.Close()
	}
}

func (h *hub) ping() int {
	h.mu.Lock()
	seen := make(map[*peer]struct{})
	var all []*peer
	for _, members := range h.rooms {
		for p := range members {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				all = append(all, p)
			}
		}
	}
	pongs := h.pongs
	h.mu.Unlock()

	for _, p := range all {
		_ = p.send(frame.PingFrame)
	}
	return pongs
}

func (h *hub) pong() {
	h.mu.Lock()
	h.pongs++
	h.mu.Unlock()
}

// serveSocket runs the engine.io/socket.io handshake, then relays events
// the way the service does: join_chat joins the room and is echoed back,
// new_chat is forwarded to the other participants, send_message is
// rebroadcast to the room as new_message.
func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = ws.Close() }()

	p := &peer{ws: ws}
	open, _ := frame.EncodeOpen(frame.Handshake{
		SID:          uuid.NewString(),
		Upgrades:     []string{},
		PingInterval: 25000,
		PingTimeout:  20000,
		MaxPayload:   1000000,
	})
	if err := p.send(open); err != nil {
		return
	}

	if _, data, err := ws.ReadMessage(); err != nil {
		return
	} else if f, err := frame.Decode(data); err != nil || f.Type != frame.Connect {
		return
	}

	user, err := s.subject(r.URL.Query().Get("token"))
	if err != nil {
		_ = p.send(frame.EncodeConnectError("Invalid authentication token"))
		return
	}
	p.user = user

	ack, _ := frame.EncodeConnect(map[string]string{"sid": uuid.NewString()})
	if err := p.send(ack); err != nil {
		return
	}
	s.hub.join(userRoom(user), p)
	defer s.hub.leaveAll(p)
	_ = p.emit("connected", map[string]string{"message": "Connected to WebSocket server"})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := frame.Decode(data)
		if err != nil {
			_ = p.emit("error", map[string]string{"message": "Invalid data format"})
			continue
		}
		switch f.Type {
		case frame.Pong:
			s.hub.pong()
		case frame.Ping:
			_ = p.send(frame.PongFrame)
		case frame.Disconnect, frame.Close:
			return
		case frame.Event:
			s.handleEvent(p, f.Name, f.Payload)
		}
	}
}

func (s *Server) handleEvent(p *peer, name string, payload []byte) {
	switch name {
	case "join_chat":
		var c chat.Chat
		if json.Unmarshal(payload, &c) != nil || c.ID == "" {
			_ = p.emit("error", map[string]string{"message": "Invalid data format"})
			return
		}
		s.mu.Lock()
		stored, ok := s.chats[c.ID]
		var out chat.Chat
		if ok {
			out = stored.Clone()
		}
		s.mu.Unlock()
		if !ok || !slices.Contains(out.Participants, p.user) {
			_ = p.emit("error", map[string]string{"message": "Chat not found"})
			return
		}
		s.hub.join(chatRoom(c.ID), p)
		_ = p.emit("join_chat", out)
		s.hub.toRoom(chatRoom(c.ID), "chat_joined", map[string]string{"message": "Joined chat " + c.ID})

	case "new_chat":
		var c chat.Chat
		if json.Unmarshal(payload, &c) != nil || c.ID == "" {
			_ = p.emit("error", map[string]string{"message": "Failed to notify new chat"})
			return
		}
		for _, other := range c.Participants {
			if other != p.user {
				s.hub.toRoom(userRoom(other), "new_chat", chat.Chat{ID: c.ID, Participants: c.Participants})
			}
		}

	case "send_message":
		var m chat.Message
		if json.Unmarshal(payload, &m) != nil || m.ID == "" || m.ChatID == "" {
			_ = p.emit("error", map[string]string{"message": "Failed to send message"})
			return
		}
		s.hub.toRoom(chatRoom(m.ChatID), "new_message", m)

	default:
		s.logger.Debug("unknown event", zap.String("event", name))
	}
}
