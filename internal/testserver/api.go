package testserver

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/chat"
)

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/login", s.route("login", s.login)).Methods(http.MethodPost)
	api.Handle("/verify", s.route("verify", s.authed(s.verify))).Methods(http.MethodGet)
	api.Handle("/chats", s.route("list_chats", s.authed(s.listChats))).Methods(http.MethodGet)
	api.Handle("/chats", s.route("create_chat", s.authed(s.createChat))).Methods(http.MethodPost)
	api.Handle("/chats/{chatId}", s.route("fetch_chat_history", s.authed(s.chatHistory))).Methods(http.MethodGet)
	api.Handle("/messages", s.route("send_message", s.authed(s.sendMessage))).Methods(http.MethodPost)

	r.HandleFunc("/socket.io/", s.serveSocket)
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", r.Header.Get("X-Request-ID")))
		next.ServeHTTP(w, r)
	})
}

// route counts hits and applies any queued fault for name.
func (s *Server) route(name string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[name]++
		var status int
		if q := s.faults[name]; len(q) > 0 {
			status, s.faults[name] = q[0], q[1:]
		}
		s.mu.Unlock()
		if status != 0 {
			writeError(w, status, "injected failure")
			return
		}
		next(w, r)
	})
}

type userHandler func(w http.ResponseWriter, r *http.Request, username string)

// authed mirrors the service's JWT guard: 401 for a missing or expired token,
// 422 for one that cannot be decoded.
func (s *Server) authed(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Missing Authorization Header")
			return
		}
		user, err := s.subject(token)
		switch err {
		case nil:
		case errTokenExpired:
			writeError(w, http.StatusUnauthorized, "Token has expired")
			return
		default:
			writeError(w, http.StatusUnprocessableEntity, "Invalid token")
			return
		}
		next(w, r, user)
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be a valid JSON object")
		return
	}
	s.mu.Lock()
	pw, ok := s.users[req.Username]
	s.mu.Unlock()
	if !ok || pw != req.Password {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"username": req.Username,
		"token":    s.Token(req.Username),
	})
}

func (s *Server) verify(w http.ResponseWriter, _ *http.Request, user string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Token is valid", "user_id": user})
}

func (s *Server) listChats(w http.ResponseWriter, _ *http.Request, user string) {
	writeJSON(w, http.StatusOK, s.chatsFor(user))
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request, user string) {
	chatID := mux.Vars(r)["chatId"]

	s.mu.Lock()
	gate := s.gates[chatID]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	c, ok := s.chats[chatID]
	if !ok || !slices.Contains(c.Participants, user) {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}
	msgs := append([]chat.Message{}, s.messages[chatID]...)
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, chat.History{ChatID: chatID, Messages: msgs})
}

func (s *Server) createChat(w http.ResponseWriter, r *http.Request, user string) {
	var req struct {
		ParticipantUsername string `json:"participant_username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be a valid JSON object")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[req.ParticipantUsername]; !ok || req.ParticipantUsername == user {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	for _, id := range s.order {
		p := s.chats[id].Participants
		if len(p) == 2 && slices.Contains(p, user) && slices.Contains(p, req.ParticipantUsername) {
			writeError(w, http.StatusBadRequest, "Chat already exists")
			return
		}
	}
	c := s.createChatLocked([]string{user, req.ParticipantUsername})
	writeJSON(w, http.StatusCreated, map[string]any{"chatId": c.ID, "participants": c.Participants})
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request, user string) {
	var req struct {
		ChatID string `json:"chat_id"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be a valid JSON object")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[req.ChatID]
	if !ok || !slices.Contains(c.Participants, user) {
		writeError(w, http.StatusNotFound, "Chat not found")
		return
	}
	writeJSON(w, http.StatusCreated, s.createMessageLocked(req.ChatID, user, req.Text))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
