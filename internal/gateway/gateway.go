// Package gateway performs the authenticated request/response calls against
// the chat service. Every call is made exactly once; failures come back as
// *apperr.Error and are never retried here.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/apperr"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
)

// Operation names used in errors, logs and metrics.
const (
	OpLogin       = "login"
	OpVerify      = "verify"
	OpListChats   = "list_chats"
	OpFetchChat   = "fetch_chat_history"
	OpCreateChat  = "create_chat"
	OpSendMessage = "send_message"
)

// RequestIDHeader carries a per-call id for correlating client and server logs.
const RequestIDHeader = "X-Request-ID"

// Client talks to the chat service's /api endpoints.
type Client struct {
	http     *resty.Client
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates a client for the service at baseURL. A zero timeout means none.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "chatsync/1.0")
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &Client{
		http:     client,
		validate: validator.New(),
		logger:   logging.OrNop(logger).Named("gateway"),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Username string `json:"username" validate:"required"`
	Token    string `json:"token" validate:"required"`
}

type createChatRequest struct {
	ParticipantUsername string `json:"participant_username"`
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

// Login exchanges a username and password for a credential. Rejected
// credentials are reported as RequestFailed, not AuthExpired.
func (c *Client) Login(ctx context.Context, username, password string) (chat.Credential, error) {
	var out loginResponse
	req := c.request(ctx, "").
		SetBody(loginRequest{Username: username, Password: password}).
		SetResult(&out)
	if err := c.do(OpLogin, false, func() (*resty.Response, error) { return req.Post("/api/login") }); err != nil {
		return chat.Credential{}, err
	}
	if err := c.check(OpLogin, &out); err != nil {
		return chat.Credential{}, err
	}
	return chat.Credential{Token: out.Token, User: out.Username}, nil
}

// Verify checks that token is still accepted by the service.
func (c *Client) Verify(ctx context.Context, token string) error {
	req := c.request(ctx, token)
	return c.do(OpVerify, true, func() (*resty.Response, error) { return req.Get("/api/verify") })
}

// ListChats returns the authoritative snapshot of the user's chats.
func (c *Client) ListChats(ctx context.Context, cred chat.Credential) ([]chat.Chat, error) {
	var out []chat.Chat
	req := c.request(ctx, cred.Token).SetResult(&out)
	if err := c.do(OpListChats, true, func() (*resty.Response, error) { return req.Get("/api/chats") }); err != nil {
		return nil, err
	}
	for i := range out {
		if err := c.check(OpListChats, &out[i]); err != nil {
			return nil, err
		}
	}
	if out == nil {
		out = []chat.Chat{}
	}
	return out, nil
}

// FetchChatHistory returns the full transcript of one chat.
func (c *Client) FetchChatHistory(ctx context.Context, chatID string, cred chat.Credential) (chat.History, error) {
	var out chat.History
	req := c.request(ctx, cred.Token).
		SetPathParam("chatId", chatID).
		SetResult(&out)
	if err := c.do(OpFetchChat, true, func() (*resty.Response, error) { return req.Get("/api/chats/{chatId}") }); err != nil {
		return chat.History{}, err
	}
	if err := c.check(OpFetchChat, &out); err != nil {
		return chat.History{}, err
	}
	if out.Messages == nil {
		out.Messages = []chat.Message{}
	}
	return out, nil
}

// CreateChat opens a chat with participant. The service rejects unknown
// users and duplicate chats; either is a RequestFailed.
func (c *Client) CreateChat(ctx context.Context, participant string, cred chat.Credential) (chat.Chat, error) {
	var out chat.Chat
	req := c.request(ctx, cred.Token).
		SetBody(createChatRequest{ParticipantUsername: participant}).
		SetResult(&out)
	if err := c.do(OpCreateChat, true, func() (*resty.Response, error) { return req.Post("/api/chats") }); err != nil {
		return chat.Chat{}, err
	}
	if err := c.check(OpCreateChat, &out); err != nil {
		return chat.Chat{}, err
	}
	return out, nil
}

// SendMessage posts text to chatID and returns the server-confirmed message.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, cred chat.Credential) (chat.Message, error) {
	var out chat.Message
	req := c.request(ctx, cred.Token).
		SetBody(sendMessageRequest{ChatID: chatID, Text: text}).
		SetResult(&out)
	if err := c.do(OpSendMessage, true, func() (*resty.Response, error) { return req.Post("/api/messages") }); err != nil {
		return chat.Message{}, err
	}
	if err := c.check(OpSendMessage, &out); err != nil {
		return chat.Message{}, err
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, token string) *resty.Request {
	req := c.http.R().
		SetContext(ctx).
		SetHeader(RequestIDHeader, uuid.NewString())
	if token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// do runs send once, classifies the outcome and records it. authed calls
// map 401 and 422 to AuthExpired; those are the statuses the service uses
// for expired and malformed tokens.
func (c *Client) do(op string, authed bool, send func() (*resty.Response, error)) error {
	start := time.Now()
	resp, err := send()
	elapsed := time.Since(start)

	if err != nil {
		metrics.RecordRequest(op, "transport_error", elapsed)
		if errors.Is(err, context.Canceled) {
			return apperr.New(apperr.RequestFailed, op, "canceled", err)
		}
		c.logger.Warn("request failed", zap.String("op", op), zap.Error(err))
		return apperr.Failed(op, err)
	}

	status := resp.StatusCode()
	reqID := resp.Request.Header.Get(RequestIDHeader)
	if !resp.IsError() {
		metrics.RecordRequest(op, "ok", elapsed)
		c.logger.Debug("request ok",
			zap.String("op", op),
			zap.Int("status", status),
			zap.String("request_id", reqID),
			zap.Duration("elapsed", elapsed))
		return nil
	}

	reason := fmt.Sprintf("status %d", status)
	if msg := fastjson.GetString(resp.Body(), "error"); msg != "" {
		reason += ": " + msg
	}
	c.logger.Warn("request rejected",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("request_id", reqID),
		zap.String("reason", reason))

	if authed && (status == http.StatusUnauthorized || status == http.StatusUnprocessableEntity) {
		metrics.RecordRequest(op, "auth_expired", elapsed)
		return apperr.Expired(op, reason)
	}
	metrics.RecordRequest(op, "rejected", elapsed)
	return apperr.New(apperr.RequestFailed, op, reason, nil)
}

func (c *Client) check(op string, v any) error {
	if err := c.validate.Struct(v); err != nil {
		return apperr.New(apperr.RequestFailed, op, "malformed response", err)
	}
	return nil
}
