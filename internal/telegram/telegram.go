// Package telegram is a minimal Bot API client covering what the gateway
// needs: long-poll getUpdates, sendMessage with an optional reply keyboard,
// and rune-aware chunking of long replies.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.telegram.org"

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

// Chat identifies the conversation an update belongs to.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
}

// User is the sender of a message.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

// Message carries the fields the gateway reads from incoming updates.
type Message struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from,omitempty"`
}

// Update is one getUpdates envelope entry.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// KeyboardButton is one quick-reply key.
type KeyboardButton struct {
	Text string `json:"text"`
}

// ReplyKeyboard is the persistent custom keyboard attached to replies.
type ReplyKeyboard struct {
	Keyboard              [][]KeyboardButton `json:"keyboard"`
	ResizeKeyboard        bool               `json:"resize_keyboard"`
	OneTimeKeyboard       bool               `json:"one_time_keyboard"`
	IsPersistent          bool               `json:"is_persistent"`
	InputFieldPlaceholder string             `json:"input_field_placeholder,omitempty"`
}

// Client talks to one bot token.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// Option adjusts a Client.
type Option func(*Client)

// WithBaseURL points the client at a different API host, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = u
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout sets the per-request HTTP timeout. Long polls need it above
// the poll window.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger attaches a logger for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient builds a client for the given bot token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
		timeout:    60 * time.Second,
		logger:     slog.New(discardHandler{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

func (c *Client) call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.baseURL + "/bot" + c.token + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("telegram API call", "method", method)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram %s request: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("telegram %s invalid JSON: %s", method, truncateRunes(string(raw), 300))
	}
	if !envelope.OK {
		return nil, &APIError{Method: method, Code: envelope.ErrorCode, Description: envelope.Description}
	}
	return envelope.Result, nil
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// GetUpdates long-polls for message updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, pollTimeoutSec int) ([]Update, error) {
	result, err := c.call(ctx, "getUpdates", getUpdatesRequest{
		Offset:         offset,
		Timeout:        pollTimeoutSec,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("decode getUpdates result: %w", err)
	}
	return updates, nil
}

type sendMessageRequest struct {
	ChatID                string         `json:"chat_id"`
	Text                  string         `json:"text"`
	DisableWebPagePreview bool           `json:"disable_web_page_preview"`
	ReplyMarkup           *ReplyKeyboard `json:"reply_markup,omitempty"`
}

// SendMessage delivers one already-chunked text to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, markup *ReplyKeyboard) error {
	_, err := c.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		DisableWebPagePreview: true,
		ReplyMarkup:           markup,
	})
	return err
}

// QuickReplyKeyboard is the persistent shortcut keyboard shown under the
// input field.
func QuickReplyKeyboard() *ReplyKeyboard {
	return &ReplyKeyboard{
		Keyboard: [][]KeyboardButton{
			{{Text: "/status"}, {Text: "/check"}},
			{{Text: "/task"}, {Text: "/monitor"}, {Text: "/pick"}},
			{{Text: "/kpi"}, {Text: "/cancel"}},
			{{Text: "/dispatch"}, {Text: "/direct"}},
			{{Text: "/help"}, {Text: "/whoami"}, {Text: "/acl"}, {Text: "/mode"}},
		},
		ResizeKeyboard:        true,
		OneTimeKeyboard:       false,
		IsPersistent:          true,
		InputFieldPlaceholder: "예: /dispatch 결측치 규칙 정리해줘",
	}
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
