package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DoyleJ11/spark-client/pkg/types"
	"go.uber.org/zap"
)

var ErrUnauthorized = errors.New("session expired")

// StatusError is any non-2xx answer other than 401/403.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Detail)
}

func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Auth is the slice of the auth session the client needs.
type Auth interface {
	Token() (string, error)
	SignOut()
}

type Client struct {
	baseURL string
	http    *http.Client
	auth    Auth
	log     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(baseURL string, auth Auth, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		auth:    auth,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Config(ctx context.Context) (types.Config, error) {
	var cfg types.Config
	err := c.do(ctx, http.MethodGet, "/matchmaking/me/config", nil, &cfg)
	return cfg, err
}

func (c *Client) JoinQueue(ctx context.Context) (*types.QueueEntry, error) {
	var entry types.QueueEntry
	if err := c.do(ctx, http.MethodPost, "/matchmaking/me/join", nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) Poll(ctx context.Context) (*types.PollResponse, error) {
	var res types.PollResponse
	if err := c.do(ctx, http.MethodGet, "/matchmaking/me/poll", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Queue returns the caller's queue entry, or nil when not queued.
func (c *Client) Queue(ctx context.Context) (*types.QueueEntry, error) {
	var entry types.QueueEntry
	err := c.do(ctx, http.MethodGet, "/matchmaking/me/queue", nil, &entry)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) LeaveQueue(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/matchmaking/me/queue", nil, nil)
}

// CurrentSession returns the caller's open session, if any.
func (c *Client) CurrentSession(ctx context.Context) (types.CurrentSession, error) {
	var cur types.CurrentSession
	err := c.do(ctx, http.MethodGet, "/session/me", nil, &cur)
	return cur, err
}

func (c *Client) LeaveSession(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/session/me", nil, nil)
}

func (c *Client) MatchStatus(ctx context.Context, sessionID string) (types.MatchStatus, error) {
	var st types.MatchStatus
	err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/match-status", nil, &st)
	return st, err
}

func (c *Client) SetMatch(ctx context.Context, sessionID string, liked bool) (types.MatchStatus, error) {
	var st types.MatchStatus
	err := c.do(ctx, http.MethodPost, "/session/"+url.PathEscape(sessionID)+"/match", types.LikeRequest{Liked: liked}, &st)
	return st, err
}

func (c *Client) Chats(ctx context.Context, sessionID string) ([]types.ChatMessage, error) {
	var msgs []types.ChatMessage
	err := c.do(ctx, http.MethodGet, "/session/"+url.PathEscape(sessionID)+"/chats", nil, &msgs)
	return msgs, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.auth.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	// 401/403 means the credential is dead. Hand off to the auth session
	// and do not retry.
	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		c.log.Warn("request rejected, signing out",
			zap.String("method", method), zap.String("path", path), zap.Int("status", res.StatusCode))
		c.auth.SignOut()
		return ErrUnauthorized
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &StatusError{Code: res.StatusCode, Detail: readDetail(res.Body)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// readDetail pulls the human message out of {"detail": "..."} bodies, or
// falls back to the raw text.
func readDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if s, ok := body.Detail.(string); ok && s != "" {
			return s
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
