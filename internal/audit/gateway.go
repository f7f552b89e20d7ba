package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// GatewayClient ships audit events to the platform log API. It logs in with
// an API key and refreshes the session token shortly before it expires.
type GatewayClient struct {
	BaseURL string
	APIKey  string
	Agent   string

	HTTP *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

type createLogRequest struct {
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Level      string         `json:"level"`
	Details    map[string]any `json:"details"`
	SessionKey string         `json:"session_key"`
	Metadata   map[string]any `json:"metadata"`
}

func (c *GatewayClient) base() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

// Login exchanges the API key for a session token.
func (c *GatewayClient) Login(ctx context.Context) error {
	if c.base() == "" {
		return errors.New("audit gateway base url is empty")
	}
	apiKey := strings.TrimSpace(c.APIKey)
	if apiKey == "" {
		return errors.New("audit gateway api key is empty")
	}
	body, _ := json.Marshal(map[string]any{"api_key": apiKey})
	var out loginResponse
	if err := c.post(ctx, "/api/v1/auth/login", "", body, &out); err != nil {
		return fmt.Errorf("audit gateway login: %w", err)
	}
	exp, _ := time.Parse(time.RFC3339, strings.TrimSpace(out.ExpiresAt))

	c.mu.Lock()
	c.token = strings.TrimSpace(out.Token)
	c.expiresAt = exp
	c.mu.Unlock()
	return nil
}

func (c *GatewayClient) ensureToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok, exp := c.token, c.expiresAt
	c.mu.RUnlock()
	if tok != "" && (exp.IsZero() || time.Until(exp) >= 2*time.Minute) {
		return tok, nil
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, nil
}

// Record implements Sink.
func (c *GatewayClient) Record(ctx context.Context, ev Event) error {
	if c == nil {
		return nil
	}
	tok, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	if ev.Actor != "" {
		details["actor"] = ev.Actor
	}
	agent := strings.TrimSpace(c.Agent)
	if agent == "" {
		agent = "stratflow-settlement"
	}
	b, err := json.Marshal(createLogRequest{
		Agent:    agent,
		Action:   ev.Action,
		Level:    ev.Level,
		Details:  details,
		Metadata: map[string]any{},
	})
	if err != nil {
		return err
	}
	return c.post(ctx, "/api/v1/logs", tok, b, nil)
}

func (c *GatewayClient) post(ctx context.Context, path, token string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(b, out)
}

func (c *GatewayClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}
