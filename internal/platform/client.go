package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/httpkit"
)

// Client is the REST client for outbound platform calls. It
// implements MessageSender, ReactionAdder, and TypingIndicator.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a platform REST client.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		logger:  logger.With("component", "platform"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

// SendMessage implements MessageSender.
func (c *Client) SendMessage(ctx context.Context, channelID, socialID, text string) error {
	return c.post(ctx, "/messages", map[string]any{
		"channel_id": channelID,
		"social_id":  socialID,
		"text":       text,
	})
}

// AddReaction implements ReactionAdder.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID, socialID, reaction string) error {
	return c.post(ctx, "/reactions", map[string]any{
		"channel_id": channelID,
		"message_id": messageID,
		"social_id":  socialID,
		"reaction":   reaction,
	})
}

// SetTyping implements TypingIndicator.
func (c *Client) SetTyping(ctx context.Context, objectID, status string, ttlSeconds int) error {
	return c.post(ctx, "/typing", map[string]any{
		"object_id":   objectID,
		"status":      status,
		"ttl_seconds": ttlSeconds,
	})
}

// ResetTyping implements TypingIndicator.
func (c *Client) ResetTyping(ctx context.Context, objectID string) error {
	return c.post(ctx, "/typing/reset", map[string]any{
		"object_id": objectID,
	})
}

func (c *Client) post(ctx context.Context, path string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, errBody)
	}
	return nil
}
