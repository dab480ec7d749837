package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/httpkit"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1/chat/completions"

// OpenRouterClient talks to an OpenAI-compatible chat completions
// endpoint with SSE streaming.
type OpenRouterClient struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

// OpenRouterOption configures an OpenRouterClient.
type OpenRouterOption func(*OpenRouterClient)

// WithBaseURL overrides the completions endpoint, mainly for tests.
func WithBaseURL(u string) OpenRouterOption {
	return func(c *OpenRouterClient) { c.baseURL = u }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) OpenRouterOption {
	return func(c *OpenRouterClient) { c.maxTokens = n }
}

// NewOpenRouterClient creates a provider client for the given model.
func NewOpenRouterClient(apiKey, model string, logger *slog.Logger, opts ...OpenRouterOption) *OpenRouterClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Long prompts can stall before headers arrive. Streaming bodies
	// are long-lived, so the client itself carries no global timeout;
	// callers control lifetime via ctx.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	c := &OpenRouterClient{
		baseURL: defaultOpenRouterURL,
		apiKey:  apiKey,
		model:   model,
		logger:  logger.With("provider", "openrouter"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type wireRequest struct {
	Model     string        `json:"model"`
	Messages  []wireMessage `json:"messages"`
	Tools     []wireTool    `json:"tools,omitempty"`
	Stream    bool          `json:"stream"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Usage     *struct {
		Include bool `json:"include"`
	} `json:"usage,omitempty"`
}

// SendMessages implements ProviderClient.
func (c *OpenRouterClient) SendMessages(ctx context.Context, systemPrompt, contextStr string, messages []msg.Message, tools []ToolDescription) (Stream, error) {
	wire := c.buildWire(systemPrompt, contextStr, messages, tools, true)
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "completion request", "body", string(body))

	resp, err := c.post(ctx, body, "text/event-stream")
	if err != nil {
		return nil, err
	}
	return &sseStream{body: resp.Body, scanner: newSSEScanner(resp.Body), logger: c.logger}, nil
}

// Complete implements ProviderClient.
func (c *OpenRouterClient) Complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	wire := c.buildWire(systemPrompt, "", []msg.Message{msg.User(prompt)}, nil, false)
	body, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}
	resp, err := c.post(ctx, body, "application/json")
	if err != nil {
		return "", err
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	content := gjson.GetBytes(raw, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("completion response has no content: %s", truncate(string(raw), 200))
	}
	return content.String(), nil
}

func (c *OpenRouterClient) post(ctx context.Context, body []byte, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return nil, fmt.Errorf("completion request: status %d: %s", resp.StatusCode, errBody)
	}
	return resp, nil
}

func (c *OpenRouterClient) buildWire(systemPrompt, contextStr string, messages []msg.Message, tools []ToolDescription, stream bool) wireRequest {
	var wire []wireMessage
	if systemPrompt != "" {
		wire = append(wire, wireMessage{Role: "system", Content: systemPrompt})
	}
	contextPending := contextStr
	for _, m := range messages {
		converted := convertMessage(m)
		// The ephemeral context rides on the first user message so it
		// never enters the persisted history.
		if contextPending != "" {
			for i := range converted {
				if converted[i].Role == "user" {
					if s, ok := converted[i].Content.(string); ok {
						converted[i].Content = contextPending + "\n\n" + s
						contextPending = ""
					}
					break
				}
			}
		}
		wire = append(wire, converted...)
	}

	req := wireRequest{
		Model:     c.model,
		Messages:  wire,
		Stream:    stream,
		MaxTokens: c.maxTokens,
	}
	if stream {
		req.Usage = &struct {
			Include bool `json:"include"`
		}{Include: true}
	}
	for _, t := range tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = t.Name
		wt.Function.Description = t.Description
		wt.Function.Parameters = t.Parameters
		req.Tools = append(req.Tools, wt)
	}
	return req
}

// convertMessage maps one conversation message to its wire shape. Tool
// results become role=tool messages; media blocks become data URLs.
func convertMessage(m msg.Message) []wireMessage {
	switch m.Role {
	case msg.RoleAssistant:
		out := wireMessage{Role: "assistant"}
		var text string
		for _, c := range m.Assistant {
			switch c.Kind {
			case msg.AssistantText:
				text += c.Text
			case msg.AssistantToolCall:
				if c.ToolCall == nil {
					continue
				}
				var wc wireToolCall
				wc.ID = c.ToolCall.ID
				wc.Type = "function"
				wc.Function.Name = c.ToolCall.Name
				wc.Function.Arguments = string(c.ToolCall.Arguments)
				out.ToolCalls = append(out.ToolCalls, wc)
			}
		}
		if text != "" {
			out.Content = text
		}
		return []wireMessage{out}

	case msg.RoleUser:
		var out []wireMessage
		var parts []wireContentPart
		for _, c := range m.User {
			switch c.Kind {
			case msg.UserText:
				parts = append(parts, wireContentPart{Type: "text", Text: c.Text})
			case msg.UserImage:
				if c.Media == nil {
					continue
				}
				p := wireContentPart{Type: "image_url"}
				p.ImageURL = &struct {
					URL string `json:"url"`
				}{URL: "data:" + c.Media.Format + ";base64," + c.Media.Data}
				parts = append(parts, p)
			case msg.UserAudio, msg.UserDocument:
				// Not supported on this wire; surfaced as a marker so
				// the history stays coherent.
				parts = append(parts, wireContentPart{Type: "text", Text: "[unsupported media attachment]"})
			case msg.UserToolResult:
				out = append(out, wireMessage{
					Role:       "tool",
					ToolCallID: c.ToolCallID,
					Content:    flattenResult(c.Result),
				})
			}
		}
		if len(parts) > 0 {
			var content any
			if len(parts) == 1 && parts[0].Type == "text" {
				content = parts[0].Text
			} else {
				content = parts
			}
			out = append([]wireMessage{{Role: "user", Content: content}}, out...)
		}
		return out
	}
	return nil
}

func flattenResult(result []msg.ToolResultContent) string {
	var out string
	for _, r := range result {
		switch r.Kind {
		case msg.ResultText:
			out += r.Text
		case msg.ResultImage:
			out += "[image]"
		}
	}
	return out
}

// sseStream reads OpenAI-style SSE chunks and yields StreamEvents.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	pending []StreamEvent
	done    bool
	logger  *slog.Logger
}

func newSSEScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	// Tool-call argument chunks can be large.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

// Recv implements Stream.
func (s *sseStream) Recv() (StreamEvent, error) {
	for {
		if len(s.pending) > 0 {
			ev := s.pending[0]
			s.pending = s.pending[1:]
			return ev, nil
		}
		if s.done {
			return StreamEvent{}, io.EOF
		}
		if !s.scanner.Scan() {
			s.done = true
			if err := s.scanner.Err(); err != nil {
				return StreamEvent{}, fmt.Errorf("read stream: %w", err)
			}
			return StreamEvent{}, io.EOF
		}
		line := strings.TrimSpace(s.scanner.Text())
		// Keepalive comments (": OPENROUTER PROCESSING") and blank
		// separators are skipped.
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return StreamEvent{}, io.EOF
		}
		s.pending = parseChunk(data)
	}
}

// Close implements Stream.
func (s *sseStream) Close() error {
	httpkit.DrainAndClose(s.body, 4096)
	return nil
}

// parseChunk converts one SSE data payload into stream events. A
// malformed chunk yields no events rather than failing the stream.
func parseChunk(data string) []StreamEvent {
	if !gjson.Valid(data) {
		return nil
	}
	var events []StreamEvent
	delta := gjson.Get(data, "choices.0.delta")

	if content := delta.Get("content"); content.Exists() && content.String() != "" {
		events = append(events, StreamEvent{Kind: KindText, Text: content.String()})
	}
	delta.Get("tool_calls").ForEach(func(_, tc gjson.Result) bool {
		frag := &ToolCallFragment{
			Index:     int(tc.Get("index").Int()),
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: tc.Get("function.arguments").String(),
		}
		events = append(events, StreamEvent{Kind: KindToolCallFragment, ToolCall: frag})
		return true
	})
	if usage := gjson.Get(data, "usage"); usage.IsObject() {
		events = append(events, StreamEvent{Kind: KindUsage, Usage: &Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
		}})
	}
	return events
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
