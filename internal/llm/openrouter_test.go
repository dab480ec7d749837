package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
)

func sseBody(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("data: " + l + "\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func newStreamServer(t *testing.T, body string, capture *wireRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if capture != nil {
			raw, _ := io.ReadAll(r.Body)
			if err := json.Unmarshal(raw, capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
}

func drainStream(t *testing.T, s Stream) *Accumulator {
	t.Helper()
	acc := NewAccumulator()
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		acc.Add(ev)
	}
	return acc
}

func TestSendMessagesStreamsTextAndCalls(t *testing.T) {
	body := sseBody(
		`{"choices":[{"delta":{"content":"Hello"}}]}`,
		`{"choices":[{"delta":{"content":" world"}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"send_message","arguments":"{\"text\":"}}]}}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"hi\"}"}}]}}]}`,
		`{"usage":{"prompt_tokens":12,"completion_tokens":7,"total_tokens":19}}`,
	)
	var req wireRequest
	srv := newStreamServer(t, body, &req)
	defer srv.Close()

	c := NewOpenRouterClient("test-key", "test-model", nil, WithBaseURL(srv.URL))
	stream, err := c.SendMessages(context.Background(), "be useful", "ctx block", []msg.Message{msg.User("hello")}, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer stream.Close()

	acc := drainStream(t, stream)
	if got := acc.Text(); got != "Hello world" {
		t.Errorf("text = %q", got)
	}
	calls := acc.ToolCalls()
	if len(calls) != 1 || calls[0].Name != "send_message" {
		t.Fatalf("calls = %+v", calls)
	}
	if string(calls[0].Arguments) != `{"text":"hi"}` {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
	if u := acc.Usage(); u == nil || u.TotalTokens != 19 {
		t.Errorf("usage = %+v", u)
	}

	// The system prompt leads and the context rides on the first user
	// message, never as its own persisted turn.
	if req.Model != "test-model" || !req.Stream {
		t.Errorf("model=%q stream=%v", req.Model, req.Stream)
	}
	if len(req.Messages) < 2 || req.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", req.Messages)
	}
}

func TestSendMessagesSkipsKeepalives(t *testing.T) {
	body := ": keepalive\n\n" + sseBody(`{"choices":[{"delta":{"content":"ok"}}]}`)
	srv := newStreamServer(t, body, nil)
	defer srv.Close()

	c := NewOpenRouterClient("test-key", "m", nil, WithBaseURL(srv.URL))
	stream, err := c.SendMessages(context.Background(), "", "", []msg.Message{msg.User("x")}, nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	defer stream.Close()

	if got := drainStream(t, stream).Text(); got != "ok" {
		t.Errorf("text = %q", got)
	}
}

func TestSendMessagesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOpenRouterClient("test-key", "m", nil, WithBaseURL(srv.URL))
	_, err := c.SendMessages(context.Background(), "", "", []msg.Message{msg.User("x")}, nil)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"content":"forty-two"}}]}`)
	}))
	defer srv.Close()

	c := NewOpenRouterClient("test-key", "m", nil, WithBaseURL(srv.URL))
	got, err := c.Complete(context.Background(), "sys", "question")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != "forty-two" {
		t.Errorf("got %q", got)
	}
}
