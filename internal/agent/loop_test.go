package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/config"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/llm"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/memory"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/presence"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/prompts"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/state"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/task"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/tools"
)

// fakeStream replays a fixed event sequence.
type fakeStream struct {
	events []llm.StreamEvent
	pos    int
}

func (f *fakeStream) Recv() (llm.StreamEvent, error) {
	if f.pos >= len(f.events) {
		return llm.StreamEvent{}, io.EOF
	}
	ev := f.events[f.pos]
	f.pos++
	return ev, nil
}

func (f *fakeStream) Close() error { return nil }

// fakeProvider returns one scripted stream per round, then empty
// completion-sentinel streams.
type fakeProvider struct {
	mu      sync.Mutex
	rounds  [][]llm.StreamEvent
	call    int
	replies []string
}

func (f *fakeProvider) SendMessages(ctx context.Context, systemPrompt, contextStr string, messages []msg.Message, descs []llm.ToolDescription) (llm.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.call >= len(f.rounds) {
		return &fakeStream{events: []llm.StreamEvent{{Kind: llm.KindText, Text: prompts.CompletionSentinel}}}, nil
	}
	events := f.rounds[f.call]
	f.call++
	return &fakeStream{events: events}, nil
}

func (f *fakeProvider) Complete(ctx context.Context, systemPrompt, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return "[]", nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

// recordingSender captures sent messages.
type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) SendMessage(ctx context.Context, channelID, socialID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

// recordingReactor captures reactions.
type recordingReactor struct {
	mu        sync.Mutex
	reactions []string
}

func (r *recordingReactor) AddReaction(ctx context.Context, channelID, messageID, socialID, reaction string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions = append(r.reactions, reaction)
	return nil
}

type nopTyping struct{}

func (nopTyping) SetTyping(ctx context.Context, objectID, status string, ttlSeconds int) error {
	return nil
}
func (nopTyping) ResetTyping(ctx context.Context, objectID string) error { return nil }

type testAgent struct {
	agent    *Agent
	store    *store.Store
	state    *state.State
	provider *fakeProvider
	sender   *recordingSender
	reactor  *recordingReactor
}

func setupTestAgent(t *testing.T, cfg *config.Config, provider *fakeProvider) *testAgent {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	st, err := store.NewWithDB(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if cfg == nil {
		cfg = config.Default()
	}
	agentState, err := state.New(st, cfg, nil)
	if err != nil {
		t.Fatalf("new state: %v", err)
	}

	sender := &recordingSender{}
	reactor := &recordingReactor{}
	registry := tools.NewRegistry()
	tools.RegisterMessaging(registry, sender, reactor, "self-id")

	engine := memory.NewEngine(st, nil, provider, nil)

	a := New(Options{
		Config:   cfg,
		State:    agentState,
		Store:    st,
		Provider: provider,
		Registry: registry,
		Memory:   engine,
		Sender:   sender,
		Reactor:  reactor,
		Typing:   nopTyping{},
	})
	return &testAgent{agent: a, store: st, state: agentState, provider: provider, sender: sender, reactor: reactor}
}

func textEvent(text string) llm.StreamEvent {
	return llm.StreamEvent{Kind: llm.KindText, Text: text}
}

func callEvent(id, name, args string) llm.StreamEvent {
	return llm.StreamEvent{Kind: llm.KindToolCallFragment, ToolCall: &llm.ToolCallFragment{
		Index: 0, ID: id, Name: name, Arguments: args,
	}}
}

func newStoredTask(t *testing.T, st *store.Store, kind task.Kind) *task.Task {
	t.Helper()
	tk := task.New(kind)
	tk.PersonName = "Ada"
	tk.Content = "hello"
	seed := msg.User(tk.InitialMessage())
	if err := st.CreateTask(tk, &seed); err != nil {
		t.Fatalf("create task: %v", err)
	}
	return tk
}

func TestExecuteTextAndToolRound(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.BalanceEnabled = true
	provider := &fakeProvider{rounds: [][]llm.StreamEvent{
		{
			textEvent("hi"),
			callEvent("call_1", "send_message", `{"channel_id":"ch-1","text":"hello there"}`),
		},
		{textEvent(prompts.CompletionSentinel)},
	}}
	ta := setupTestAgent(t, cfg, provider)
	tk := newStoredTask(t, ta.store, task.KindDirectQuestion)

	final, err := ta.agent.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if final != StateCompleted {
		t.Fatalf("state = %v, want completed", final)
	}

	if len(ta.sender.sent) != 1 || ta.sender.sent[0] != "hello there" {
		t.Errorf("sent = %v", ta.sender.sent)
	}

	// History: seed, assistant text, tool call, tool result, plus the
	// final (empty after sentinel strip) round appended nothing.
	messages, err := ta.store.TaskMessages(tk.ID)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(messages) != 4 {
		t.Fatalf("history length = %d, want 4: %+v", len(messages), messages)
	}
	if messages[1].Text() != "hi" {
		t.Errorf("assistant text = %q", messages[1].Text())
	}
	if calls := messages[2].ToolCalls(); len(calls) != 1 || calls[0].Name != "send_message" {
		t.Errorf("tool call turn = %+v", messages[2])
	}
	if ids := messages[3].ToolResultIDs(); len(ids) != 1 || ids[0] != "call_1" {
		t.Errorf("tool result turn = %+v", messages[3])
	}

	// Two assistant messages were charged.
	wantBalance := cfg.Limits.InitialBalance - 2*state.MessageCost
	if got := ta.state.Balance(); got != wantBalance {
		t.Errorf("balance = %d, want %d", got, wantBalance)
	}

	loaded, err := ta.store.Task(tk.ID)
	if err != nil {
		t.Fatalf("load task: %v", err)
	}
	if !loaded.Done {
		t.Error("completed task not marked done")
	}
}

func TestExecuteBudgetCancels(t *testing.T) {
	cfg := config.Default()
	cfg.Limits.StepMultiplier = 2
	// Text-only rounds so each round appends exactly one message.
	provider := &fakeProvider{rounds: [][]llm.StreamEvent{
		{textEvent("still thinking")},
		{textEvent("more thinking")},
		{textEvent("even more")},
	}}
	ta := setupTestAgent(t, cfg, provider)

	tk := newStoredTask(t, ta.store, task.KindMention)
	tk.ChannelID = "ch-1"
	tk.MessageID = "msg-1"
	tk.Complexity = 1 // budget: 2 messages

	final, err := ta.agent.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if final != StateCancelled {
		t.Fatalf("state = %v, want cancelled", final)
	}

	// Seed passes the check (1 <= 2); after two rounds the count is 3
	// and round three is never requested.
	if provider.call != 2 {
		t.Errorf("provider rounds = %d, want 2", provider.call)
	}
	if len(ta.reactor.reactions) == 0 || ta.reactor.reactions[len(ta.reactor.reactions)-1] != failureReaction {
		t.Errorf("reactions = %v, want trailing %s", ta.reactor.reactions, failureReaction)
	}
	loaded, _ := ta.store.Task(tk.ID)
	if !loaded.Done {
		t.Error("cancelled task not marked done")
	}
}

func TestExecuteWaitReactionSentOnce(t *testing.T) {
	provider := &fakeProvider{rounds: [][]llm.StreamEvent{
		{textEvent("still digging")},
		{textEvent("almost there")},
		{textEvent(prompts.CompletionSentinel)},
	}}
	ta := setupTestAgent(t, nil, provider)

	// Fake clock: the first reading anchors the task start, every later
	// reading is past the waiting threshold.
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	ta.agent.now = func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(ta.agent.cfg.WaitReaction() + time.Second)
	}

	tk := newStoredTask(t, ta.store, task.KindMention)
	tk.ChannelID = "ch-1"
	tk.MessageID = "msg-1"

	final, err := ta.agent.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if final != StateCompleted {
		t.Fatalf("state = %v, want completed", final)
	}

	var waits int
	for _, r := range ta.reactor.reactions {
		if r == waitReaction {
			waits++
		}
	}
	if waits != 1 {
		t.Errorf("waiting reaction sent %d times over three rounds, want once: %v", waits, ta.reactor.reactions)
	}
}

func TestExecuteZeroProgressSkips(t *testing.T) {
	provider := &fakeProvider{rounds: [][]llm.StreamEvent{
		{}, // empty stream: no text, no calls
	}}
	ta := setupTestAgent(t, nil, provider)
	tk := newStoredTask(t, ta.store, task.KindDirectQuestion)

	final, err := ta.agent.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if final != StateSkipped {
		t.Fatalf("state = %v, want skipped", final)
	}
}

func TestExecuteCancelledBeforeProviderCall(t *testing.T) {
	provider := &fakeProvider{}
	ta := setupTestAgent(t, nil, provider)
	tk := newStoredTask(t, ta.store, task.KindDirectQuestion)
	tk.Cancel.Cancel()

	final, err := ta.agent.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if final != StateCancelled {
		t.Fatalf("state = %v, want cancelled", final)
	}
	if provider.call != 0 {
		t.Errorf("provider called %d times after cancellation", provider.call)
	}
}

func TestExecuteUnknownToolSynthesizesResult(t *testing.T) {
	provider := &fakeProvider{rounds: [][]llm.StreamEvent{
		{callEvent("call_1", "teleport", `{}`)},
		{textEvent(prompts.CompletionSentinel)},
	}}
	ta := setupTestAgent(t, nil, provider)
	tk := newStoredTask(t, ta.store, task.KindDirectQuestion)

	final, err := ta.agent.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if final != StateCompleted {
		t.Fatalf("state = %v", final)
	}

	messages, _ := ta.store.TaskMessages(tk.ID)
	var resultText string
	for _, m := range messages {
		for _, c := range m.User {
			if c.Kind == msg.UserToolResult {
				for _, r := range c.Result {
					resultText += r.Text
				}
			}
		}
	}
	if resultText != prompts.UnknownTool("teleport") {
		t.Errorf("result = %q, want unknown-tool text", resultText)
	}
}

func TestExecuteRevisesComplexity(t *testing.T) {
	provider := &fakeProvider{rounds: [][]llm.StreamEvent{
		{textEvent("working on it <complexity>25</complexity>")},
		{textEvent(prompts.CompletionSentinel)},
	}}
	ta := setupTestAgent(t, nil, provider)
	tk := newStoredTask(t, ta.store, task.KindDirectQuestion)

	if _, err := ta.agent.Execute(context.Background(), tk); err != nil {
		t.Fatalf("execute: %v", err)
	}
	loaded, _ := ta.store.Task(tk.ID)
	if loaded.Complexity != 25 {
		t.Errorf("complexity = %v, want 25", loaded.Complexity)
	}

	messages, _ := ta.store.TaskMessages(tk.ID)
	if messages[1].Text() != "working on it" {
		t.Errorf("tag not stripped: %q", messages[1].Text())
	}
}

func TestExecuteMoodTagWithNilPresencePointer(t *testing.T) {
	provider := &fakeProvider{rounds: [][]llm.StreamEvent{
		{textEvent("<|focused|> hello " + prompts.CompletionSentinel)},
	}}
	ta := setupTestAgent(t, nil, provider)

	// An unconfigured publisher reaches the agent as a nil *Publisher
	// behind the interface; mood publication must tolerate it.
	var pub *presence.Publisher
	ta.agent.presence = pub

	tk := newStoredTask(t, ta.store, task.KindDirectQuestion)
	final, err := ta.agent.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if final != StateCompleted {
		t.Fatalf("state = %v, want completed", final)
	}
	if got := ta.state.Mood(); got != "focused" {
		t.Errorf("mood = %q, want focused", got)
	}
}

func TestExecuteMoodTagUpdatesState(t *testing.T) {
	provider := &fakeProvider{rounds: [][]llm.StreamEvent{
		{textEvent("<|focused|> digging in " + prompts.CompletionSentinel)},
	}}
	ta := setupTestAgent(t, nil, provider)
	tk := newStoredTask(t, ta.store, task.KindDirectQuestion)

	if _, err := ta.agent.Execute(context.Background(), tk); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := ta.state.Mood(); got != "focused" {
		t.Errorf("mood = %q, want focused", got)
	}
	messages, _ := ta.store.TaskMessages(tk.ID)
	if messages[1].Text() != "digging in" {
		t.Errorf("mood tag not stripped: %q", messages[1].Text())
	}
}

func TestExecuteResearchRunsLoop(t *testing.T) {
	provider := &fakeProvider{rounds: [][]llm.StreamEvent{
		{textEvent("noted. " + prompts.AttemptCompletionSentinel)},
	}}
	ta := setupTestAgent(t, nil, provider)
	tk := newStoredTask(t, ta.store, task.KindResearch)

	final, err := ta.agent.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if final != StateCompleted {
		t.Fatalf("state = %v, want completed", final)
	}
}

func TestExecuteSleepConsolidates(t *testing.T) {
	// One episodic entity above threshold, one consolidation reply.
	provider := &fakeProvider{replies: []string{`[{"name":"Go","category":"concept"}]`}}
	ta := setupTestAgent(t, nil, provider)

	ent := &store.Entity{Name: "chat", Type: store.EntityEpisodic, Importance: 0.9}
	if err := ta.store.CreateEntity(ent, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tk := newStoredTask(t, ta.store, task.KindSleep)

	final, err := ta.agent.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if final != StateCompleted {
		t.Fatalf("state = %v", final)
	}
	if got, _ := ta.store.EntityByName("Go", store.EntitySemantic); got == nil {
		t.Error("consolidation produced no semantic entity")
	}
	if got, _ := ta.store.EntityByName("chat", store.EntityEpisodic); got != nil {
		t.Error("episodic entity survived sleep")
	}
}

func TestLoadHistoryPrunesAndSeeds(t *testing.T) {
	provider := &fakeProvider{}
	ta := setupTestAgent(t, nil, provider)

	tk := newStoredTask(t, ta.store, task.KindDirectQuestion)
	// Append a dangling tool call; loadHistory must repair it.
	dangling := msg.ToolCallMsg(msg.ToolCall{ID: "c1", Name: "noop", Arguments: json.RawMessage(`{}`)})
	if err := ta.store.AppendTaskMessage(tk.ID, dangling); err != nil {
		t.Fatalf("append: %v", err)
	}

	messages, err := ta.agent.loadHistory(tk, profileFor(tk))
	if err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(messages) != 1 || messages[0].Role != msg.RoleUser {
		t.Fatalf("history = %+v, want the seed only", messages)
	}

	// The repair is persisted.
	stored, _ := ta.store.TaskMessages(tk.ID)
	if len(stored) != 1 {
		t.Errorf("stored history = %d messages, want 1", len(stored))
	}
}
