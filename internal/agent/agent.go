// Package agent implements the task execution loop: it drives one
// task at a time against the streaming provider, interleaving tool
// calls, persisting messages, enforcing budgets, and honoring
// cooperative cancellation.
package agent

import (
	"log/slog"
	"time"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/config"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/llm"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/memory"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/platform"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/prompts"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/state"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/task"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/tools"
)

// TaskState is the execution loop's state machine.
type TaskState string

const (
	StateRunning         TaskState = "running"
	StateWaitingProvider TaskState = "waiting_provider"
	StateExecutingTool   TaskState = "executing_tool"
	StateCancelled       TaskState = "cancelled"
	StateCompleted       TaskState = "completed"
	StateSkipped         TaskState = "skipped"
)

// Terminal reports whether the state ends the task.
func (s TaskState) Terminal() bool {
	return s == StateCancelled || s == StateCompleted || s == StateSkipped
}

// Reactions posted on task milestones.
const (
	waitReaction    = "👀"
	failureReaction = "❌"
)

// StatusPublisher broadcasts the agent's mood/status changes.
// Satisfied by presence.Publisher; nil disables publication.
type StatusPublisher interface {
	Publish(status string)
}

// Agent executes tasks. One task runs at a time.
type Agent struct {
	cfg      *config.Config
	state    *state.State
	store    *store.Store
	provider llm.ProviderClient
	registry *tools.Registry
	memory   *memory.Engine
	sender   platform.MessageSender
	reactor  platform.ReactionAdder
	typing   platform.TypingIndicator
	presence StatusPublisher
	logger   *slog.Logger

	now func() time.Time
}

// Options carries the Agent's collaborators.
type Options struct {
	Config   *config.Config
	State    *state.State
	Store    *store.Store
	Provider llm.ProviderClient
	Registry *tools.Registry
	Memory   *memory.Engine
	Sender   platform.MessageSender
	Reactor  platform.ReactionAdder
	Typing   platform.TypingIndicator
	Presence StatusPublisher
	Logger   *slog.Logger
}

// New creates an Agent.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:      opts.Config,
		state:    opts.State,
		store:    opts.Store,
		provider: opts.Provider,
		registry: opts.Registry,
		memory:   opts.Memory,
		sender:   opts.Sender,
		reactor:  opts.Reactor,
		typing:   opts.Typing,
		presence: opts.Presence,
		logger:   logger.With("component", "agent"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// profile parameterizes the shared loop per task flavor. The round
// algorithm itself is identical for every flavor.
type profile struct {
	// cardKeyed tasks persist history under the conversation card
	// rather than the task id.
	cardKeyed bool
	// nudge is extra system-prompt instruction text.
	nudge string
	// reactions enables the waiting/failure reactions.
	reactions bool
	// typing enables the typing indicator on the card.
	typing bool
}

func profileFor(t *task.Task) profile {
	switch t.Kind {
	case task.KindMention, task.KindFollowChat, task.KindDirectQuestion:
		return profile{nudge: prompts.MentionInstructions, reactions: true}
	case task.KindAssistantChat:
		return profile{cardKeyed: true, typing: true}
	case task.KindResearch:
		return profile{nudge: prompts.ResearchInstructions}
	default:
		return profile{}
	}
}
