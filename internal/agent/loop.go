package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/config"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/llm"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/prompts"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/state"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/task"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/tools"
)

// moodTagPattern matches mood tags like <|focused|>. The completion
// sentinel uses the same delimiters, so it is stripped before mood
// extraction.
var moodTagPattern = regexp.MustCompile(`<\|([a-zA-Z\s]+)\|>`)

// complexityTagPattern matches the model's revised complexity
// estimate.
var complexityTagPattern = regexp.MustCompile(`<complexity>(\d+(?:\.\d+)?)</complexity>`)

// errCancelled signals cooperative cancellation at a suspension point.
var errCancelled = errors.New("task cancelled")

// Execute drives one task to a terminal state. Provider and storage
// errors leave the task non-done for retry; everything persisted so
// far survives.
func (a *Agent) Execute(ctx context.Context, t *task.Task) (TaskState, error) {
	switch t.Kind {
	case task.KindSleep:
		if err := a.memory.Consolidate(ctx); err != nil {
			return StateRunning, err
		}
		if err := a.store.MarkTaskDone(t.ID); err != nil {
			return StateRunning, err
		}
		return StateCompleted, nil
	case task.KindMemoryMaintenance:
		if err := a.memory.Maintain(ctx); err != nil {
			return StateRunning, err
		}
		return StateCompleted, nil
	}
	return a.runLoop(ctx, t, profileFor(t))
}

// runLoop is the shared round algorithm for every LLM-driven flavor.
// The flavors differ only through their profile; the loop itself is
// implemented exactly once.
func (a *Agent) runLoop(ctx context.Context, t *task.Task, p profile) (TaskState, error) {
	logger := a.logger.With("task", t.ID, "kind", t.Kind)

	messages, err := a.loadHistory(t, p)
	if err != nil {
		return StateRunning, err
	}

	if p.typing && t.CardID != "" {
		_ = a.typing.SetTyping(ctx, t.CardID, a.state.Mood(), 30)
		defer func() { _ = a.typing.ResetTyping(context.Background(), t.CardID) }()
	}

	started := a.now()
	waitSent := false
	idleRounds := 0
	toolDescs := a.registry.Descriptions()
	system := prompts.System(a.cfg.Platform.PersonName, p.nudge)

	for {
		// Budget check before spending another provider round.
		budget := float64(a.cfg.Limits.StepMultiplier) * t.Complexity
		if float64(len(messages)) > budget {
			logger.Warn("task exceeded step budget", "messages", len(messages), "budget", budget)
			a.react(ctx, t, p, failureReaction)
			if err := a.store.MarkTaskDone(t.ID); err != nil {
				return StateRunning, err
			}
			return StateCancelled, nil
		}

		if !waitSent && a.now().Sub(started) > a.cfg.WaitReaction() {
			a.react(ctx, t, p, waitReaction)
			waitSent = true
		}

		contextStr, err := a.buildContext(ctx, t, messages)
		if err != nil {
			logger.Warn("context build failed, continuing without", "error", err)
			contextStr = ""
		}

		round, err := a.runRound(ctx, t, p, system, contextStr, messages, toolDescs, logger)
		if err != nil {
			if errors.Is(err, errCancelled) {
				// Partial progress is already persisted; the task ends
				// here.
				if err := a.store.MarkTaskDone(t.ID); err != nil {
					return StateRunning, err
				}
				return StateCancelled, nil
			}
			return StateRunning, err
		}
		messages = append(messages, round.appended...)

		if a.cfg.Limits.BalanceEnabled && round.assistantCount > 0 {
			if err := a.state.Charge(uint32(round.assistantCount) * state.MessageCost); err != nil {
				return StateRunning, err
			}
		}

		if round.complexity > 0 && round.complexity != t.Complexity {
			t.Complexity = round.complexity
			if err := a.store.UpdateTaskComplexity(t.ID, t.Complexity); err != nil {
				return StateRunning, err
			}
		}

		if round.completed {
			if err := a.finish(ctx, t); err != nil {
				return StateRunning, err
			}
			return StateCompleted, nil
		}

		if len(round.appended) == 0 {
			idleRounds++
			if idleRounds >= maxIdleRounds(a.cfg) {
				// A provider round that produced nothing is anomalous;
				// break the loop instead of burning credits on retries.
				logger.Warn("zero-progress round, skipping task")
				if err := a.store.MarkTaskDone(t.ID); err != nil {
					return StateRunning, err
				}
				return StateSkipped, nil
			}
		} else {
			idleRounds = 0
		}
	}
}

func maxIdleRounds(cfg *config.Config) int {
	if cfg.Limits.MaxIdleRounds > 0 {
		return cfg.Limits.MaxIdleRounds
	}
	return 1
}

// roundResult is what one provider round produced.
type roundResult struct {
	appended       []msg.Message
	assistantCount int
	completed      bool
	complexity     float64
}

// runRound performs one provider invocation and consumes its streamed
// output: the aggregated text turn is flushed with sentinel and mood
// handling, then tool calls are dispatched and answered in order.
// Every appended message is persisted before the round returns.
// Cancellation is checked at the two suspension points: awaiting the
// provider stream and awaiting each tool call.
func (a *Agent) runRound(ctx context.Context, t *task.Task, p profile, system, contextStr string, messages []msg.Message, toolDescs []llm.ToolDescription, logger *slog.Logger) (roundResult, error) {
	var round roundResult

	if t.Cancel != nil && t.Cancel.Cancelled() {
		return round, errCancelled
	}

	// Cancel the in-flight provider call when the token fires.
	callCtx, cancelCall := context.WithCancel(ctx)
	defer cancelCall()
	if t.Cancel != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-t.Cancel.Done():
				cancelCall()
			case <-stop:
			}
		}()
	}

	stream, err := a.provider.SendMessages(callCtx, system, contextStr, messages, toolDescs)
	if err != nil {
		if t.Cancel != nil && t.Cancel.Cancelled() {
			return round, errCancelled
		}
		return round, err
	}
	defer stream.Close()

	acc := llm.NewAccumulator()
	for {
		ev, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if t.Cancel != nil && t.Cancel.Cancelled() {
				return round, errCancelled
			}
			return round, err
		}
		acc.Add(ev)
	}

	calls := acc.ToolCalls()

	// At most one text turn, before any tool calls. An empty text turn
	// is emitted only when the round produced no tool calls either, so
	// it surfaces as zero progress upstream.
	text := acc.Text()
	flushed, completed, complexity := a.flushText(text)
	round.completed = completed
	round.complexity = complexity
	if flushed != "" {
		m := msg.Assistant(flushed)
		if err := a.persist(t, p, m, logger); err != nil {
			return round, err
		}
		round.appended = append(round.appended, m)
		round.assistantCount++
	}

	for _, call := range calls {
		callMsg := msg.ToolCallMsg(call)
		if err := a.persist(t, p, callMsg, logger); err != nil {
			return round, err
		}
		round.appended = append(round.appended, callMsg)
		round.assistantCount++

		if t.Cancel != nil && t.Cancel.Cancelled() {
			return round, errCancelled
		}

		result, err := a.registry.Call(callCtx, call.Name, call.Arguments)
		switch {
		case errors.Is(err, tools.ErrUnknownTool):
			// Absence is not a dispatch error; the model gets told.
			result = msg.TextResult(prompts.UnknownTool(call.Name))
		case err != nil:
			if t.Cancel != nil && t.Cancel.Cancelled() {
				return round, errCancelled
			}
			logger.Warn("tool call failed", "tool", call.Name, "error", err)
			result = msg.TextResult(prompts.ToolError(call.Name, err))
		}

		resultMsg := msg.ToolResultMsg(call.ID, result)
		if err := a.persist(t, p, resultMsg, logger); err != nil {
			return round, err
		}
		round.appended = append(round.appended, resultMsg)
	}

	return round, nil
}

// flushText applies sentinel detection, complexity extraction, and
// mood-tag stripping to an aggregated text turn.
func (a *Agent) flushText(text string) (flushed string, completed bool, complexity float64) {
	if strings.Contains(text, prompts.CompletionSentinel) {
		completed = true
		text = strings.ReplaceAll(text, prompts.CompletionSentinel, "")
	}
	if strings.Contains(text, prompts.AttemptCompletionSentinel) {
		completed = true
		text = strings.ReplaceAll(text, prompts.AttemptCompletionSentinel, "")
	}

	if m := complexityTagPattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			complexity = v
		}
		text = complexityTagPattern.ReplaceAllString(text, "")
	}

	for _, m := range moodTagPattern.FindAllStringSubmatch(text, -1) {
		mood := strings.TrimSpace(m[1])
		a.state.SetMood(mood)
		if a.presence != nil {
			a.presence.Publish(mood)
		}
	}
	text = moodTagPattern.ReplaceAllString(text, "")

	return strings.TrimSpace(text), completed, complexity
}

// loadHistory loads the task's message sequence and runs the two
// allowed rewrites: integrity pruning and image externalization. A
// rewrite is persisted before the loop continues. An empty sequence is
// seeded with the task's initial message.
func (a *Agent) loadHistory(t *task.Task, p profile) ([]msg.Message, error) {
	var (
		messages []msg.Message
		err      error
	)
	if p.cardKeyed {
		messages, err = a.store.AssistantMessages(t.CardID)
	} else {
		messages, err = a.store.TaskMessages(t.ID)
	}
	if err != nil {
		return nil, err
	}

	pruned, changed := msg.PruneOrphanedToolCalls(messages)
	externalized, rewrote, err := msg.ExternalizeImages(a.cfg.Workspace.Path, pruned)
	if err != nil {
		return nil, err
	}
	if changed || rewrote {
		if p.cardKeyed {
			err = a.store.ReplaceAssistantMessages(t.CardID, externalized)
		} else {
			err = a.store.ReplaceTaskMessages(t.ID, externalized)
		}
		if err != nil {
			return nil, err
		}
	}
	messages = externalized

	if len(messages) == 0 {
		seed := msg.User(t.InitialMessage())
		if err := a.persist(t, p, seed, a.logger); err != nil {
			return nil, err
		}
		messages = append(messages, seed)
	}
	return messages, nil
}

// persist appends one message to the task's history and traces it.
func (a *Agent) persist(t *task.Task, p profile, m msg.Message, logger *slog.Logger) error {
	var err error
	if p.cardKeyed {
		err = a.store.AppendAssistantMessage(t.CardID, m)
	} else {
		err = a.store.AppendTaskMessage(t.ID, m)
	}
	if err != nil {
		return err
	}
	logger.Log(context.Background(), config.LevelTrace, "message persisted",
		"marker", traceMarker(m), "text", m.Text())
	return nil
}

// traceMarker tags trace lines by author: person, model, or tool
// machinery.
func traceMarker(m msg.Message) string {
	switch {
	case m.Role == msg.RoleAssistant && len(m.ToolCalls()) > 0:
		return "⚙️"
	case m.Role == msg.RoleAssistant:
		return "🤖"
	case len(m.ToolResultIDs()) > 0:
		return "⚙️"
	default:
		return "👨"
	}
}

// react posts a reaction on the originating message when the profile
// allows it. Reaction failures are logged, never fatal.
func (a *Agent) react(ctx context.Context, t *task.Task, p profile, reaction string) {
	if !p.reactions || t.ChannelID == "" || t.MessageID == "" {
		return
	}
	if err := a.reactor.AddReaction(ctx, t.ChannelID, t.MessageID, a.cfg.Platform.SocialID, reaction); err != nil {
		a.logger.Warn("reaction failed", "reaction", reaction, "error", err)
	}
}

// finish marks the task done and, for follow tasks, hands the
// transcript to memory extraction.
func (a *Agent) finish(ctx context.Context, t *task.Task) error {
	if err := a.store.MarkTaskDone(t.ID); err != nil {
		return err
	}
	if t.Kind == task.KindFollowChat && t.Content != "" {
		if err := a.memory.ExtractFromTranscript(ctx, t.Content); err != nil {
			a.logger.Warn("transcript extraction failed", "task", t.ID, "error", err)
		}
	}
	return nil
}
