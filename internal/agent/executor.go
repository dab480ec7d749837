package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/state"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/task"
)

// Executor feeds tasks to the agent one at a time, in FIFO order,
// applying the supersession rules. The multiplexer and the scheduler
// both submit into the same intake channel.
type Executor struct {
	agent  *Agent
	store  *store.Store
	state  *state.State
	intake chan *task.Task
	wake   chan struct{}
	logger *slog.Logger

	mu      sync.Mutex
	pending []*task.Task
	current *task.Task
}

// NewExecutor creates an executor around the agent.
func NewExecutor(a *Agent, st *store.Store, agentState *state.State, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		agent:  a,
		store:  st,
		state:  agentState,
		intake: make(chan *task.Task, 64),
		wake:   make(chan struct{}, 1),
		logger: logger.With("component", "executor"),
	}
}

// Intake returns the channel producers submit tasks to.
func (e *Executor) Intake() chan<- *task.Task {
	return e.intake
}

// Run processes tasks until ctx is cancelled. Pending tasks from a
// previous run are resumed first: their message history is durable, so
// the loop picks up where it stopped.
func (e *Executor) Run(ctx context.Context) error {
	if err := e.resume(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.acceptLoop(ctx)
	}()

	e.workLoop(ctx)
	wg.Wait()
	return ctx.Err()
}

// resume re-enqueues tasks left unfinished by a previous process.
func (e *Executor) resume() error {
	pending, err := e.store.PendingTasks()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	e.mu.Lock()
	for _, t := range pending {
		t.Cancel = task.NewCancelToken()
		e.pending = append(e.pending, t)
	}
	e.mu.Unlock()
	e.state.SetHasNewTasks(true)
	e.notify()
	e.logger.Info("resuming unfinished tasks", "count", len(pending))
	return nil
}

// acceptLoop persists incoming tasks, cancels superseded work, and
// appends to the pending queue.
func (e *Executor) acceptLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-e.intake:
			if !ok {
				return
			}
			if err := e.accept(t); err != nil {
				e.logger.Error("task intake failed", "kind", t.Kind, "error", err)
			}
		}
	}
}

func (e *Executor) accept(t *task.Task) error {
	if t.Cancel == nil {
		t.Cancel = task.NewCancelToken()
	}

	if !t.Routed() {
		seed := msg.User(t.InitialMessage())
		if err := e.store.CreateTask(t, &seed); err != nil {
			return err
		}
	}

	e.mu.Lock()
	if e.current != nil && t.Supersedes(e.current) {
		e.logger.Info("cancelling superseded task", "superseded", e.current.ID, "by", t.ID)
		e.current.Cancel.Cancel()
	}
	kept := e.pending[:0]
	for _, p := range e.pending {
		if t.Supersedes(p) {
			p.Cancel.Cancel()
			continue
		}
		kept = append(kept, p)
	}
	e.pending = append(kept, t)
	e.mu.Unlock()

	e.state.SetHasNewTasks(true)
	e.notify()
	return nil
}

// workLoop executes tasks strictly one at a time.
func (e *Executor) workLoop(ctx context.Context) {
	for {
		t := e.next()
		if t == nil {
			select {
			case <-ctx.Done():
				return
			case <-e.wake:
				continue
			}
		}
		e.runOne(ctx, t)
		if ctx.Err() != nil {
			return
		}
	}
}

// next pops the oldest pending task, marking it current.
func (e *Executor) next() *task.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) == 0 {
		e.state.SetHasNewTasks(false)
		return nil
	}
	t := e.pending[0]
	e.pending = e.pending[1:]
	e.current = t
	return t
}

func (e *Executor) runOne(ctx context.Context, t *task.Task) {
	defer func() {
		e.mu.Lock()
		e.current = nil
		e.mu.Unlock()
	}()

	if t.Cancel.Cancelled() {
		// Superseded before it ever ran.
		if !t.Routed() {
			if err := e.store.MarkTaskDone(t.ID); err != nil {
				e.logger.Error("marking superseded task done failed", "task", t.ID, "error", err)
			}
		}
		return
	}

	st, err := e.agent.Execute(ctx, t)
	if err != nil {
		// Task left non-done; it resumes from its persisted history on
		// the next start.
		e.logger.Error("task failed", "task", t.ID, "kind", t.Kind, "error", err)
		return
	}
	e.logger.Info("task finished", "task", t.ID, "kind", t.Kind, "state", st)
}

func (e *Executor) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
