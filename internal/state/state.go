// Package state holds the process-wide agent state: the credit
// balance, the new-tasks flag, and the lazily created embedding
// client. The execution loop is the balance's only writer; the
// multiplexer owns the new-tasks flag.
package state

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/config"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/embeddings"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
)

// MessageCost is the per-message credit charge applied to every
// assistant or tool message the loop appends.
const MessageCost = 50

// State is the process-wide agent state.
type State struct {
	store  *store.Store
	cfg    *config.Config
	logger *slog.Logger

	balance     atomic.Uint32
	hasNewTasks atomic.Bool

	// Current mood/status set via mood tags.
	mood atomic.Value

	embedderOnce sync.Once
	embedder     *embeddings.Client
}

// New loads agent state from storage, seeding the balance on first
// start.
func New(st *store.Store, cfg *config.Config, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &State{store: st, cfg: cfg, logger: logger.With("component", "state")}

	balance, err := st.Balance()
	if err != nil {
		return nil, err
	}
	if balance == 0 && cfg.Limits.InitialBalance > 0 {
		balance = cfg.Limits.InitialBalance
		if err := st.SetBalance(balance); err != nil {
			return nil, err
		}
	}
	s.balance.Store(balance)
	s.mood.Store("")
	return s, nil
}

// Balance returns the current credit balance.
func (s *State) Balance() uint32 {
	return s.balance.Load()
}

// Charge decrements the balance by cost, saturating at zero, and
// persists the result.
func (s *State) Charge(cost uint32) error {
	current := s.balance.Load()
	next := uint32(0)
	if current > cost {
		next = current - cost
	}
	s.balance.Store(next)
	return s.store.SetBalance(next)
}

// SetHasNewTasks raises or clears the new-tasks flag.
func (s *State) SetHasNewTasks(v bool) {
	s.hasNewTasks.Store(v)
}

// HasNewTasks reports whether unprocessed tasks exist.
func (s *State) HasNewTasks() bool {
	return s.hasNewTasks.Load()
}

// SetMood records the agent's current mood from a stripped mood tag.
func (s *State) SetMood(mood string) {
	s.mood.Store(mood)
}

// Mood returns the agent's current mood, empty when unset.
func (s *State) Mood() string {
	v, _ := s.mood.Load().(string)
	return v
}

// Embedder returns the embedding client, creating it exactly once on
// first use. Returns nil when embeddings are unconfigured.
func (s *State) Embedder() *embeddings.Client {
	if s.cfg.Embeddings.BaseURL == "" {
		return nil
	}
	s.embedderOnce.Do(func() {
		s.embedder = embeddings.New(embeddings.Config{
			BaseURL:   s.cfg.Embeddings.BaseURL,
			APIKey:    s.cfg.Embeddings.APIKey,
			Model:     s.cfg.Embeddings.Model,
			Dimension: s.cfg.Embeddings.Dimension,
		})
	})
	return s.embedder
}

// Store exposes the persistence layer.
func (s *State) Store() *store.Store {
	return s.store
}
