package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/embeddings"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
)

// Embedder turns free text into a fixed-dimension vector.
type Embedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Completer runs a non-streaming model completion. Satisfied by
// llm.ProviderClient.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, prompt string) (string, error)
}

// Engine ties the memory graph to embeddings and the model provider.
type Engine struct {
	store    *store.Store
	embedder Embedder
	provider Completer
	logger   *slog.Logger

	now func() time.Time
}

// NewEngine creates a memory engine.
func NewEngine(st *store.Store, embedder Embedder, provider Completer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    st,
		embedder: embedder,
		provider: provider,
		logger:   logger.With("component", "memory"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// EntityInput is one entity to create or reinforce.
type EntityInput struct {
	Name         string         `json:"name"`
	Type         string         `json:"entity_type"`
	Category     string         `json:"category"`
	Observations []string       `json:"observations"`
	Relations    []RelationSpec `json:"relations,omitempty"`
}

// RelationSpec names a directed edge before resolution. Edges whose
// endpoints cannot be resolved to stored entities are dropped.
type RelationSpec struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"relation_type"`
}

// CreateEntities inserts or reinforces entities of the given type. An
// existing same-named entity gains the new observations and an access
// bump instead of a duplicate row.
func (e *Engine) CreateEntities(ctx context.Context, typ store.EntityType, inputs []EntityInput) error {
	for _, in := range inputs {
		existing, err := e.store.EntityByName(in.Name, typ)
		if err != nil {
			return fmt.Errorf("look up entity %q: %w", in.Name, err)
		}
		if existing != nil {
			if err := e.store.AddObservations(existing.ID, in.Observations); err != nil {
				return fmt.Errorf("reinforce entity %q: %w", in.Name, err)
			}
			if err := e.store.TouchEntities([]int64{existing.ID}); err != nil {
				return err
			}
			continue
		}

		vector, err := e.embed(ctx, in)
		if err != nil {
			return err
		}
		entity := &store.Entity{
			Name:         in.Name,
			Type:         typ,
			Category:     in.Category,
			Importance:   1.0,
			Observations: in.Observations,
			Embedding:    vector,
		}
		relations, err := e.resolveRelations(in.Relations, typ)
		if err != nil {
			return err
		}
		if err := e.store.CreateEntity(entity, relations); err != nil {
			return fmt.Errorf("create entity %q: %w", in.Name, err)
		}
	}
	return nil
}

// resolveRelations maps named edges to entity ids. Unresolvable
// endpoints drop the edge with a debug log rather than failing.
func (e *Engine) resolveRelations(specs []RelationSpec, typ store.EntityType) ([]store.Relation, error) {
	var out []store.Relation
	for _, spec := range specs {
		from, err := e.lookupAnyType(spec.From, typ)
		if err != nil {
			return nil, err
		}
		to, err := e.lookupAnyType(spec.To, typ)
		if err != nil {
			return nil, err
		}
		if from == nil || to == nil {
			e.logger.Debug("dropping unresolvable relation", "from", spec.From, "to", spec.To, "type", spec.Type)
			continue
		}
		out = append(out, store.Relation{FromID: from.ID, ToID: to.ID, Type: spec.Type})
	}
	return out, nil
}

func (e *Engine) lookupAnyType(name string, preferred store.EntityType) (*store.Entity, error) {
	ent, err := e.store.EntityByName(name, preferred)
	if err != nil || ent != nil {
		return ent, err
	}
	other := store.EntitySemantic
	if preferred == store.EntitySemantic {
		other = store.EntityEpisodic
	}
	return e.store.EntityByName(name, other)
}

// SearchResult pairs an entity with its query similarity.
type SearchResult struct {
	Entity     *store.Entity
	Similarity float32
}

// Search embeds the query and returns the top-N entities by vector
// similarity, optionally filtered by type. Ties break on importance,
// then recency. Retrieved entities get an access-count bump.
func (e *Engine) Search(ctx context.Context, query string, typ *store.EntityType, limit int) ([]SearchResult, error) {
	if e.embedder == nil {
		return nil, fmt.Errorf("embeddings not configured")
	}
	vector, err := e.embedder.Generate(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var entities []*store.Entity
	if typ != nil {
		entities, err = e.store.EntitiesByType(*typ, 0)
	} else {
		entities, err = e.store.AllEntities()
	}
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(entities))
	for _, ent := range entities {
		if len(ent.Embedding) == 0 {
			continue
		}
		results = append(results, SearchResult{
			Entity:     ent,
			Similarity: embeddings.CosineSimilarity(vector, ent.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].Entity.Importance != results[j].Entity.Importance {
			return results[i].Entity.Importance > results[j].Entity.Importance
		}
		return results[i].Entity.UpdatedAt.After(results[j].Entity.UpdatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	ids := make([]int64, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Entity.ID)
	}
	if err := e.store.TouchEntities(ids); err != nil {
		return nil, err
	}
	return results, nil
}

// ContextEntries renders the most relevant entities for the ephemeral
// prompt context, one line per entity.
func (e *Engine) ContextEntries(ctx context.Context, query string, limit int) (string, error) {
	if e.embedder == nil || query == "" {
		return "", nil
	}
	results, err := e.Search(ctx, query, nil, limit)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, r := range results {
		fmt.Fprintf(&b, "- [%s/%s] %s: %s\n", r.Entity.Type, r.Entity.Category, r.Entity.Name, strings.Join(r.Entity.Observations, "; "))
	}
	return b.String(), nil
}

func (e *Engine) embed(ctx context.Context, in EntityInput) ([]float32, error) {
	if e.embedder == nil {
		return nil, nil
	}
	text := in.Name
	if len(in.Observations) > 0 {
		text += ": " + strings.Join(in.Observations, ". ")
	}
	vector, err := e.embedder.Generate(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed entity %q: %w", in.Name, err)
	}
	return vector, nil
}
