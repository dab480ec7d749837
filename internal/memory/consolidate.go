package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/prompts"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
)

const (
	// consolidationThreshold selects which episodic entities are worth
	// folding into semantic memory.
	consolidationThreshold = 0.5

	// consolidationBatchSize bounds how many episodic entities go into
	// one extraction prompt.
	consolidationBatchSize = 20

	// semanticContextPerEntity is how many related semantic entities
	// accompany each episodic entity in the prompt.
	semanticContextPerEntity = 3

	// doneTaskRetention is how long finished tasks and their message
	// history stay around before being purged.
	doneTaskRetention = 7 * 24 * time.Hour
)

// Consolidate folds episodic entities above the importance threshold
// into semantic memory, batch by batch. Episodic entities in a
// processed batch are always deleted: they are single-use fuel for
// consolidation. Afterwards, stale done tasks are purged.
func (e *Engine) Consolidate(ctx context.Context) error {
	for {
		batch, err := e.store.EntitiesByType(store.EntityEpisodic, consolidationThreshold)
		if err != nil {
			return fmt.Errorf("select episodic batch: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		if len(batch) > consolidationBatchSize {
			batch = batch[:consolidationBatchSize]
		}
		if err := e.consolidateBatch(ctx, batch); err != nil {
			return err
		}
	}

	cutoff := e.now().Add(-doneTaskRetention)
	purged, err := e.store.PurgeDoneTasks(cutoff)
	if err != nil {
		return err
	}
	if purged > 0 {
		e.logger.Info("purged stale done tasks", "count", purged)
	}
	return nil
}

func (e *Engine) consolidateBatch(ctx context.Context, batch []*store.Entity) error {
	semanticCtx, err := e.semanticContext(ctx, batch)
	if err != nil {
		return err
	}

	prompt := prompts.Consolidation(renderEntities(batch), renderEntities(semanticByName(semanticCtx)))
	response, err := e.provider.Complete(ctx, prompts.ConsolidationSystem, prompt)
	if err != nil {
		return fmt.Errorf("consolidation completion: %w", err)
	}

	extracted, err := parseExtraction(response)
	if err != nil {
		return fmt.Errorf("parse consolidation response: %w", err)
	}

	for _, in := range extracted {
		if err := e.writeConsolidated(ctx, in, semanticCtx); err != nil {
			return err
		}
	}

	ids := make([]int64, 0, len(batch))
	for _, ent := range batch {
		ids = append(ids, ent.ID)
	}
	if err := e.store.DeleteEntities(ids); err != nil {
		return fmt.Errorf("delete consolidated episodic batch: %w", err)
	}
	e.logger.Info("consolidated episodic batch", "episodic", len(batch), "extracted", len(extracted))
	return nil
}

// semanticContext gathers, for each episodic entity, its most similar
// semantic entities, deduplicated by name across the batch.
func (e *Engine) semanticContext(ctx context.Context, batch []*store.Entity) (map[string]*store.Entity, error) {
	out := map[string]*store.Entity{}
	if e.embedder == nil {
		return out, nil
	}
	typ := store.EntitySemantic
	for _, ent := range batch {
		query := ent.Name
		if len(ent.Observations) > 0 {
			query += ": " + strings.Join(ent.Observations, ". ")
		}
		results, err := e.Search(ctx, query, &typ, semanticContextPerEntity)
		if err != nil {
			return nil, fmt.Errorf("semantic context for %q: %w", ent.Name, err)
		}
		for _, r := range results {
			if _, seen := out[r.Entity.Name]; !seen {
				out[r.Entity.Name] = r.Entity
			}
		}
	}
	return out, nil
}

// writeConsolidated applies the write rules: an extracted entity
// matching a semantic entity from the batch context or storage is
// updated in place with a boosted importance; anything else is created
// fresh at full importance.
func (e *Engine) writeConsolidated(ctx context.Context, in EntityInput, semanticCtx map[string]*store.Entity) error {
	existing := semanticCtx[in.Name]
	if existing == nil {
		var err error
		existing, err = e.store.EntityByName(in.Name, store.EntitySemantic)
		if err != nil {
			return err
		}
	}

	if existing != nil {
		existing.Observations = mergeObservations(existing.Observations, in.Observations)
		existing.Importance = minF(existing.Importance*1.5, 1.0)
		if in.Category != "" {
			existing.Category = in.Category
		}
		vector, err := e.embed(ctx, EntityInput{Name: existing.Name, Observations: existing.Observations})
		if err != nil {
			return err
		}
		if vector != nil {
			existing.Embedding = vector
		}
		if err := e.store.UpdateEntity(existing); err != nil {
			return fmt.Errorf("update semantic entity %q: %w", in.Name, err)
		}
		return nil
	}

	vector, err := e.embed(ctx, in)
	if err != nil {
		return err
	}
	entity := &store.Entity{
		Name:         in.Name,
		Type:         store.EntitySemantic,
		Category:     in.Category,
		Importance:   1.0,
		Observations: in.Observations,
		Embedding:    vector,
	}
	relations, err := e.resolveRelations(in.Relations, store.EntitySemantic)
	if err != nil {
		return err
	}
	if err := e.store.CreateEntity(entity, relations); err != nil {
		return fmt.Errorf("create semantic entity %q: %w", in.Name, err)
	}
	return nil
}

// parseExtraction reads a JSON array of entities from a model
// response, stripping a fenced code block when present. A response
// that fails to parse is an error, never silently dropped.
func parseExtraction(response string) ([]EntityInput, error) {
	text := strings.TrimSpace(response)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	var out []EntityInput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("extraction is not a JSON entity array: %w", err)
	}
	return out, nil
}

func renderEntities(entities []*store.Entity) string {
	var b strings.Builder
	for _, ent := range entities {
		fmt.Fprintf(&b, "- %s (%s): %s\n", ent.Name, ent.Category, strings.Join(ent.Observations, "; "))
	}
	return b.String()
}

func semanticByName(m map[string]*store.Entity) []*store.Entity {
	out := make([]*store.Entity, 0, len(m))
	for _, ent := range m {
		out = append(out, ent)
	}
	return out
}

func mergeObservations(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, o := range existing {
		seen[o] = true
	}
	out := existing
	for _, o := range added {
		if !seen[o] {
			out = append(out, o)
			seen[o] = true
		}
	}
	return out
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
