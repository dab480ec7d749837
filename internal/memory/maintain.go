package memory

import (
	"context"
	"fmt"
)

// deleteThreshold is the combined importance below which an entity is
// considered forgotten.
const deleteThreshold = 0.01

// Maintain recomputes the combined importance of every entity and
// deletes the ones that have decayed below the threshold.
func (e *Engine) Maintain(ctx context.Context) error {
	entities, err := e.store.AllEntities()
	if err != nil {
		return err
	}

	now := e.now()
	var doomed []int64
	for _, ent := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		relations, err := e.store.RelationCount(ent.ID)
		if err != nil {
			return err
		}
		score := CalculateImportance(ent.Importance, ent.Category, ent.UpdatedAt, ent.AccessCount, relations, now)
		if score < deleteThreshold {
			doomed = append(doomed, ent.ID)
		}
	}

	if len(doomed) == 0 {
		return nil
	}
	if err := e.store.DeleteEntities(doomed); err != nil {
		return fmt.Errorf("delete forgotten entities: %w", err)
	}
	e.logger.Info("pruned forgotten memories", "count", len(doomed))
	return nil
}
