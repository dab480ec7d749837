package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/memory"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
)

// memoryOp enumerates the memory tool's operations. One handler
// serves the whole family.
type memoryOp string

const (
	opCreateEntities     memoryOp = "create_entities"
	opCreateRelations    memoryOp = "create_relations"
	opAddObservations    memoryOp = "add_observations"
	opDeleteEntities     memoryOp = "delete_entities"
	opDeleteObservations memoryOp = "delete_observations"
	opDeleteRelations    memoryOp = "delete_relations"
	opSearchNodes        memoryOp = "search_nodes"
)

type memoryArgs struct {
	Operation memoryOp `json:"operation"`

	Entities  []memory.EntityInput  `json:"entities,omitempty"`
	Relations []memory.RelationSpec `json:"relations,omitempty"`
	Names     []string              `json:"names,omitempty"`

	// Name and Observations serve add/delete_observations.
	Name         string   `json:"name,omitempty"`
	Observations []string `json:"observations,omitempty"`

	// Query and Limit serve search_nodes.
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// RegisterMemory adds the memory tool backed by the given engine and
// store.
func RegisterMemory(r *Registry, engine *memory.Engine, st *store.Store) {
	r.Register(&Tool{
		Name: "memory",
		Description: "Work with your long-term memory graph of entities, observations, and relations. " +
			"Operations: create_entities, create_relations, add_observations, delete_entities, " +
			"delete_observations, delete_relations, search_nodes.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"operation": map[string]any{
					"type": "string",
					"enum": []string{
						string(opCreateEntities), string(opCreateRelations), string(opAddObservations),
						string(opDeleteEntities), string(opDeleteObservations), string(opDeleteRelations),
						string(opSearchNodes),
					},
				},
				"entities": map[string]any{
					"type":        "array",
					"description": "Entities for create_entities: {name, category, observations[]}.",
					"items":       map[string]any{"type": "object"},
				},
				"relations": map[string]any{
					"type":        "array",
					"description": "Edges for create_relations/delete_relations: {from, to, relation_type}.",
					"items":       map[string]any{"type": "object"},
				},
				"names": map[string]any{
					"type":        "array",
					"description": "Entity names for delete_entities.",
					"items":       map[string]any{"type": "string"},
				},
				"name": map[string]any{
					"type":        "string",
					"description": "Entity name for add_observations/delete_observations.",
				},
				"observations": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"query": map[string]any{
					"type":        "string",
					"description": "Free-text query for search_nodes.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum results for search_nodes (default 10).",
				},
			},
			"required": []string{"operation"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) ([]msg.ToolResultContent, error) {
			var args memoryArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("parse memory arguments: %w", err)
			}
			return handleMemory(ctx, engine, st, args)
		},
	})
}

func handleMemory(ctx context.Context, engine *memory.Engine, st *store.Store, args memoryArgs) ([]msg.ToolResultContent, error) {
	switch args.Operation {
	case opCreateEntities:
		if err := engine.CreateEntities(ctx, store.EntitySemantic, args.Entities); err != nil {
			return nil, err
		}
		return msg.TextResult(fmt.Sprintf("Stored %d entities.", len(args.Entities))), nil

	case opCreateRelations:
		created := 0
		for _, spec := range args.Relations {
			from, err := st.EntityByName(spec.From, store.EntitySemantic)
			if err != nil {
				return nil, err
			}
			to, err := st.EntityByName(spec.To, store.EntitySemantic)
			if err != nil {
				return nil, err
			}
			if from == nil || to == nil {
				continue
			}
			if err := st.CreateRelation(store.Relation{FromID: from.ID, ToID: to.ID, Type: spec.Type}); err != nil {
				return nil, err
			}
			created++
		}
		return msg.TextResult(fmt.Sprintf("Created %d relations.", created)), nil

	case opAddObservations:
		ent, err := st.EntityByName(args.Name, store.EntitySemantic)
		if err != nil {
			return nil, err
		}
		if ent == nil {
			return msg.TextResult(fmt.Sprintf("No entity named %q.", args.Name)), nil
		}
		if err := st.AddObservations(ent.ID, args.Observations); err != nil {
			return nil, err
		}
		return msg.TextResult(fmt.Sprintf("Added %d observations to %q.", len(args.Observations), args.Name)), nil

	case opDeleteEntities:
		for _, name := range args.Names {
			if err := st.DeleteEntityByName(name, store.EntitySemantic); err != nil {
				return nil, err
			}
		}
		return msg.TextResult(fmt.Sprintf("Deleted %d entities.", len(args.Names))), nil

	case opDeleteObservations:
		ent, err := st.EntityByName(args.Name, store.EntitySemantic)
		if err != nil {
			return nil, err
		}
		if ent == nil {
			return msg.TextResult(fmt.Sprintf("No entity named %q.", args.Name)), nil
		}
		doomed := make(map[string]bool, len(args.Observations))
		for _, o := range args.Observations {
			doomed[o] = true
		}
		kept := ent.Observations[:0]
		for _, o := range ent.Observations {
			if !doomed[o] {
				kept = append(kept, o)
			}
		}
		ent.Observations = kept
		if err := st.UpdateEntity(ent); err != nil {
			return nil, err
		}
		return msg.TextResult(fmt.Sprintf("Removed observations from %q.", args.Name)), nil

	case opDeleteRelations:
		deleted := 0
		for _, spec := range args.Relations {
			from, err := st.EntityByName(spec.From, store.EntitySemantic)
			if err != nil {
				return nil, err
			}
			to, err := st.EntityByName(spec.To, store.EntitySemantic)
			if err != nil {
				return nil, err
			}
			if from == nil || to == nil {
				continue
			}
			if err := st.DeleteRelation(store.Relation{FromID: from.ID, ToID: to.ID, Type: spec.Type}); err != nil {
				return nil, err
			}
			deleted++
		}
		return msg.TextResult(fmt.Sprintf("Deleted %d relations.", deleted)), nil

	case opSearchNodes:
		limit := args.Limit
		if limit <= 0 {
			limit = 10
		}
		results, err := engine.Search(ctx, args.Query, nil, limit)
		if err != nil {
			return nil, err
		}
		if len(results) == 0 {
			return msg.TextResult("No matching memories."), nil
		}
		var b strings.Builder
		for _, res := range results {
			fmt.Fprintf(&b, "- [%s/%s] %s: %s\n", res.Entity.Type, res.Entity.Category, res.Entity.Name,
				strings.Join(res.Entity.Observations, "; "))
		}
		return msg.TextResult(b.String()), nil
	}
	return nil, fmt.Errorf("unknown memory operation %q", args.Operation)
}
