package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/task"
)

func newDoneTask(t *testing.T, st *store.Store) int64 {
	t.Helper()
	tk := task.New(task.KindFollowChat)
	if err := st.CreateTask(tk, nil); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := st.MarkTaskDone(tk.ID); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	return tk.ID
}

func seedEpisodic(t *testing.T, st *store.Store, names ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		e := &store.Entity{
			Name:         name,
			Type:         store.EntityEpisodic,
			Category:     "topic",
			Importance:   0.8,
			Observations: []string{"seen in " + name},
		}
		if err := st.CreateEntity(e, nil); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
		ids = append(ids, e.ID)
	}
	return ids
}

func countByType(t *testing.T, st *store.Store, typ store.EntityType) int {
	t.Helper()
	entities, err := st.EntitiesByType(typ, 0)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return len(entities)
}

func TestConsolidateDeletesBatchRegardlessOfOutput(t *testing.T) {
	cases := []struct {
		name         string
		response     string
		wantSemantic int
	}{
		{"empty extraction", `[]`, 0},
		{"one entity", `[{"name":"Go","category":"concept","observations":["a language"]}]`, 1},
		{"several entities", `[{"name":"Go","category":"concept"},{"name":"Ada","category":"person"}]`, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &scriptedCompleter{responses: []string{tc.response}}
			engine, st := setupTestEngine(t, nil, provider)
			seedEpisodic(t, st, "e1", "e2", "e3", "e4", "e5")

			if err := engine.Consolidate(context.Background()); err != nil {
				t.Fatalf("consolidate: %v", err)
			}

			if n := countByType(t, st, store.EntityEpisodic); n != 0 {
				t.Errorf("episodic entities remaining = %d, want 0", n)
			}
			if n := countByType(t, st, store.EntitySemantic); n != tc.wantSemantic {
				t.Errorf("semantic entities = %d, want %d", n, tc.wantSemantic)
			}
		})
	}
}

func TestConsolidateSkipsLowImportance(t *testing.T) {
	provider := &scriptedCompleter{responses: []string{`[]`}}
	engine, st := setupTestEngine(t, nil, provider)

	low := &store.Entity{Name: "faint", Type: store.EntityEpisodic, Importance: 0.3}
	if err := st.CreateEntity(low, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := engine.Consolidate(context.Background()); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if provider.calls != 0 {
		t.Error("provider called for a below-threshold batch")
	}
	if n := countByType(t, st, store.EntityEpisodic); n != 1 {
		t.Errorf("low-importance entity deleted: %d remain", n)
	}
}

func TestConsolidateReinforcesExistingSemantic(t *testing.T) {
	provider := &scriptedCompleter{responses: []string{
		`[{"name":"Go","category":"concept","observations":["compiled","garbage collected"]}]`,
	}}
	engine, st := setupTestEngine(t, nil, provider)

	existing := &store.Entity{
		Name:         "Go",
		Type:         store.EntitySemantic,
		Category:     "concept",
		Importance:   0.4,
		Observations: []string{"compiled"},
	}
	if err := st.CreateEntity(existing, nil); err != nil {
		t.Fatalf("seed semantic: %v", err)
	}
	seedEpisodic(t, st, "chat about Go")

	if err := engine.Consolidate(context.Background()); err != nil {
		t.Fatalf("consolidate: %v", err)
	}

	got, err := st.EntityByName("Go", store.EntitySemantic)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if math.Abs(got.Importance-0.6) > 1e-9 {
		t.Errorf("importance = %v, want 0.4*1.5", got.Importance)
	}
	if len(got.Observations) != 2 {
		t.Errorf("observations = %v, want deduplicated merge", got.Observations)
	}
	all, _ := st.EntitiesByType(store.EntitySemantic, 0)
	if len(all) != 1 {
		t.Errorf("duplicate semantic rows: %d", len(all))
	}
}

func TestConsolidateImportanceBoostCapped(t *testing.T) {
	provider := &scriptedCompleter{responses: []string{
		`[{"name":"Go","category":"concept"}]`,
	}}
	engine, st := setupTestEngine(t, nil, provider)

	existing := &store.Entity{Name: "Go", Type: store.EntitySemantic, Importance: 0.9}
	if err := st.CreateEntity(existing, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	seedEpisodic(t, st, "episode")

	if err := engine.Consolidate(context.Background()); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	got, _ := st.EntityByName("Go", store.EntitySemantic)
	if got.Importance != 1.0 {
		t.Errorf("importance = %v, want capped at 1.0", got.Importance)
	}
}

func TestConsolidatePurgesStaleDoneTasks(t *testing.T) {
	provider := &scriptedCompleter{}
	engine, st := setupTestEngine(t, nil, provider)

	// Freeze "now" well in the future so every done task is stale.
	engine.now = func() time.Time { return time.Now().UTC().Add(30 * 24 * time.Hour) }

	tk := newDoneTask(t, st)
	if err := engine.Consolidate(context.Background()); err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if _, err := st.Task(tk); err == nil {
		t.Error("stale done task survived consolidation")
	}
}

func TestMaintainDeletesForgotten(t *testing.T) {
	engine, st := setupTestEngine(t, nil, nil)
	engine.now = func() time.Time { return time.Now().UTC().Add(365 * 24 * time.Hour) }

	forgotten := &store.Entity{Name: "faded", Type: store.EntityEpisodic, Category: "topic", Importance: 0.0}
	if err := st.CreateEntity(forgotten, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	keeper := &store.Entity{Name: "pinned", Type: store.EntitySemantic, Category: "concept", Importance: 1.0}
	if err := st.CreateEntity(keeper, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := engine.Maintain(context.Background()); err != nil {
		t.Fatalf("maintain: %v", err)
	}
	if got, _ := st.EntityByName("faded", store.EntityEpisodic); got != nil {
		t.Error("forgotten entity survived maintenance")
	}
	if got, _ := st.EntityByName("pinned", store.EntitySemantic); got == nil {
		t.Error("important entity deleted by maintenance")
	}
}
