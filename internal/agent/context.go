package agent

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/prompts"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/task"
)

const (
	// contextMemoryLimit is how many retrieved memories enter the
	// ephemeral context.
	contextMemoryLimit = 10

	// workspaceListDepth and workspaceListMax bound the file listing.
	workspaceListDepth = 2
	workspaceListMax   = 1000
)

// buildContext assembles the ephemeral context block for one provider
// round. It is rebuilt every round and never persisted.
func (a *Agent) buildContext(ctx context.Context, t *task.Task, messages []msg.Message) (string, error) {
	vars := map[string]string{
		"TIME":    a.now().Format(time.RFC3339),
		"BALANCE": fmt.Sprintf("%d", a.state.Balance()),
	}

	memories, err := a.memory.ContextEntries(ctx, msg.StringContext(messages), contextMemoryLimit)
	if err != nil {
		return "", fmt.Errorf("memory retrieval: %w", err)
	}
	vars["MEMORIES"] = memories

	scheduled, err := a.store.ScheduledTasks()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, st := range scheduled {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", st.ID, st.Cron, st.Content)
	}
	vars["SCHEDULED_TASKS"] = sb.String()

	notes, err := a.store.Notes()
	if err != nil {
		return "", err
	}
	var nb strings.Builder
	for _, n := range notes {
		fmt.Fprintf(&nb, "- %s\n", n.Title)
	}
	vars["NOTES"] = nb.String()

	vars["WORKSPACE_FILES"] = listWorkspace(a.cfg.Workspace.Path)

	return prompts.Context(vars), nil
}

// listWorkspace renders the workspace file tree, bounded in depth and
// entry count. Dependency directories are skipped.
func listWorkspace(root string) string {
	if root == "" {
		return ""
	}
	var b strings.Builder
	count := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}
		if d.IsDir() && (d.Name() == "node_modules" || strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		if strings.Count(rel, string(filepath.Separator)) >= workspaceListDepth {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if count >= workspaceListMax {
			return filepath.SkipAll
		}
		count++
		if d.IsDir() {
			b.WriteString(rel + "/\n")
		} else {
			b.WriteString(rel + "\n")
		}
		return nil
	})
	return b.String()
}
