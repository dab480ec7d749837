package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/msg"
)

// maxReadBytes bounds how much of a file a single read returns.
const maxReadBytes = 64 * 1024

// RegisterFiles adds read_file, write_file, and list_files, all
// confined to the workspace root.
func RegisterFiles(r *Registry, workspace string) {
	if workspace == "" {
		return
	}

	r.Register(&Tool{
		Name:        "read_file",
		Description: "Read a text file from your workspace.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Path relative to the workspace root."},
			},
			"required": []string{"path"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) ([]msg.ToolResultContent, error) {
			var args struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("parse read_file arguments: %w", err)
			}
			path, err := resolveWorkspacePath(workspace, args.Path)
			if err != nil {
				return nil, err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", args.Path, err)
			}
			if len(data) > maxReadBytes {
				data = data[:maxReadBytes]
			}
			return msg.TextResult(string(data)), nil
		},
	})

	r.Register(&Tool{
		Name:        "write_file",
		Description: "Write a text file in your workspace, creating parent directories as needed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "Path relative to the workspace root."},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) ([]msg.ToolResultContent, error) {
			var args struct {
				Path    string `json:"path"`
				Content string `json:"content"`
			}
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("parse write_file arguments: %w", err)
			}
			path, err := resolveWorkspacePath(workspace, args.Path)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create parent dirs: %w", err)
			}
			if err := os.WriteFile(path, []byte(args.Content), 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", args.Path, err)
			}
			return msg.TextResult(fmt.Sprintf("Wrote %d bytes to %s.", len(args.Content), args.Path)), nil
		},
	})

	r.Register(&Tool{
		Name:        "list_files",
		Description: "List files under a workspace directory.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Directory relative to the workspace root; defaults to the root."},
			},
		},
		Handler: func(ctx context.Context, raw json.RawMessage) ([]msg.ToolResultContent, error) {
			var args struct {
				Path string `json:"path"`
			}
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &args); err != nil {
					return nil, fmt.Errorf("parse list_files arguments: %w", err)
				}
			}
			dir, err := resolveWorkspacePath(workspace, args.Path)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", args.Path, err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			if len(names) == 0 {
				return msg.TextResult("(empty)"), nil
			}
			return msg.TextResult(strings.Join(names, "\n")), nil
		},
	})
}

// resolveWorkspacePath joins rel onto the workspace root and rejects
// escapes.
func resolveWorkspacePath(workspace, rel string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(workspace, rel))
	root := filepath.Clean(workspace)
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", rel)
	}
	return cleaned, nil
}
