package msg

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// PruneOrphanedToolCalls drops assistant messages whose tool calls are
// not answered by the immediately following user message. Providers
// reject histories with dangling tool calls, so the sequence is
// repaired on load rather than treated as an error. The pass is
// idempotent: a pruned sequence passes through unchanged.
func PruneOrphanedToolCalls(messages []Message) ([]Message, bool) {
	out := make([]Message, 0, len(messages))
	changed := false
	for i, m := range messages {
		calls := m.ToolCalls()
		if len(calls) == 0 {
			out = append(out, m)
			continue
		}
		if i+1 < len(messages) && answersCalls(messages[i+1], calls) {
			out = append(out, m)
			continue
		}
		changed = true
	}
	return out, changed
}

func answersCalls(m Message, calls []ToolCall) bool {
	ids := m.ToolResultIDs()
	if len(ids) < len(calls) {
		return false
	}
	have := make(map[string]bool, len(ids))
	for _, id := range ids {
		have[id] = true
	}
	for _, c := range calls {
		if !have[c.ID] {
			return false
		}
	}
	return true
}

// ExternalizeImages replaces inline base64 image payloads with a text
// reference to a file saved under dir/images. The final message is
// left untouched so the provider still sees the most recent image.
func ExternalizeImages(dir string, messages []Message) ([]Message, bool, error) {
	if len(messages) < 2 {
		return messages, false, nil
	}
	changed := false
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := range out[:len(out)-1] {
		rewritten, err := externalizeMessage(dir, &out[i])
		if err != nil {
			return messages, false, err
		}
		changed = changed || rewritten
	}
	return out, changed, nil
}

// externalizeMessage rewrites one message copy-on-write: the caller's
// original message and its shared backing arrays are never touched.
func externalizeMessage(dir string, m *Message) (bool, error) {
	changed := false
	cloneUser := func() {
		if !changed {
			m.User = append([]UserContent(nil), m.User...)
			changed = true
		}
	}
	for j := range m.User {
		c := m.User[j]
		if c.Kind == UserImage && c.Media != nil {
			ref, err := saveImage(dir, c.Media)
			if err != nil {
				return false, err
			}
			cloneUser()
			m.User[j] = UserContent{Kind: UserText, Text: ref}
		}
		if c.Kind != UserToolResult {
			continue
		}
		resultCloned := false
		for k, r := range c.Result {
			if r.Kind != ResultImage || r.Media == nil {
				continue
			}
			ref, err := saveImage(dir, r.Media)
			if err != nil {
				return false, err
			}
			cloneUser()
			if !resultCloned {
				m.User[j].Result = append([]ToolResultContent(nil), m.User[j].Result...)
				resultCloned = true
			}
			m.User[j].Result[k] = ToolResultContent{Kind: ResultText, Text: ref}
		}
	}
	return changed, nil
}

func saveImage(dir string, media *MediaContent) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(media.Data)
	if err != nil {
		return "", fmt.Errorf("decode image payload: %w", err)
	}
	imgDir := filepath.Join(dir, "images")
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		return "", fmt.Errorf("create images dir: %w", err)
	}
	name := uuid.NewString() + "." + extForFormat(media.Format)
	path := filepath.Join(imgDir, name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write image file: %w", err)
	}
	return fmt.Sprintf("[image saved to %s]", filepath.Join("images", name)), nil
}

func extForFormat(format string) string {
	switch strings.ToLower(format) {
	case "image/jpeg", "jpeg", "jpg":
		return "jpg"
	case "image/gif", "gif":
		return "gif"
	case "image/webp", "webp":
		return "webp"
	default:
		return "png"
	}
}
