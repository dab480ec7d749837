package memory

import (
	"context"
	"fmt"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/prompts"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
)

// ExtractFromTranscript asks the model to pull episodic entities out
// of a conversation transcript and stores them. Entities already known
// by name are reinforced instead of duplicated.
func (e *Engine) ExtractFromTranscript(ctx context.Context, transcript string) error {
	if transcript == "" {
		return nil
	}
	response, err := e.provider.Complete(ctx, prompts.ExtractionSystem, prompts.Extraction(transcript))
	if err != nil {
		return fmt.Errorf("extraction completion: %w", err)
	}
	inputs, err := parseExtraction(response)
	if err != nil {
		return fmt.Errorf("parse extraction response: %w", err)
	}
	if len(inputs) == 0 {
		return nil
	}
	if err := e.CreateEntities(ctx, store.EntityEpisodic, inputs); err != nil {
		return err
	}
	e.logger.Debug("extracted episodic entities", "count", len(inputs))
	return nil
}
