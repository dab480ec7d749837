package prompts

import "fmt"

// ExtractionSystem frames the model as a fact extractor. Both the
// transcript extractor and the consolidation engine expect a bare JSON
// array in response.
const ExtractionSystem = `You extract structured memory entities from text. Respond with a JSON
array only. Each element has: "name", "category" (person, topic,
location, concept, or other), "observations" (array of short factual
strings), and optional "relations" (array of {"from", "to",
"relation_type"}). No prose outside the JSON.`

// extractionTemplate asks for episodic entities from one conversation
// transcript. The format verb is the transcript.
const extractionTemplate = `Extract the memory entities worth keeping from this conversation.
Prefer specific, durable facts over small talk. Return [] if nothing
qualifies.

Conversation:
%s`

// Extraction returns the transcript extraction prompt.
func Extraction(transcript string) string {
	return fmt.Sprintf(extractionTemplate, transcript)
}

// ConsolidationSystem reuses the extraction framing for consolidation.
const ConsolidationSystem = ExtractionSystem

// consolidationTemplate folds episodic memories into semantic ones.
// The format verbs are: episodic block, known semantic block.
const consolidationTemplate = `Consolidate these episodic memories into long-lived semantic entities.
Merge duplicates, generalize one-off details, and reuse the name of a
known semantic entity when the episodic evidence refers to it.

Episodic memories:
%s
Known semantic entities:
%s
Return the JSON array of resulting semantic entities.`

// Consolidation returns the consolidation prompt for one batch.
func Consolidation(episodic, semantic string) string {
	return fmt.Sprintf(consolidationTemplate, episodic, semantic)
}
