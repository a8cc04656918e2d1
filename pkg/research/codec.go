package research

import (
	"encoding/json"
	"strings"

	"github.com/deepresearch/researchd/pkg/models"
)

// Serialize renders a checkpoint the way a worker writes it to
// ResearchJob.GraphState after every completed stage: research_idea plus
// whichever of document_outline / perspectives / perspective_content /
// final_document are present, each a stable JSON-compatible representation.
// Absent fields are omitted entirely rather than written as null.
func Serialize(state models.PipelineState) ([]byte, error) {
	return json.Marshal(state)
}

// Deserialize decodes a persisted checkpoint back into a PipelineState. Each
// field is decoded independently by a "safe" loader that drops a malformed
// payload rather than failing the whole decode - a worker resuming a job
// must never be taken down by a corrupted checkpoint. camelCase legacy
// aliases (documentOutline, perspectiveContent, finalDocument) are accepted
// as a fallback wherever the canonical snake_case key is absent.
func Deserialize(raw []byte) models.PipelineState {
	var state models.PipelineState
	if len(raw) == 0 {
		return state
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return state
	}

	if ideaRaw, ok := fields["research_idea"]; ok {
		var idea string
		if json.Unmarshal(ideaRaw, &idea) == nil {
			state.ResearchIdea = strings.TrimSpace(idea)
		}
	}

	state.DocumentOutline = safeDecode[models.Outline](fields, "document_outline", "documentOutline")
	state.Perspectives = safeDecode[models.Perspectives](fields, "perspectives", "")
	state.PerspectiveContent = safeDecode[models.PerspectiveContent](fields, "perspective_content", "perspectiveContent")
	state.FinalDocument = safeDecode[models.CompleteDocument](fields, "final_document", "finalDocument")

	return state
}

// safeDecode looks up key (falling back to legacyKey if key is absent) and
// decodes it into T, returning nil if the key is missing or the payload
// does not decode cleanly.
func safeDecode[T any](fields map[string]json.RawMessage, key, legacyKey string) *T {
	raw, ok := fields[key]
	if !ok && legacyKey != "" {
		raw, ok = fields[legacyKey]
	}
	if !ok {
		return nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}

// pipelineSequence is the fixed stage order the resumable driver walks.
var pipelineSequence = []models.PipelineNode{
	models.NodeOutline,
	models.NodePerspectives,
	models.NodeContent,
	models.NodeFusion,
}

// nextNodeAfter returns the stage that follows node in the fixed sequence,
// or nil if node is the last stage (or not a recognized pipeline stage).
func nextNodeAfter(node models.PipelineNode) *models.PipelineNode {
	for i, n := range pipelineSequence {
		if n != node {
			continue
		}
		if i == len(pipelineSequence)-1 {
			return nil
		}
		next := pipelineSequence[i+1]
		return &next
	}
	return nil
}

// defaultResumeNode returns the first stage whose prerequisite output is
// absent from state, or nil if the pipeline has already produced a
// final_document (nothing left to do).
func defaultResumeNode(state models.PipelineState) *models.PipelineNode {
	node := state.ResumeNode()
	if node == models.NodeDone {
		return nil
	}
	return &node
}

// ResolveResumeNode implements §4.8's resolve_resume_node: requested only
// takes effect when it names a stage whose prerequisites are already
// satisfied by state; otherwise (including an empty or unknown request) the
// first missing prerequisite stage wins regardless of what was requested.
func ResolveResumeNode(requested *models.PipelineNode, state models.PipelineState) *models.PipelineNode {
	if requested == nil {
		return defaultResumeNode(state)
	}

	switch *requested {
	case models.NodeOutline:
		return requested
	case models.NodePerspectives:
		if state.DocumentOutline == nil {
			return defaultResumeNode(state)
		}
		return requested
	case models.NodeContent:
		if state.DocumentOutline == nil || state.Perspectives == nil {
			return defaultResumeNode(state)
		}
		return requested
	case models.NodeFusion:
		if state.DocumentOutline == nil || state.Perspectives == nil || state.PerspectiveContent == nil {
			return defaultResumeNode(state)
		}
		return requested
	default:
		return defaultResumeNode(state)
	}
}
