package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deepresearch/researchd/pkg/agent"
	"github.com/deepresearch/researchd/pkg/models"
)

// outlineSchemaReminder is appended to the outline stage's system prompt so
// the tool-calling agent's terminal answer is the bare Outline JSON object
// rather than prose - our ReasoningAgent has no response_format binding, so
// the schema is enforced by instruction and verified by decode-and-retry.
const outlineSchemaReminder = `
Once your research is complete, respond with ONLY a JSON object (no prose, no code fence) matching exactly:
{"document_title": string, "document_description": string, "sections": [{"section_title": string, "description": string, "subsections": [{"title": string, "description": string}]}]}`

// runOutline implements §4.7.1: a tool-armed reasoning agent researches the
// idea and returns a document outline.
func (p *Pipeline) runOutline(ctx context.Context, state *models.PipelineState) error {
	toolDefs, err := p.tools.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("research: list tools for outline stage: %w", err)
	}

	reasoning := agent.NewReasoningAgent(p.client, &agent.GenerateInput{Config: p.primaryProvider, Tools: toolDefs}, p.tools)
	messages := []agent.ConversationMessage{userMsg(outlineResearchIdeaMessage(state.ResearchIdea))}
	systemPrompt := outlineSystemPrompt() + outlineSchemaReminder

	var outline models.Outline
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		text, err := reasoning.PlanAndExecute(ctx, systemPrompt, messages)
		if err != nil {
			return fmt.Errorf("research: outline stage: %w", err)
		}
		raw := agent.ExtractJSONObject(text)
		if err := json.Unmarshal([]byte(raw), &outline); err != nil {
			lastErr = err
			continue
		}
		state.DocumentOutline = &outline
		return nil
	}
	return fmt.Errorf("research: outline stage did not return a structured Outline: %w", lastErr)
}
