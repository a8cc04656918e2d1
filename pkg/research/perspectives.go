package research

import (
	"context"
	"errors"
	"fmt"

	"github.com/deepresearch/researchd/pkg/agent"
	"github.com/deepresearch/researchd/pkg/models"
)

// runPerspectives implements §4.7.2: a plain (non-tool-calling) structured
// call asking for expert_count(breadth) distinct experts; over-production is
// truncated rather than rejected.
func (p *Pipeline) runPerspectives(ctx context.Context, state *models.PipelineState) error {
	expertCount := expertCountForBreadth(p.breadth())
	input := &agent.GenerateInput{
		Config: p.primaryProvider,
		Messages: []agent.ConversationMessage{
			{Role: agent.RoleSystem, Content: perspectivesSystemPrompt()},
			userMsg(perspectivesUserMessage(state.DocumentOutline.AsStr(), expertCount)),
		},
	}

	perspectives, err := agent.GenerateStructured[models.Perspectives](ctx, p.client, input)
	if err != nil {
		var structErr *agent.ErrStructuredOutput
		if !errors.As(err, &structErr) {
			return fmt.Errorf("research: perspectives stage: %w", err)
		}
		perspectives, err = agent.GenerateStructured[models.Perspectives](ctx, p.client, input)
		if err != nil {
			return fmt.Errorf("research: perspectives stage: %w", err)
		}
	}

	if len(perspectives.Experts) > expertCount {
		perspectives.Experts = perspectives.Experts[:expertCount]
	}
	state.Perspectives = &perspectives
	return nil
}
