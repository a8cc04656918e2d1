package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deepresearch/researchd/pkg/agent"
	"github.com/deepresearch/researchd/pkg/models"
)

// runFusion implements §4.7.4. Breadth=low is a pass-through over the single
// expert's output; medium/high fuse every section's expert row with a
// structured call and pipeline the repair loop one section behind fusion so
// a section's repair overlaps the next section's generation.
func (p *Pipeline) runFusion(ctx context.Context, state *models.PipelineState) error {
	if p.breadth() == models.BreadthLow {
		state.FinalDocument = buildLowBreadthDocument(state)
		return nil
	}

	outlineStr := state.DocumentOutline.AsStr()
	rows := state.PerspectiveContent.Matrix

	generated := make([]models.ContentSection, 0, len(rows))
	finalized := make([]*models.ContentSection, 0, len(rows))

	type pendingRepair struct {
		index  int
		result chan models.ContentSection
	}
	var pending *pendingRepair

	var summary string
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		section, err := p.generateFinalSection(ctx, row, outlineStr, summary)
		if err != nil {
			return fmt.Errorf("research: fusion stage: %w", err)
		}
		generated = append(generated, section)
		finalized = append(finalized, nil)
		sectionIndex := len(generated) - 1

		if pending != nil {
			finalized[pending.index] = ptrSection(<-pending.result)
		}

		resultCh := make(chan models.ContentSection, 1)
		go func(s models.ContentSection) {
			resultCh <- p.repairer.RepairSection(ctx, s)
		}(section)
		pending = &pendingRepair{index: sectionIndex, result: resultCh}

		history := make([]string, len(generated))
		for i, s := range generated {
			history[i] = s.AsStr()
		}
		nextSummary, err := p.rollingSummary(ctx, strings.Join(history, "\n"))
		if err == nil {
			summary = nextSummary
		}
	}

	if pending != nil {
		finalized[pending.index] = ptrSection(<-pending.result)
	}

	finalSections := make([]models.ContentSection, 0, len(finalized))
	for _, s := range finalized {
		if s != nil {
			finalSections = append(finalSections, *s)
		}
	}

	state.FinalDocument = &models.CompleteDocument{
		Title:    state.DocumentOutline.DocumentTitle,
		Sections: finalSections,
	}
	return nil
}

func ptrSection(s models.ContentSection) *models.ContentSection { return &s }

// generateFinalSection combines one section's expert rows into a single
// structured ContentSection, retrying once on a content-shape error.
func (p *Pipeline) generateFinalSection(ctx context.Context, row []string, outlineStr, summary string) (models.ContentSection, error) {
	input := &agent.GenerateInput{
		Config: p.primaryProvider,
		Messages: []agent.ConversationMessage{
			{Role: agent.RoleSystem, Content: combinedSectionSystemPrompt()},
			userMsg(combinedSectionUserMessage(strings.Join(row, "\n\n"), outlineStr, summary)),
		},
	}

	section, err := agent.GenerateStructured[models.ContentSection](ctx, p.client, input)
	if err == nil {
		return section, nil
	}
	var structErr *agent.ErrStructuredOutput
	if !errors.As(err, &structErr) {
		return models.ContentSection{}, err
	}
	return agent.GenerateStructured[models.ContentSection](ctx, p.client, input)
}

// buildLowBreadthDocument implements breadth=low's pass-through: each
// section becomes the single expert's content (or a fallback if empty),
// with no citations (none were collected in structured form) and no fusion
// or repair pass.
func buildLowBreadthDocument(state *models.PipelineState) *models.CompleteDocument {
	sections := state.DocumentOutline.Sections
	var rows [][]string
	if state.PerspectiveContent != nil {
		rows = state.PerspectiveContent.Matrix
	}

	finalSections := make([]models.ContentSection, 0, len(sections))
	for index, outlineSection := range sections {
		title := outlineSection.SectionTitle
		if title == "" {
			title = fmt.Sprintf("Section %d", index+1)
		}
		text := ""
		if index < len(rows) && len(rows[index]) > 0 {
			text = strings.TrimSpace(rows[index][0])
		}
		if text == "" {
			text = fallbackSectionText(title)
		}
		finalSections = append(finalSections, models.ContentSection{
			SectionTitle: title,
			Content:      text,
			Citations:    []string{},
		})
	}

	return &models.CompleteDocument{
		Title:    state.DocumentOutline.DocumentTitle,
		Sections: finalSections,
	}
}
