package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/deepresearch/researchd/pkg/agent"
	"github.com/deepresearch/researchd/pkg/models"
)

// sectionRetryDelays builds the finite, increasing retry-delay tuple for the
// content stage's per-section attempts: retries=2 reproduces the reference
// pipeline's hardcoded (500ms, 1s).
func sectionRetryDelays(retries int) []time.Duration {
	if retries < 0 {
		retries = 0
	}
	delays := make([]time.Duration, retries)
	d := 500 * time.Millisecond
	for i := range delays {
		delays[i] = d
		d *= 2
	}
	return delays
}

// runContent implements §4.7.3: every expert runs an independent tool-armed
// agent through all outline sections, in parallel across experts and
// serially (carrying a rolling summary) across sections, producing a
// rectangular sections x experts matrix.
func (p *Pipeline) runContent(ctx context.Context, state *models.PipelineState) error {
	sections := state.DocumentOutline.Sections
	experts := state.Perspectives.Experts
	if len(sections) == 0 || len(experts) == 0 {
		state.PerspectiveContent = &models.PerspectiveContent{Matrix: [][]string{}}
		return nil
	}

	toolDefs, err := p.tools.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("research: list tools for content stage: %w", err)
	}
	outlineStr := state.DocumentOutline.AsStr()
	delays := sectionRetryDelays(p.cfg.SectionMaxRetries)

	results := make([][]string, len(experts))
	var wg sync.WaitGroup
	for index, expert := range experts {
		wg.Add(1)
		go func(index int, expert models.Expert) {
			defer wg.Done()
			provider := p.primaryProvider
			if index%2 != 0 {
				provider = p.secondaryProvider
			}
			name := expert.Name
			if name == "" {
				name = fmt.Sprintf("Expert %d", index+1)
			}
			reasoning := agent.NewReasoningAgent(p.client, &agent.GenerateInput{Config: provider, Tools: toolDefs}, p.tools)
			out, err := p.runExpertPipeline(ctx, reasoning, name, expert, outlineStr, sections, delays)
			if err != nil {
				slog.Warn("expert pipeline crashed, using fallback content for all sections", "expert", name, "error", err)
				out = make([]string, len(sections))
				for i, section := range sections {
					out[i] = fallbackSectionText(section.SectionTitle)
				}
			}
			results[index] = out
		}(index, expert)
	}
	wg.Wait()

	matrix := make([][]string, len(sections))
	for sIdx, section := range sections {
		row := make([]string, len(experts))
		for eIdx := range experts {
			text := ""
			if results[eIdx] != nil && sIdx < len(results[eIdx]) {
				text = strings.TrimSpace(results[eIdx][sIdx])
			}
			if text == "" {
				text = fallbackSectionText(section.SectionTitle)
			}
			row[eIdx] = text
		}
		matrix[sIdx] = row
	}
	state.PerspectiveContent = &models.PerspectiveContent{Matrix: matrix}
	return nil
}

// runExpertPipeline runs one expert serially through every section, carrying
// a rolling summary of what it has written so far. Only a context
// cancellation bubbles up as an error; generation failures degrade to
// fallback text per section instead.
func (p *Pipeline) runExpertPipeline(
	ctx context.Context,
	reasoning *agent.ReasoningAgent,
	expertName string,
	expert models.Expert,
	outlineStr string,
	sections []models.OutlineSection,
	delays []time.Duration,
) ([]string, error) {
	systemPrompt := perspectiveAgentSystemPrompt(expert, outlineStr)
	outputs := make([]string, 0, len(sections))
	var history []string
	var summary string

	for _, section := range sections {
		prompt := sectionPrompt(section.AsStr(), summary)
		text, err := p.invokeSectionWithRetry(ctx, reasoning, systemPrompt, prompt, section.SectionTitle, expertName, delays)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, text)
		history = append(history, strings.TrimSpace(fmt.Sprintf("## %s\n\n%s", section.SectionTitle, text)))

		nextSummary, err := p.rollingSummary(ctx, strings.Join(history, "\n\n"))
		if err != nil {
			slog.Warn("summary update failed, continuing without summary update", "expert", expertName, "section", section.SectionTitle, "error", err)
			continue
		}
		if trimmed := strings.TrimSpace(nextSummary); trimmed != "" {
			summary = trimmed
		}
	}
	return outputs, nil
}

// invokeSectionWithRetry bounds one section's generation to
// SectionAttemptTimeout per attempt, retrying up to len(delays) times before
// falling back to fallbackSectionText. A context cancellation is the only
// error that propagates.
func (p *Pipeline) invokeSectionWithRetry(
	ctx context.Context,
	reasoning *agent.ReasoningAgent,
	systemPrompt, prompt, sectionTitle, expertLabel string,
	delays []time.Duration,
) (string, error) {
	attemptCount := len(delays) + 1
	for attempt := 1; attempt <= attemptCount; attempt++ {
		text, err := p.invokeSectionAttempt(ctx, reasoning, systemPrompt, prompt)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt >= attemptCount {
			slog.Warn("expert failed for section after all attempts, using fallback content",
				"expert", expertLabel, "section", sectionTitle, "attempts", attemptCount, "error", err)
			return fallbackSectionText(sectionTitle), nil
		}
		delay := delays[attempt-1]
		slog.Warn("expert attempt failed for section, retrying",
			"expert", expertLabel, "section", sectionTitle, "attempt", attempt, "max_attempts", attemptCount, "delay", delay, "error", err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return fallbackSectionText(sectionTitle), nil
}

func (p *Pipeline) invokeSectionAttempt(ctx context.Context, reasoning *agent.ReasoningAgent, systemPrompt, prompt string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.cfg.SectionAttemptTimeout)
	defer cancel()

	text, err := reasoning.PlanAndExecute(attemptCtx, systemPrompt, []agent.ConversationMessage{userMsg(prompt)})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("generated section content was empty")
	}
	return text, nil
}
