// Package repair implements the post-generation repair loop (C6): for a
// finished section, validate every equation/visual span and, for anything
// invalid, ask a repair model for a targeted fix before falling back to a
// safe, prose-preserving edit.
package repair

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/deepresearch/researchd/pkg/agent"
	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/models"
	"github.com/deepresearch/researchd/pkg/validate"
)

// Repairer drives one bounded-retry repair call per invalid span. A
// pipeline stage constructs one per research job, bound to its own LLM
// client and the lightweight repair model's provider config.
type Repairer struct {
	client   agent.LLMClient
	provider *config.LLMProviderConfig
	cfg      *config.PipelineConfig
}

// New constructs a Repairer.
func New(client agent.LLMClient, provider *config.LLMProviderConfig, cfg *config.PipelineConfig) *Repairer {
	return &Repairer{client: client, provider: provider, cfg: cfg}
}

// RepairSection runs the equation repair pass followed by the visual-block
// repair pass over section's content, each independently, and returns a new
// ContentSection with the repaired body. Neither pass mutates section.
func (r *Repairer) RepairSection(ctx context.Context, section models.ContentSection) models.ContentSection {
	section.Content = r.repairEquations(ctx, section.SectionTitle, section.Content)
	section.Content = r.repairVisuals(ctx, section.SectionTitle, section.Content)
	return section
}

// repairEquations validates every equation span and, for each invalid one
// (processed back-to-front so earlier offsets stay stable), either splices
// in a validated repair or falls back to an inline code span.
func (r *Repairer) repairEquations(ctx context.Context, sectionTitle, content string) string {
	invalid := invalidSpans(validate.ValidateEquations(content))
	if len(invalid) == 0 {
		return content
	}
	sortSpansDescending(invalid)

	working := content
	for _, sr := range invalid {
		repaired, ok := r.attemptEquationRepair(ctx, sectionTitle, sr)
		if ok {
			working = replaceSpan(working, sr.Span.StartOffset, sr.Span.EndOffset, repaired)
			continue
		}
		working = replaceSpan(working, sr.Span.StartOffset, sr.Span.EndOffset, codeSpanFallback(sr.Span.Expression))
	}
	return working
}

func (r *Repairer) attemptEquationRepair(ctx context.Context, sectionTitle string, sr validate.SpanResult) (string, bool) {
	maxRetries := r.cfg.RepairMaxRetries
	for attempt := 1; attempt <= maxRetries; attempt++ {
		candidate, err := r.generateRepair(ctx, equationRepairPrompt(sr.Span.DelimiterStyle, sr.Span.Expression, sr.InvalidReason))
		if err != nil {
			slog.Warn("equation repair attempt failed", "section", sectionTitle, "attempt", attempt, "max_attempts", maxRetries, "error", err)
			continue
		}
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}

		candidateResult := validate.ValidateEquations(delimitEquation(sr.Span.DelimiterStyle, candidate))
		if len(candidateResult) != 1 || !candidateResult[0].Valid {
			continue
		}
		return delimitEquation(sr.Span.DelimiterStyle, candidate), true
	}
	return "", false
}

// repairVisuals validates every visual block and, for each invalid one
// (processed back-to-front), either splices in a validated repair or
// deletes the block outright, collapsing consecutive blank lines
// afterward so deletion never leaves ragged whitespace behind.
func (r *Repairer) repairVisuals(ctx context.Context, sectionTitle string, content string) string {
	invalid := invalidVisualSpans(content)
	if len(invalid) == 0 {
		return content
	}
	sortSpansDescending(invalid)

	working := content
	anyDeleted := false
	for _, sr := range invalid {
		repaired, ok := r.attemptVisualRepair(ctx, sectionTitle, sr)
		if ok {
			working = replaceSpan(working, sr.Span.StartOffset, sr.Span.EndOffset, fencedBlock(sr.Span.VisualKind, repaired))
			continue
		}
		working = replaceSpan(working, sr.Span.StartOffset, sr.Span.EndOffset, "")
		anyDeleted = true
	}
	if anyDeleted {
		working = collapseBlankLines(working)
	}

	// Belt-and-braces: revalidate once and drop anything still invalid
	// (a repair that validated in isolation can still collide with another
	// edit made to the same section).
	stillInvalid := invalidVisualSpans(working)
	if len(stillInvalid) > 0 {
		sortSpansDescending(stillInvalid)
		for _, sr := range stillInvalid {
			working = replaceSpan(working, sr.Span.StartOffset, sr.Span.EndOffset, "")
		}
		working = collapseBlankLines(working)
	}
	return working
}

func (r *Repairer) attemptVisualRepair(ctx context.Context, sectionTitle string, sr validate.SpanResult) (string, bool) {
	maxRetries := r.cfg.RepairMaxRetries
	for attempt := 1; attempt <= maxRetries; attempt++ {
		candidate, err := r.generateRepair(ctx, visualRepairPrompt(sr.Span.VisualKind, sr.Span.Expression, sr.InvalidReason))
		if err != nil {
			slog.Warn("visualization repair attempt failed", "section", sectionTitle, "attempt", attempt, "max_attempts", maxRetries, "error", err)
			continue
		}
		body := extractRepairedBody(candidate, sr.Span.VisualKind)
		if body == "" {
			continue
		}
		if !validateVisualBody(sr.Span.VisualKind, body).Valid {
			continue
		}
		return body, true
	}
	return "", false
}

// generateRepair runs one bounded, non-tool-calling repair call against the
// repair model and returns its raw text response.
func (r *Repairer) generateRepair(ctx context.Context, prompt string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.RepairAttemptTimeout)
	defer cancel()

	input := &agent.GenerateInput{
		Config: r.provider,
		Messages: []agent.ConversationMessage{
			{Role: agent.RoleUser, Content: prompt},
		},
	}
	chunks, err := r.client.Generate(attemptCtx, input)
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *agent.TextChunk:
			text.WriteString(c.Content)
		case *agent.ErrorChunk:
			return "", fmt.Errorf("repair: %s", c.Message)
		}
	}
	return text.String(), nil
}

func invalidSpans(results []validate.SpanResult) []validate.SpanResult {
	var out []validate.SpanResult
	for _, r := range results {
		if !r.Valid {
			out = append(out, r)
		}
	}
	return out
}

func invalidVisualSpans(content string) []validate.SpanResult {
	var out []validate.SpanResult
	for _, span := range validate.ExtractVisualBlocks(content) {
		result := validateVisualBody(span.VisualKind, span.Expression)
		if !result.Valid {
			out = append(out, validate.SpanResult{Span: span, Valid: false, InvalidReason: result.InvalidReason})
		}
	}
	return out
}

func validateVisualBody(kind models.VisualKind, body string) validate.Result {
	switch kind {
	case models.VisualKindChartJSON:
		return validate.ValidateChartJSON([]byte(body))
	case models.VisualKindMermaid:
		return validate.ValidateMermaid(body)
	default:
		return validate.Result{Valid: false, InvalidReason: fmt.Sprintf("unsupported visualization type: %s", kind)}
	}
}

func sortSpansDescending(spans []validate.SpanResult) {
	sort.Slice(spans, func(i, j int) bool { return spans[i].Span.StartOffset > spans[j].Span.StartOffset })
}

func replaceSpan(source string, start, end int, replacement string) string {
	if start < 0 {
		start = 0
	}
	if start > len(source) {
		start = len(source)
	}
	if end < start {
		end = start
	}
	if end > len(source) {
		end = len(source)
	}
	return source[:start] + replacement + source[end:]
}

func codeSpanFallback(expression string) string {
	escaped := strings.ReplaceAll(expression, "`", "'")
	return "`" + escaped + "`"
}

func delimitEquation(style models.EquationDelimiterStyle, expression string) string {
	switch style {
	case models.DelimiterDollarDisplay:
		return "$$" + expression + "$$"
	case models.DelimiterBracketBlock:
		return `\[` + expression + `\]`
	case models.DelimiterBracketInline:
		return `\(` + expression + `\)`
	default:
		return "$" + expression + "$"
	}
}

func fencedBlock(kind models.VisualKind, body string) string {
	return "```" + string(kind) + "\n" + strings.TrimSpace(body) + "\n```"
}

// extractRepairedBody mirrors visual_repair.py's _extract_repaired_body: if
// the model re-fenced its answer, pull out the block matching the expected
// kind; if it left stray fences of the wrong kind, reject the candidate
// outright rather than guessing; otherwise treat the whole trimmed response
// as the body.
func extractRepairedBody(rawModelText string, expectedKind models.VisualKind) string {
	source := strings.TrimSpace(rawModelText)
	if source == "" {
		return ""
	}

	blocks := validate.ExtractVisualBlocks(source)
	if len(blocks) > 0 {
		for _, block := range blocks {
			if block.VisualKind == expectedKind {
				return strings.TrimSpace(block.Expression)
			}
		}
		return ""
	}

	if strings.Contains(source, "```") {
		return ""
	}
	return source
}

// collapseBlankLines collapses three or more consecutive blank lines down
// to two, so a deleted visual block never leaves a ragged gap in the
// surrounding prose.
func collapseBlankLines(content string) string {
	lines := strings.Split(content, "\n")
	var out []string
	blankRun := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankRun++
			if blankRun > 2 {
				continue
			}
		} else {
			blankRun = 0
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func equationRepairPrompt(style models.EquationDelimiterStyle, expression, invalidReason string) string {
	return fmt.Sprintf(
		"The following LaTeX equation failed validation: %q\nReason: %s\n"+
			"Return only the corrected equation expression, without its surrounding delimiters (%s) and without any code fence.",
		expression, invalidReason, style,
	)
}

func visualRepairPrompt(kind models.VisualKind, blockContent, invalidReason string) string {
	return fmt.Sprintf(
		"The following %s block failed validation.\nReason: %s\nBlock:\n%s\n"+
			"Return only the corrected %s body, either unfenced or fenced in a single ```%s``` block.",
		kind, invalidReason, blockContent, kind, kind,
	)
}
