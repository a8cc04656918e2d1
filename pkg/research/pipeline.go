// Package research implements the fixed four-stage resumable research
// pipeline (C7) and its checkpoint codec (C8): outline, perspectives,
// content, fusion, each one's output persisted to PipelineState before the
// next stage starts so a crashed worker can resume from the first stage
// whose prerequisite is missing.
package research

import (
	"context"
	"fmt"
	"strings"

	"github.com/deepresearch/researchd/pkg/agent"
	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/models"
	"github.com/deepresearch/researchd/pkg/repair"
)

// Pipeline runs one research job's four stages against a configured set of
// LLM providers, a shared tool executor, and a repair pass. One Pipeline is
// built per job execution (never shared across jobs) since its provider
// selection depends on the job's own request.
type Pipeline struct {
	client   agent.LLMClient
	tools    agent.ToolExecutor
	repairer *repair.Repairer
	cfg      *config.PipelineConfig
	request  models.ResearchRequest

	primaryProvider   *config.LLMProviderConfig
	secondaryProvider *config.LLMProviderConfig
	miniProvider      *config.LLMProviderConfig
}

// New resolves the job's provider tier against cfg's defaults and registry
// and builds a Pipeline bound to the given tools executor and repairer.
// model_tier=pro uses Defaults.LLMProvider for outline/perspectives/content's
// primary expert/fusion calls; model_tier=mini uses Defaults.MiniLLMProvider
// for the same role. The content stage's alternate (odd-indexed) expert
// always uses Defaults.SecondaryLLMProvider regardless of tier, and rolling
// summaries/repair always use Defaults.MiniLLMProvider, per spec.md §4.7.3.
func New(
	client agent.LLMClient,
	tools agent.ToolExecutor,
	repairer *repair.Repairer,
	cfg *config.Config,
	request models.ResearchRequest,
) (*Pipeline, error) {
	primaryName := cfg.Defaults.LLMProvider
	if request.ModelTier == models.ModelTierMini {
		primaryName = cfg.Defaults.MiniLLMProvider
	}
	primary, err := cfg.GetLLMProvider(primaryName)
	if err != nil {
		return nil, fmt.Errorf("research: resolve primary provider: %w", err)
	}
	secondary, err := cfg.GetLLMProvider(cfg.Defaults.SecondaryLLMProvider)
	if err != nil {
		return nil, fmt.Errorf("research: resolve secondary provider: %w", err)
	}
	mini, err := cfg.GetLLMProvider(cfg.Defaults.MiniLLMProvider)
	if err != nil {
		return nil, fmt.Errorf("research: resolve mini provider: %w", err)
	}

	return &Pipeline{
		client:            client,
		tools:             tools,
		repairer:          repairer,
		cfg:               cfg.Pipeline,
		request:           request,
		primaryProvider:   primary,
		secondaryProvider: secondary,
		miniProvider:      mini,
	}, nil
}

// breadth returns the job's requested breadth.
func (p *Pipeline) breadth() models.Breadth {
	return p.request.Breadth
}

// expertCountForBreadth mirrors config.Breadth.ExpertCount for the
// models.Breadth enum used on ResearchRequest (the two enums carry
// identical values but live in separate packages - models' job-facing
// request type predates pkg/config's provider-facing one).
func expertCountForBreadth(b models.Breadth) int {
	switch b {
	case models.BreadthLow:
		return 1
	case models.BreadthHigh:
		return 5
	default:
		return 3
	}
}

// rollingSummary condenses content into a short running summary using the
// mini provider, with no tool access. Callers treat a non-nil error as
// non-fatal and keep whatever summary they already had.
func (p *Pipeline) rollingSummary(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	input := &agent.GenerateInput{
		Config: p.miniProvider,
		Messages: []agent.ConversationMessage{
			{Role: agent.RoleSystem, Content: rollingSummarySystemPrompt()},
			userMsg(rollingSummaryUserMessage(content)),
		},
	}
	chunks, err := p.client.Generate(ctx, input)
	if err != nil {
		return "", err
	}
	var text strings.Builder
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *agent.TextChunk:
			text.WriteString(c.Content)
		case *agent.ErrorChunk:
			return "", fmt.Errorf("llm: %s", c.Message)
		}
	}
	return strings.TrimSpace(text.String()), nil
}

// ProgressFunc is invoked at the start of each stage with the node about to
// run. Errors are logged and otherwise ignored, matching the reference
// pipeline's "a progress callback never aborts the run" contract - the one
// exception is a context cancellation, which always propagates.
type ProgressFunc func(ctx context.Context, node models.PipelineNode) error

// CheckpointFunc is invoked after each stage completes, with the
// already-serialized state and the node the pipeline will resume from if
// it crashes before the next checkpoint (nil once the run is done).
type CheckpointFunc func(ctx context.Context, completedNode models.PipelineNode, serializedState []byte, nextNode *models.PipelineNode) error

func isCancellation(err error) bool {
	return err != nil && (err == context.Canceled || err == context.DeadlineExceeded)
}

// RunResumable implements §4.8's resume contract: deserialize graphState,
// resolve the start node against resumeFrom (honoring it only if its own
// prerequisites are already satisfied), then walk the fixed node sequence
// from there, running each stage, checkpointing after it, and reporting
// progress before it.
func (p *Pipeline) RunResumable(
	ctx context.Context,
	researchIdea string,
	graphState []byte,
	resumeFrom *models.PipelineNode,
	onProgress ProgressFunc,
	onCheckpoint CheckpointFunc,
) (models.PipelineState, error) {
	state := Deserialize(graphState)
	state.ResearchIdea = researchIdea

	startNode := ResolveResumeNode(resumeFrom, state)
	if startNode == nil {
		return state, nil
	}

	for node := *startNode; ; {
		if onProgress != nil {
			if err := onProgress(ctx, node); err != nil && isCancellation(err) {
				return state, err
			}
		}

		if err := p.runNode(ctx, node, &state); err != nil {
			return state, err
		}

		next := nextNodeAfter(node)
		serialized, err := Serialize(state)
		if err != nil {
			return state, fmt.Errorf("research: serialize checkpoint: %w", err)
		}
		if onCheckpoint != nil {
			if err := onCheckpoint(ctx, node, serialized, next); err != nil && isCancellation(err) {
				return state, err
			}
		}

		if next == nil {
			return state, nil
		}
		node = *next
	}
}

// runNode dispatches one stage by node name.
func (p *Pipeline) runNode(ctx context.Context, node models.PipelineNode, state *models.PipelineState) error {
	switch node {
	case models.NodeOutline:
		return p.runOutline(ctx, state)
	case models.NodePerspectives:
		return p.runPerspectives(ctx, state)
	case models.NodeContent:
		return p.runContent(ctx, state)
	case models.NodeFusion:
		return p.runFusion(ctx, state)
	default:
		return fmt.Errorf("research: unknown pipeline node %q", node)
	}
}
