package research

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/researchd/pkg/agent"
	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/models"
	"github.com/deepresearch/researchd/pkg/repair"
)

func TestExpertCountForBreadth(t *testing.T) {
	tests := []struct {
		name    string
		breadth models.Breadth
		want    int
	}{
		{"low", models.BreadthLow, 1},
		{"medium", models.BreadthMedium, 3},
		{"high", models.BreadthHigh, 5},
		{"unknown defaults to medium count", models.Breadth("bogus"), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, expertCountForBreadth(tt.breadth))
		})
	}
}

func TestSectionRetryDelays(t *testing.T) {
	t.Run("two retries reproduces the reference 500ms, 1s tuple", func(t *testing.T) {
		delays := sectionRetryDelays(2)
		require.Len(t, delays, 2)
		assert.Equal(t, 500*time.Millisecond, delays[0])
		assert.Equal(t, 1*time.Second, delays[1])
	})

	t.Run("negative retries yields no delays", func(t *testing.T) {
		assert.Empty(t, sectionRetryDelays(-1))
	})

	t.Run("delays double each step", func(t *testing.T) {
		delays := sectionRetryDelays(4)
		require.Len(t, delays, 4)
		for i := 1; i < len(delays); i++ {
			assert.Equal(t, delays[i-1]*2, delays[i])
		}
	})
}

func TestBuildLowBreadthDocument(t *testing.T) {
	outline := &models.Outline{
		DocumentTitle: "Doc",
		Sections: []models.OutlineSection{
			{SectionTitle: "Intro"},
			{SectionTitle: "Body"},
		},
	}

	t.Run("uses each section's first expert row", func(t *testing.T) {
		state := &models.PipelineState{
			DocumentOutline: outline,
			PerspectiveContent: &models.PerspectiveContent{
				Matrix: [][]string{{"intro text", "ignored second expert"}, {"body text"}},
			},
		}
		doc := buildLowBreadthDocument(state)
		require.Len(t, doc.Sections, 2)
		assert.Equal(t, "intro text", doc.Sections[0].Content)
		assert.Equal(t, "body text", doc.Sections[1].Content)
		assert.Empty(t, doc.Sections[0].Citations)
	})

	t.Run("falls back when a row is empty or missing", func(t *testing.T) {
		state := &models.PipelineState{
			DocumentOutline: outline,
			PerspectiveContent: &models.PerspectiveContent{
				Matrix: [][]string{{""}},
			},
		}
		doc := buildLowBreadthDocument(state)
		require.Len(t, doc.Sections, 2)
		assert.Contains(t, doc.Sections[0].Content, "Could not generate section content")
		assert.Contains(t, doc.Sections[1].Content, "Could not generate section content")
	})

	t.Run("nil perspective content falls back for every section", func(t *testing.T) {
		state := &models.PipelineState{DocumentOutline: outline}
		doc := buildLowBreadthDocument(state)
		require.Len(t, doc.Sections, 2)
		for _, s := range doc.Sections {
			assert.Contains(t, s.Content, "Could not generate section content")
		}
	})
}

// scriptedClient is a deterministic stand-in for agent.LLMClient: respond
// inspects the outgoing system prompt and returns canned text with no tool
// calls, so PlanAndExecute/GenerateStructured terminate on their first turn.
type scriptedClient struct {
	respond func(input *agent.GenerateInput) string
}

func (c *scriptedClient) Generate(_ context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	ch := make(chan agent.Chunk, 1)
	ch <- &agent.TextChunk{Content: c.respond(input)}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) Close() error { return nil }

type noopToolExecutor struct{}

func (noopToolExecutor) Execute(_ context.Context, call agent.ToolCall) (*agent.ToolResult, error) {
	return &agent.ToolResult{CallID: call.ID, Name: call.Name}, nil
}
func (noopToolExecutor) ListTools(_ context.Context) ([]agent.ToolDefinition, error) { return nil, nil }
func (noopToolExecutor) Close() error                                               { return nil }

func systemPromptOf(input *agent.GenerateInput) string {
	for _, m := range input.Messages {
		if m.Role == agent.RoleSystem {
			return m.Content
		}
	}
	return ""
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	providers := map[string]*config.LLMProviderConfig{
		"primary":   {},
		"secondary": {},
		"mini":      {},
	}
	return &config.Config{
		Defaults: &config.Defaults{
			LLMProvider:          "primary",
			MiniLLMProvider:      "mini",
			SecondaryLLMProvider: "secondary",
		},
		Pipeline:            config.DefaultPipelineConfig(),
		LLMProviderRegistry: config.NewLLMProviderRegistry(providers),
	}
}

func TestRunResumable_LowBreadthEndToEnd(t *testing.T) {
	client := &scriptedClient{
		respond: func(input *agent.GenerateInput) string {
			prompt := systemPromptOf(input)
			switch {
			case strings.Contains(prompt, "generate a detailed outline"):
				return `{"document_title":"Doc","document_description":"D","sections":[{"section_title":"Intro","description":"d"}]}`
			case strings.Contains(prompt, "generate the perspectives"):
				return `{"experts":[{"name":"E","profession":"P","role":"R"}]}`
			case strings.Contains(prompt, "role is:"):
				return "expert content for the section"
			case strings.Contains(prompt, "Summarize the following content"):
				return "a short summary"
			default:
				return ""
			}
		},
	}

	cfg := testConfig(t)
	repairer := repair.New(client, cfg.LLMProviderRegistry.GetAll()["mini"], cfg.Pipeline)
	request := models.ResearchRequest{ResearchIdea: "idea", ModelTier: models.ModelTierPro, Breadth: models.BreadthLow}

	pipeline, err := New(client, noopToolExecutor{}, repairer, cfg, request)
	require.NoError(t, err)

	var checkpoints []models.PipelineNode
	onCheckpoint := func(_ context.Context, node models.PipelineNode, _ []byte, _ *models.PipelineNode) error {
		checkpoints = append(checkpoints, node)
		return nil
	}

	state, err := pipeline.RunResumable(context.Background(), "idea", nil, nil, nil, onCheckpoint)
	require.NoError(t, err)

	assert.Equal(t, []models.PipelineNode{models.NodeOutline, models.NodePerspectives, models.NodeContent, models.NodeFusion}, checkpoints)
	require.NotNil(t, state.DocumentOutline)
	assert.Equal(t, "Doc", state.DocumentOutline.DocumentTitle)
	require.NotNil(t, state.FinalDocument)
	require.Len(t, state.FinalDocument.Sections, 1)
	assert.Equal(t, "expert content for the section", state.FinalDocument.Sections[0].Content)
}

func TestRunResumable_AlreadyDoneReturnsImmediately(t *testing.T) {
	client := &scriptedClient{respond: func(*agent.GenerateInput) string { return "" }}
	cfg := testConfig(t)
	repairer := repair.New(client, cfg.LLMProviderRegistry.GetAll()["mini"], cfg.Pipeline)
	request := models.ResearchRequest{Breadth: models.BreadthLow}

	pipeline, err := New(client, noopToolExecutor{}, repairer, cfg, request)
	require.NoError(t, err)

	existing := models.PipelineState{
		DocumentOutline:    &models.Outline{DocumentTitle: "T"},
		Perspectives:       &models.Perspectives{Experts: []models.Expert{{Name: "E"}}},
		PerspectiveContent: &models.PerspectiveContent{Matrix: [][]string{}},
		FinalDocument:      &models.CompleteDocument{Title: "T"},
	}
	raw, err := Serialize(existing)
	require.NoError(t, err)

	called := false
	onCheckpoint := func(context.Context, models.PipelineNode, []byte, *models.PipelineNode) error {
		called = true
		return nil
	}

	state, err := pipeline.RunResumable(context.Background(), "idea", raw, nil, nil, onCheckpoint)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, "T", state.DocumentOutline.DocumentTitle)
}
