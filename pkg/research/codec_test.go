package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/researchd/pkg/models"
)

func TestDeserialize_EmptyAndMalformed(t *testing.T) {
	t.Run("empty payload yields zero-value state", func(t *testing.T) {
		state := Deserialize(nil)
		assert.Empty(t, state.ResearchIdea)
		assert.Nil(t, state.DocumentOutline)
	})

	t.Run("malformed top-level JSON yields zero-value state", func(t *testing.T) {
		state := Deserialize([]byte("not json"))
		assert.Nil(t, state.DocumentOutline)
		assert.Nil(t, state.Perspectives)
	})

	t.Run("malformed field is dropped, rest of state survives", func(t *testing.T) {
		raw := []byte(`{"research_idea":"idea","document_outline":"not an outline"}`)
		state := Deserialize(raw)
		assert.Equal(t, "idea", state.ResearchIdea)
		assert.Nil(t, state.DocumentOutline)
	})
}

func TestDeserialize_LegacyKeyAliases(t *testing.T) {
	raw := []byte(`{"research_idea":"idea","documentOutline":{"document_title":"T","document_description":"D","sections":[]}}`)
	state := Deserialize(raw)
	require.NotNil(t, state.DocumentOutline)
	assert.Equal(t, "T", state.DocumentOutline.DocumentTitle)
}

func TestSerializeDeserialize_RoundTrip(t *testing.T) {
	state := models.PipelineState{
		ResearchIdea: "idea",
		DocumentOutline: &models.Outline{
			DocumentTitle: "T",
			Sections:      []models.OutlineSection{{SectionTitle: "S1"}},
		},
		PerspectiveContent: &models.PerspectiveContent{
			Matrix: [][]string{{"a", "b"}, {"c", "d"}},
		},
	}

	raw, err := Serialize(state)
	require.NoError(t, err)

	got := Deserialize(raw)
	assert.Equal(t, "idea", got.ResearchIdea)
	require.NotNil(t, got.DocumentOutline)
	assert.Equal(t, "T", got.DocumentOutline.DocumentTitle)
	require.NotNil(t, got.PerspectiveContent)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, got.PerspectiveContent.Matrix)
}

func TestSerialize_PerspectiveContentIsBareMatrix(t *testing.T) {
	state := models.PipelineState{
		PerspectiveContent: &models.PerspectiveContent{Matrix: [][]string{{"x"}}},
	}
	raw, err := Serialize(state)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"perspective_content":[["x"]]`)
}

func TestNextNodeAfter(t *testing.T) {
	tests := []struct {
		name string
		node models.PipelineNode
		want *models.PipelineNode
	}{
		{"outline to perspectives", models.NodeOutline, nodePtr(models.NodePerspectives)},
		{"perspectives to content", models.NodePerspectives, nodePtr(models.NodeContent)},
		{"content to fusion", models.NodeContent, nodePtr(models.NodeFusion)},
		{"fusion is last", models.NodeFusion, nil},
		{"unknown node", models.NodeDone, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := nextNodeAfter(tt.node)
			if tt.want == nil {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, *tt.want, *got)
			}
		})
	}
}

func TestResolveResumeNode(t *testing.T) {
	outline := &models.Outline{DocumentTitle: "T"}
	perspectives := &models.Perspectives{Experts: []models.Expert{{Name: "E"}}}

	t.Run("nil request falls back to default resume node", func(t *testing.T) {
		state := models.PipelineState{}
		got := ResolveResumeNode(nil, state)
		require.NotNil(t, got)
		assert.Equal(t, models.NodeOutline, *got)
	})

	t.Run("requested node honored when its prerequisites are satisfied", func(t *testing.T) {
		state := models.PipelineState{DocumentOutline: outline}
		requested := models.NodePerspectives
		got := ResolveResumeNode(&requested, state)
		require.NotNil(t, got)
		assert.Equal(t, models.NodePerspectives, *got)
	})

	t.Run("requested node ignored when its prerequisites are missing", func(t *testing.T) {
		state := models.PipelineState{}
		requested := models.NodeFusion
		got := ResolveResumeNode(&requested, state)
		require.NotNil(t, got)
		assert.Equal(t, models.NodeOutline, *got)
	})

	t.Run("requested content honored once outline and perspectives exist", func(t *testing.T) {
		state := models.PipelineState{DocumentOutline: outline, Perspectives: perspectives}
		requested := models.NodeContent
		got := ResolveResumeNode(&requested, state)
		require.NotNil(t, got)
		assert.Equal(t, models.NodeContent, *got)
	})

	t.Run("all stages complete resolves to nil", func(t *testing.T) {
		state := models.PipelineState{
			DocumentOutline:    outline,
			Perspectives:       perspectives,
			PerspectiveContent: &models.PerspectiveContent{Matrix: [][]string{}},
			FinalDocument:      &models.CompleteDocument{Title: "T"},
		}
		assert.Nil(t, ResolveResumeNode(nil, state))
	})

	t.Run("unknown requested node falls back to default", func(t *testing.T) {
		state := models.PipelineState{}
		requested := models.PipelineNode("bogus")
		got := ResolveResumeNode(&requested, state)
		require.NotNil(t, got)
		assert.Equal(t, models.NodeOutline, *got)
	})
}

func nodePtr(n models.PipelineNode) *models.PipelineNode { return &n }
