package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// GenAIClient is the concrete LLMClient backed directly by Google's Gemini
// API via the official genai SDK. It keeps no genai.Client of its own: API
// key + model are resolved per-call from GenerateInput.Config, since a
// single researchd process talks to whichever provider each pipeline stage
// is configured for.
type GenAIClient struct{}

// NewGenAIClient constructs a GenAIClient. It holds no process-wide state;
// every call builds a short-lived genai.Client scoped to the request's
// provider config, since API keys can differ per stage (Q: model tiers).
func NewGenAIClient() *GenAIClient {
	return &GenAIClient{}
}

// Close is a no-op: GenAIClient holds no persistent connection to close.
func (c *GenAIClient) Close() error { return nil }

// Generate streams a conversation through Gemini, translating SDK response
// parts into the Chunk types the rest of pkg/agent already speaks.
func (c *GenAIClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	if input.Config == nil {
		return nil, fmt.Errorf("llm: generate input missing provider config")
	}

	apiKey := os.Getenv(input.Config.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("llm: environment variable %s is not set", input.Config.APIKeyEnv)
	}

	clientCfg := &genai.ClientConfig{APIKey: apiKey}
	if input.Config.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: input.Config.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create genai client: %w", err)
	}

	contents, systemInstruction := toGenAIContents(input.Messages)

	genCfg := &genai.GenerateContentConfig{}
	if systemInstruction != nil {
		genCfg.SystemInstruction = systemInstruction
	}
	if len(input.Tools) > 0 {
		genCfg.Tools = toGenAITools(input.Tools)
	}

	out := make(chan Chunk, 16)

	go func() {
		defer close(out)

		stream := client.Models.GenerateContentStream(ctx, input.Config.Model, contents, genCfg)
		var usage UsageChunk

		for resp, err := range stream {
			if err != nil {
				out <- &ErrorChunk{Message: err.Error(), Retryable: isRetryableGenAIError(err)}
				return
			}
			if resp.UsageMetadata != nil {
				usage = UsageChunk{
					InputTokens:    int(resp.UsageMetadata.PromptTokenCount),
					OutputTokens:   int(resp.UsageMetadata.CandidatesTokenCount),
					TotalTokens:    int(resp.UsageMetadata.TotalTokenCount),
					ThinkingTokens: int(resp.UsageMetadata.ThoughtsTokenCount),
				}
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			emitPartChunks(ctx, out, resp.Candidates[0].Content.Parts)
			if g := groundingChunkFromCandidate(resp.Candidates[0]); g != nil {
				select {
				case out <- g:
				case <-ctx.Done():
					return
				}
			}
		}

		select {
		case out <- &usage:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

func emitPartChunks(ctx context.Context, out chan<- Chunk, parts []*genai.Part) {
	for _, part := range parts {
		var chunk Chunk
		switch {
		case part.Text != "" && part.Thought:
			chunk = &ThinkingChunk{Content: part.Text}
		case part.Text != "":
			chunk = &TextChunk{Content: part.Text}
		case part.FunctionCall != nil:
			args, _ := marshalFunctionArgs(part.FunctionCall.Args)
			chunk = &ToolCallChunk{
				CallID:    part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: args,
			}
		case part.ExecutableCode != nil:
			chunk = &CodeExecutionChunk{Code: part.ExecutableCode.Code}
		case part.CodeExecutionResult != nil:
			chunk = &CodeExecutionChunk{Result: part.CodeExecutionResult.Output}
		default:
			continue
		}
		select {
		case out <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

func groundingChunkFromCandidate(cand *genai.Candidate) *GroundingChunk {
	if cand.GroundingMetadata == nil {
		return nil
	}
	gm := cand.GroundingMetadata
	g := &GroundingChunk{WebSearchQueries: gm.WebSearchQueries}
	for _, c := range gm.GroundingChunks {
		if c.Web != nil {
			g.Sources = append(g.Sources, GroundingSource{URI: c.Web.URI, Title: c.Web.Title})
		}
	}
	for _, s := range gm.GroundingSupports {
		if s.Segment == nil {
			continue
		}
		indices := make([]int, len(s.GroundingChunkIndices))
		for i, idx := range s.GroundingChunkIndices {
			indices[i] = int(idx)
		}
		g.Supports = append(g.Supports, GroundingSupport{
			StartIndex:            int(s.Segment.StartIndex),
			EndIndex:              int(s.Segment.EndIndex),
			Text:                  s.Segment.Text,
			GroundingChunkIndices: indices,
		})
	}
	if gm.SearchEntryPoint != nil {
		g.SearchEntryPointHTML = gm.SearchEntryPoint.RenderedContent
	}
	if len(g.Sources) == 0 && len(g.Supports) == 0 && len(g.WebSearchQueries) == 0 {
		return nil
	}
	return g
}

func toGenAIContents(messages []ConversationMessage) ([]*genai.Content, *genai.Content) {
	var systemInstruction *genai.Content
	contents := make([]*genai.Content, 0, len(messages))

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			systemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case RoleTool:
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{
				genai.NewPartFromFunctionResponse(m.ToolName, map[string]any{"result": m.Content}),
			}, genai.RoleUser))
		case RoleAssistant:
			parts := []*genai.Part{}
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Name, map[string]any{"raw": tc.Arguments}))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, systemInstruction
}

func toGenAITools(defs []ToolDefinition) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, d := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        d.Name,
			Description: d.Description,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func marshalFunctionArgs(args map[string]any) (string, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func isRetryableGenAIError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	return false
}
