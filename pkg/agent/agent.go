// Package agent provides the reasoning-agent abstraction the research
// pipeline's four stages are built on: a stage never drives an LLM
// conversation directly, it calls PlanAndExecute (or GenerateStructured) and
// lets the tool-calling loop in this package handle the back-and-forth.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ErrStructuredOutput is returned by GenerateStructured when the model's
// final answer does not decode into the requested type. Callers retry once
// on this error per the content-shape error kind.
type ErrStructuredOutput struct {
	Raw string
	Err error
}

func (e *ErrStructuredOutput) Error() string {
	return fmt.Sprintf("structured output validation error: %v", e.Err)
}

func (e *ErrStructuredOutput) Unwrap() error { return e.Err }

// ReasoningAgent drives a tool-calling loop against an LLMClient until the
// model emits a terminal text answer. A pipeline stage never inspects the
// loop internals; it only sees the final text or a structured decode of it.
type ReasoningAgent struct {
	Client   LLMClient
	Config   *GenerateInput // Config/Tools fields are reused per call; Messages is overwritten
	Executor ToolExecutor
}

// NewReasoningAgent builds an agent bound to one LLM provider config and one
// tool executor. callers construct a fresh ReasoningAgent per pipeline stage
// invocation (outline / perspectives / per-expert content / fusion) so that
// conversation history never leaks across stages.
func NewReasoningAgent(client LLMClient, input *GenerateInput, executor ToolExecutor) *ReasoningAgent {
	return &ReasoningAgent{Client: client, Config: input, Executor: executor}
}

// PlanAndExecute runs systemPrompt + userMessages through the tool-calling
// loop and returns the model's final, non-tool-call text answer.
func (a *ReasoningAgent) PlanAndExecute(ctx context.Context, systemPrompt string, userMessages []ConversationMessage) (string, error) {
	messages := make([]ConversationMessage, 0, len(userMessages)+1)
	if systemPrompt != "" {
		messages = append(messages, ConversationMessage{Role: RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, userMessages...)

	const maxTurns = 12 // generous upper bound; a well-behaved model terminates in 1-3
	for turn := 0; turn < maxTurns; turn++ {
		text, toolCalls, err := a.generateOnce(ctx, messages)
		if err != nil {
			return "", err
		}
		if len(toolCalls) == 0 {
			return text, nil
		}

		messages = append(messages, ConversationMessage{Role: RoleAssistant, Content: text, ToolCalls: toolCalls})
		for _, call := range toolCalls {
			result, execErr := a.Executor.Execute(ctx, call)
			content := ""
			switch {
			case execErr != nil:
				content = fmt.Sprintf("tool error: %v", execErr)
			case result != nil:
				content = result.Content
			}
			messages = append(messages, ConversationMessage{
				Role:     RoleTool,
				Content:  content,
				ToolName: call.Name,
			})
		}
	}
	return "", fmt.Errorf("llm: exceeded %d tool-calling turns without a terminal answer", maxTurns)
}

// generateOnce collects one streamed response into its accumulated text and
// any tool calls the model requested.
func (a *ReasoningAgent) generateOnce(ctx context.Context, messages []ConversationMessage) (string, []ToolCall, error) {
	input := &GenerateInput{
		SessionID:   a.Config.SessionID,
		ExecutionID: a.Config.ExecutionID,
		Config:      a.Config.Config,
		Tools:       a.Config.Tools,
		Messages:    messages,
	}

	chunks, err := a.Client.Generate(ctx, input)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var toolCalls []ToolCall
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *TextChunk:
			text.WriteString(c.Content)
		case *ToolCallChunk:
			toolCalls = append(toolCalls, ToolCall{ID: c.CallID, Name: c.Name, Arguments: c.Arguments})
		case *ErrorChunk:
			return "", nil, fmt.Errorf("llm: %s", c.Message)
		}
	}
	return text.String(), toolCalls, nil
}

// GenerateStructured runs one non-tool-calling generation (a stage's
// terminal call, e.g. "produce the Outline") and decodes the model's final
// text as JSON into T. It does not retry internally — stages retry once at
// their own call site per spec.md's content-shape error-handling policy,
// since a retry may need a reworded prompt.
func GenerateStructured[T any](ctx context.Context, client LLMClient, input *GenerateInput) (T, error) {
	var zero T

	chunks, err := client.Generate(ctx, input)
	if err != nil {
		return zero, err
	}

	var text strings.Builder
	for chunk := range chunks {
		switch c := chunk.(type) {
		case *TextChunk:
			text.WriteString(c.Content)
		case *ErrorChunk:
			return zero, fmt.Errorf("llm: %s", c.Message)
		}
	}

	raw := ExtractJSONObject(text.String())
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return zero, &ErrStructuredOutput{Raw: raw, Err: err}
	}
	return out, nil
}

// ExtractJSONObject trims a model's prose wrapper (and any ```json fence)
// around a JSON payload, returning the substring from the first '{' to the
// matching last '}'. Returns the input unchanged if no braces are found.
// Exported so a caller that mixes tool-calling with a structured final
// answer (PlanAndExecute followed by a JSON decode, rather than a plain
// GenerateStructured call) can reuse the same prose-stripping rule.
func ExtractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}
