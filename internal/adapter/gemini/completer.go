package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"vitae/internal/answer"
)

// Completer generates answer text with a Gemini chat model.
type Completer struct {
	client *genai.Client
	model  string
}

func NewCompleter(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*Completer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	opts = append(opts, option.WithAPIKey(apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Completer{client: client, model: model}, nil
}

func (c *Completer) Complete(ctx context.Context, req answer.CompletionRequest) (*answer.CompletionResponse, error) {
	system, convo := splitMessages(req.Messages)
	if len(convo) == 0 {
		return nil, fmt.Errorf("no user message in completion request")
	}

	m := c.client.GenerativeModel(c.model)
	if req.Temperature > 0 {
		m.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := m.StartChat()
	for _, msg := range convo[:len(convo)-1] {
		cs.History = append(cs.History, &genai.Content{
			Role:  geminiRole(msg.Role),
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	last := convo[len(convo)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		slog.ErrorContext(ctx, "completion failed", "model", c.model, "error", err)
		return nil, err
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("completion returned no text")
	}

	out := &answer.CompletionResponse{Text: text}
	if resp.UsageMetadata != nil {
		out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func (c *Completer) Close() error {
	return c.client.Close()
}

// splitMessages separates system instructions from the conversation.
// Gemini takes system text as a dedicated field, not a chat role.
func splitMessages(messages []answer.Message) (string, []answer.Message) {
	var system []string
	convo := make([]answer.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Content)
			continue
		}
		convo = append(convo, msg)
	}
	return strings.Join(system, "\n\n"), convo
}

func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return strings.TrimSpace(sb.String())
}
