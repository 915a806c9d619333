package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nhle/mailwatch/internal/model"
)

// maxBodyRunes caps the body sent to the model.
const maxBodyRunes = 4000

const systemPrompt = `You analyze emails for a mail assistant.
Reply with a single JSON object and nothing else, using exactly these keys:
  "summary": one or two sentences in the language of the email,
  "priority": "low" | "medium" | "high",
  "sentiment": "positive" | "neutral" | "negative",
  "tags": array of short topic tags,
  "key_points": array of short strings,
  "action_required": true if the recipient must act,
  "confidence": number between 0 and 1.`

// OpenAIAnalyzer asks an OpenAI-compatible chat model for the analysis.
type OpenAIAnalyzer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIAnalyzer creates an analyzer. An empty baseURL uses the
// OpenAI API; any compatible endpoint may be given instead.
func NewOpenAIAnalyzer(apiKey, baseURL, model string, timeout time.Duration) *OpenAIAnalyzer {
	if model == "" {
		model = openai.GPT4oMini
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAIAnalyzer{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		timeout: timeout,
	}
}

// Analyze runs one chat completion in JSON mode.
func (a *OpenAIAnalyzer) Analyze(ctx context.Context, req Request) (*model.Enrichment, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, &AnalysisError{Provider: "openai", Err: fmt.Errorf("chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return nil, &AnalysisError{Provider: "openai", Err: fmt.Errorf("no response choices")}
	}

	content := stripCodeFence(resp.Choices[0].Message.Content)
	var res result
	if err := json.Unmarshal([]byte(content), &res); err != nil {
		return nil, &AnalysisError{Provider: "openai", Err: fmt.Errorf("decoding model output: %w", err)}
	}

	e, err := res.toEnrichment()
	if err != nil {
		return nil, &AnalysisError{Provider: "openai", Err: err}
	}
	return e, nil
}

func userPrompt(req Request) string {
	body := req.Body
	if r := []rune(body); len(r) > maxBodyRunes {
		body = string(r[:maxBodyRunes])
	}
	return fmt.Sprintf("From: %s\nSubject: %s\n\n%s", req.Sender, req.Subject, body)
}

// stripCodeFence removes a surrounding ``` fence some models add even in
// JSON mode.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
