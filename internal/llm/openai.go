// Package llm is the AI text-generation collaborator used for consultation
// summaries.
package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

const defaultModel = "gpt-4o-mini"

const systemPrompt = "You summarise medical consultations for the patient. " +
	"Answer in the language of the clinician notes. Be brief and do not invent findings."

// OpenAIClient calls the OpenAI chat completion API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient constructs a client. An empty model selects the default.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = defaultModel
	}
	return &OpenAIClient{client: openai.NewClient(apiKey), model: model}
}

// Summarize returns the model's summary of prompt.
func (c *OpenAIClient) Summarize(ctx context.Context, prompt string) (string, error) {
	if c == nil || c.client == nil {
		return "", errors.New("openai client not initialized")
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Func adapts a plain function to the summarizer interface.
type Func func(ctx context.Context, prompt string) (string, error)

func (f Func) Summarize(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }
