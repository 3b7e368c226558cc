package translate

import (
	"context"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are a translation engine. Translate the user's message from Russian to English. " +
	"Reply with the translation only, without quotes or commentary. Keep names as they are."

// ChatModel translates through an OpenAI-compatible chat completion
// endpoint serving a translation model.
type ChatModel struct {
	client *openai.Client
	model  string
}

func NewChatModel(client *openai.Client, model string) *ChatModel {
	return &ChatModel{client: client, model: model}
}

// CheckModel verifies the endpoint serves the model. An endpoint that
// lists no models at all is accepted.
func (m *ChatModel) CheckModel(ctx context.Context) error {
	list, err := m.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	if len(list.Models) == 0 {
		return nil
	}
	for _, mdl := range list.Models {
		if mdl.ID == m.model {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrModelNotFound, m.model)
}

func (m *ChatModel) Translate(ctx context.Context, text string) (string, error) {
	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: m.model,
		// go-openai drops a zero temperature from the request body.
		Temperature: math.SmallestNonzeroFloat32,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyTranslation
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	out = strings.Trim(out, `"`)
	if out == "" {
		return "", ErrEmptyTranslation
	}
	return out, nil
}
