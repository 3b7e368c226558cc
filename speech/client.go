package speech

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperModel transcribes through an OpenAI-compatible
// /audio/transcriptions endpoint.
type WhisperModel struct {
	client *openai.Client
	model  string
}

func NewWhisperModel(client *openai.Client, model string) *WhisperModel {
	return &WhisperModel{client: client, model: model}
}

// CheckModel verifies the endpoint serves the model. Endpoints that list
// nothing are accepted.
func (w *WhisperModel) CheckModel(ctx context.Context) error {
	list, err := w.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	if len(list.Models) == 0 {
		return nil
	}
	for _, m := range list.Models {
		if m.ID == w.model || modelSize(m.ID) == modelSize(w.model) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrModelNotFound, w.model)
}

func (w *WhisperModel) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return resp.Text, nil
}
