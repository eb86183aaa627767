package stt

import (
	"context"
	"fmt"
	"os"
	"strings"

	openai "github.com/openai/openai-go/v3"
)

// OpenAI uploads the file to the OpenAI transcription endpoint.
type OpenAI struct {
	Client   openai.Client
	Model    string
	Language string
}

func (o OpenAI) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	model := o.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(model),
	}
	if o.Language != "" && o.Language != "auto" {
		params.Language = openai.String(o.Language)
	}

	resp, err := o.Client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
