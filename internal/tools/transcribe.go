package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

type transcribeArgs struct {
	FileName string `json:"file_name"`
}

// TranscribeTool exposes a Transcriber for audio files in the datalake
// (wav, mp3, ogg vorbis, ogg opus).
func TranscribeTool(lake Datalake, tr Transcriber) Tool {
	return Func("transcribe_audio",
		"Transcribe a recorded audio file (wav, mp3, ogg) from the datalake directory into text.",
		Schema{
			Properties: map[string]Property{
				"file_name": {Type: "string", Description: "Name of the audio file in the datalake directory."},
			},
			Required: []string{"file_name"},
		},
		func(ctx context.Context, a transcribeArgs) (string, error) {
			path, err := lake.Path(a.FileName)
			if err != nil {
				return "", err
			}
			if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
				return fmt.Sprintf("Error: File not found at %s", path), nil
			}
			text, err := tr.Transcribe(ctx, path)
			if err != nil {
				return "", err
			}
			if text = strings.TrimSpace(text); text == "" {
				return "(no speech detected)", nil
			}
			return text, nil
		},
	)
}
