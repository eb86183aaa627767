package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	log "log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	openai "github.com/openai/openai-go/v3"
)

// Asker answers a single user message with the model.
type Asker interface {
	Ask(ctx context.Context, msg openai.ChatCompletionMessageParamUnion, maxTokens int64) (string, error)
}

// OpenAIAsker issues non-streaming completions.
type OpenAIAsker struct {
	Client openai.Client
	Model  string
}

func (a OpenAIAsker) Ask(ctx context.Context, msg openai.ChatCompletionMessageParamUnion, maxTokens int64) (string, error) {
	model := a.Model
	if model == "" {
		model = string(openai.ChatModelGPT4o)
	}
	resp, err := a.Client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            []openai.ChatCompletionMessageParamUnion{msg},
		MaxCompletionTokens: openai.Int(maxTokens),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

type analyzeArgs struct {
	Question string `json:"question"`
	FileName string `json:"file_name"`
}

// Analyzer answers questions about images and PDF files in the datalake.
type Analyzer struct {
	lake  Datalake
	asker Asker
}

func NewAnalyzer(lake Datalake, asker Asker) *Analyzer {
	return &Analyzer{lake: lake, asker: asker}
}

func (an *Analyzer) Tool() Tool {
	return Func("analyze_file",
		"Analyze either an image or PDF file, using computer vision, to return valuable data or answer questions about it. "+
			"Make sure you know the exact name of the file (i.e. might have to list directory tool first) before you open it!",
		Schema{
			Properties: map[string]Property{
				"question":  {Type: "string", Description: "Question or instruction about what to analyze in the file. Be comprehensive."},
				"file_name": {Type: "string", Description: "Name of the file in the datalake directory."},
			},
			Required: []string{"file_name", "question"},
		},
		an.analyze,
	)
}

func (an *Analyzer) analyze(ctx context.Context, a analyzeArgs) (string, error) {
	path, err := an.lake.Path(a.FileName)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return fmt.Sprintf("Error: File not found at %s", path), nil
	}

	log.Info("Analyzing file", "path", path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".pdf" {
		text, err := pdfText(path)
		if err != nil {
			return "", err
		}
		msg := openai.UserMessage(fmt.Sprintf("PDF Content:\n%s\n\nQuestion: %s", text, a.Question))
		return an.asker.Ask(ctx, msg, 500)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mimeType := mime.TypeByExtension(ext)
	if !strings.HasPrefix(mimeType, "image/") {
		return fmt.Sprintf("Error: %s is neither an image nor a PDF file", filepath.Base(path)), nil
	}
	url := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)

	msg := openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(a.Question),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
	})
	return an.asker.Ask(ctx, msg, 3000)
}

func pdfText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return b.String(), nil
}
