// Package stt turns recorded speech into text.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"sidekick/pkg/audioconv"
)

type Options struct {
	Language      string // "auto", "en", ...
	TranslateToEn bool
	Threads       int // <=0 uses every CPU
	InitialPrompt string
	BeamSize      int // 0 keeps greedy decoding
}

// Whisper transcribes with a local whisper.cpp model.
type Whisper struct {
	opt Options

	mu    sync.Mutex
	model whisper.Model
}

func NewWhisper(modelPath string, opt Options) (*Whisper, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Whisper{opt: opt, model: m}, nil
}

func (w *Whisper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}

func (w *Whisper) Transcribe(ctx context.Context, path string) (string, error) {
	pcm, err := audioconv.DecodeFile(ctx, path, audioconv.Options{SampleRate: audioconv.DefaultSampleRate})
	if err != nil {
		return "", err
	}
	return w.TranscribePCM(ctx, pcm)
}

// TranscribePCM runs the model over mono 16 kHz samples in [-1, 1].
func (w *Whisper) TranscribePCM(ctx context.Context, pcm []float32) (string, error) {
	if len(pcm) == 0 {
		return "", errors.New("no audio samples provided")
	}

	// One inference at a time per loaded model.
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.model == nil {
		return "", errors.New("model closed")
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("new context: %w", err)
	}

	lang := w.opt.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(w.opt.TranslateToEn)

	threads := w.opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))
	if w.opt.BeamSize > 0 {
		wctx.SetBeamSize(w.opt.BeamSize)
	}
	if w.opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(w.opt.InitialPrompt)
	}

	if err := wctx.Process(pcm, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process: %w", err)
	}

	var parts []string
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("next segment: %w", err)
		}
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
