package tts

import (
	"context"
	log "log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"sidekick/internal/chat"
)

type Engine interface {
	Speak(ctx context.Context, text string) error
}

// Ducker lowers other playback while an answer is spoken.
type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

// Speaker is a chat.Sink that reads final answers aloud. Tool notices and
// failed turns are not spoken.
type Speaker struct {
	engine Engine
	duck   Ducker

	mu     sync.Mutex
	buf    strings.Builder
	failed bool

	answers  chan string
	speaking atomic.Bool
}

func NewSpeaker(engine Engine, duck Ducker) *Speaker {
	return &Speaker{
		engine:  engine,
		duck:    duck,
		answers: make(chan string, 8),
	}
}

func (s *Speaker) Emit(e chat.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case chat.EventFragment:
		s.buf.WriteString(e.Text)
	case chat.EventError:
		s.failed = true
	case chat.EventEndOfTurn:
		text := strings.TrimSpace(s.buf.String())
		failed := s.failed
		s.buf.Reset()
		s.failed = false
		if text == "" || failed {
			return
		}
		select {
		case s.answers <- text:
		default:
			log.Warn("Speech backlog full, skipping answer")
		}
	}
}

// Speaking reports whether an answer is being played.
func (s *Speaker) Speaking() bool { return s.speaking.Load() }

// Run speaks queued answers until ctx is cancelled.
func (s *Speaker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-s.answers:
			s.say(ctx, text)
		}
	}
}

func (s *Speaker) say(ctx context.Context, text string) {
	s.speaking.Store(true)
	defer s.speaking.Store(false)

	if s.duck != nil {
		if err := s.duck.Duck(ctx); err != nil {
			log.Warn("Failed to duck playback", "err", err)
		}
		defer func() {
			if err := s.duck.Restore(context.WithoutCancel(ctx)); err != nil {
				log.Warn("Failed to restore playback", "err", err)
			}
		}()
	}
	if err := s.engine.Speak(ctx, text); err != nil {
		log.Error("Failed to voice out", "err", err)
	}
}
