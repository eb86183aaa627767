package inbox

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"sidekick/internal/audio"
	"sidekick/internal/reliability"
)

// Recorder records one utterance and returns its transcript.
type Recorder interface {
	Record(ctx context.Context, mute audio.MuteSignal) (string, error)
}

// DispatchLoop keeps capture sessions running and feeds their transcripts to
// the queue.
type DispatchLoop struct {
	rec     Recorder
	queue   *Queue
	mute    *Mute
	hold    audio.MuteSignal
	backoff reliability.Backoff
}

// SignalFunc adapts a predicate to audio.MuteSignal.
type SignalFunc func() bool

func (f SignalFunc) Muted() bool { return f() }

// anyMuted is muted while any of its signals is.
type anyMuted []audio.MuteSignal

func (a anyMuted) Muted() bool {
	for _, s := range a {
		if s != nil && s.Muted() {
			return true
		}
	}
	return false
}

const holdPoll = 20 * time.Millisecond

func NewDispatchLoop(rec Recorder, q *Queue, mute *Mute) *DispatchLoop {
	return &DispatchLoop{
		rec:     rec,
		queue:   q,
		mute:    mute,
		backoff: reliability.Backoff{Base: time.Second, Cap: 30 * time.Second},
	}
}

// HoldWhile pauses capture while s reports muted, for example while an
// answer is spoken. A session in progress when s turns on is discarded.
func (l *DispatchLoop) HoldWhile(s audio.MuteSignal) {
	l.hold = s
}

// Run returns when ctx is cancelled.
func (l *DispatchLoop) Run(ctx context.Context) error {
	for {
		if err := l.mute.WaitUnmuted(ctx); err != nil {
			return nil
		}
		if err := l.waitReleased(ctx); err != nil {
			return nil
		}

		text, err := l.rec.Record(ctx, anyMuted{l.mute, l.hold})
		if ctx.Err() != nil {
			return nil
		}

		var devErr *audio.CaptureDeviceError
		switch {
		case errors.As(err, &devErr):
			delay := l.backoff.Next()
			log.Error("Audio capture failed", "err", err, "retry_in", delay)
			if reliability.Sleep(ctx, delay) != nil {
				return nil
			}
		case err != nil:
			l.backoff.Reset()
			log.Warn("Transcription failed", "err", err)
		default:
			l.backoff.Reset()
			if text == "" {
				continue
			}
			log.Debug("Transcribed speech", "text", text)
			l.queue.Push(Message{Text: text, Source: SourceVoice})
		}
	}
}

func (l *DispatchLoop) waitReleased(ctx context.Context) error {
	if l.hold == nil || !l.hold.Muted() {
		return nil
	}
	log.Debug("Capture on hold")
	t := time.NewTicker(holdPoll)
	defer t.Stop()
	for l.hold.Muted() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
