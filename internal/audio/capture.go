package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"sidekick/internal/observability"
)

// Input opens audio streams delivering mono float frames.
type Input interface {
	Open(ctx context.Context) (Stream, error)
}

type Stream interface {
	// Read fills frame with the next samples, blocking until they arrive.
	Read(frame []float32) error
	Close() error
}

// Transcriber converts an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// MuteSignal reports whether capture is currently muted.
type MuteSignal interface {
	Muted() bool
}

// CaptureDeviceError reports an unusable audio input.
type CaptureDeviceError struct {
	Op  string
	Err error
}

func (e *CaptureDeviceError) Error() string {
	return fmt.Sprintf("capture device: %s: %v", e.Op, e.Err)
}

func (e *CaptureDeviceError) Unwrap() error { return e.Err }

type CaptureOptions struct {
	VAD VADConfig
	// Dir holds the transient capture artifacts.
	Dir string
	// OnState observes session state changes.
	OnState func(State)
	// OnCommit runs when an utterance is committed, before transcription.
	OnCommit func()
	Metrics  *observability.Metrics
}

// Capturer runs capture sessions against one input.
type Capturer struct {
	in  Input
	tr  Transcriber
	opt CaptureOptions
	seq atomic.Uint64
}

func NewCapturer(in Input, tr Transcriber, opt CaptureOptions) *Capturer {
	if opt.VAD.SampleRate == 0 {
		opt.VAD = DefaultVADConfig()
	}
	if opt.Dir == "" {
		opt.Dir = os.TempDir()
	}
	return &Capturer{in: in, tr: tr, opt: opt}
}

// Session prepares the next recording pass.
func (c *Capturer) Session() *Session {
	return &Session{
		c:   c,
		seq: c.seq.Add(1),
		det: NewDetector(c.opt.VAD),
	}
}

// Session is one recording pass: it records a single utterance and
// transcribes it. A Session is not reusable.
type Session struct {
	c   *Capturer
	seq uint64
	det *Detector
	buf []float32
}

func (s *Session) State() State { return s.det.State() }

// ArtifactPath is where the committed audio is stored while it is transcribed.
func (s *Session) ArtifactPath() string {
	return filepath.Join(s.c.opt.Dir, fmt.Sprintf("capture-%d.wav", s.seq))
}

// Run records until an utterance is committed or the session is discarded by
// mute or cancellation, and returns the transcript. A discarded session
// returns "" and a nil error unless ctx was cancelled.
func (s *Session) Run(ctx context.Context, mute MuteSignal) (string, error) {
	stream, err := s.c.in.Open(ctx)
	if err != nil {
		s.c.opt.Metrics.CaptureSession("device_error")
		return "", &CaptureDeviceError{Op: "open", Err: err}
	}
	s.transition(s.det.Arm)

	committed, err := s.record(ctx, stream, mute)
	if cerr := stream.Close(); cerr != nil {
		log.Warn("Failed to close audio stream", "err", cerr)
	}
	if err != nil {
		return "", err
	}
	if !committed {
		s.c.opt.Metrics.CaptureSession("discarded")
		return "", ctx.Err()
	}

	s.c.opt.Metrics.CaptureSession("committed")
	if s.c.opt.OnCommit != nil {
		s.c.opt.OnCommit()
	}
	return s.transcribe(ctx)
}

func (s *Session) record(ctx context.Context, stream Stream, mute MuteSignal) (bool, error) {
	frame := make([]float32, s.c.opt.VAD.FrameSize)
	for {
		if ctx.Err() != nil || (mute != nil && mute.Muted()) {
			s.transition(s.det.Discard)
			s.buf = nil
			return false, nil
		}

		if err := stream.Read(frame); err != nil {
			s.c.opt.Metrics.CaptureSession("device_error")
			return false, &CaptureDeviceError{Op: "read", Err: err}
		}

		var decision Decision
		s.transition(func() { decision = s.det.Feed(frame) })
		switch decision {
		case Keep:
			s.buf = append(s.buf, frame...)
		case Reset:
			log.Debug("Utterance too short, listening again", "seq", s.seq)
			s.buf = s.buf[:0]
		case Commit:
			return true, nil
		}
	}
}

// transcribe persists the buffer, transcribes it and removes the artifact.
func (s *Session) transcribe(ctx context.Context) (string, error) {
	path := s.ArtifactPath()
	samples := s.buf
	s.buf = nil

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create capture dir: %w", err)
	}
	if err := WriteWAV(path, samples, s.c.opt.VAD.SampleRate); err != nil {
		return "", fmt.Errorf("write capture artifact: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to remove capture artifact", "path", path, "err", err)
		}
	}()

	log.Debug("Transcribing capture", "path", path, "seconds", float64(len(samples))/float64(s.c.opt.VAD.SampleRate))
	text, err := s.c.tr.Transcribe(ctx, path)
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", filepath.Base(path), err)
	}
	return strings.TrimSpace(text), nil
}

func (s *Session) transition(step func()) {
	before := s.det.State()
	step()
	if after := s.det.State(); after != before {
		log.Debug("Capture state", "seq", s.seq, "from", before, "to", after)
		if s.c.opt.OnState != nil {
			s.c.opt.OnState(after)
		}
	}
}

// Record runs one session to completion.
func (c *Capturer) Record(ctx context.Context, mute MuteSignal) (string, error) {
	return c.Session().Run(ctx, mute)
}
