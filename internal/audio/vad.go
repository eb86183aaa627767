package audio

import (
	"math"
	"time"
)

const (
	SampleRate = 16000
	FrameSize  = 320 // 20ms
)

type State int

const (
	StateIdle State = iota
	StateArmed
	StateVoiced
	StateTrailing
	StateCommitted
	StateDiscarded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateVoiced:
		return "voiced"
	case StateTrailing:
		return "trailing"
	case StateCommitted:
		return "committed"
	case StateDiscarded:
		return "discarded"
	}
	return "unknown"
}

// Terminal reports whether the session is over.
func (s State) Terminal() bool {
	return s == StateCommitted || s == StateDiscarded
}

type VADConfig struct {
	SampleRate int
	FrameSize  int
	// Threshold is the frame RMS above which a frame counts as speech.
	Threshold float64
	// Pause is the trailing silence that ends an utterance.
	Pause time.Duration
	// MinVoiced is the speech needed before an utterance is worth
	// transcribing.
	MinVoiced time.Duration
	// MaxLength caps an utterance measured from its first voiced frame.
	MaxLength time.Duration
}

func DefaultVADConfig() VADConfig {
	return VADConfig{
		SampleRate: SampleRate,
		FrameSize:  FrameSize,
		Threshold:  0.015,
		Pause:      2500 * time.Millisecond,
		MinVoiced:  500 * time.Millisecond,
		MaxLength:  30 * time.Second,
	}
}

// Frames converts a duration of audio to a whole number of frames, at least one.
func (c VADConfig) Frames(d time.Duration) int {
	n := int(d.Seconds() * float64(c.SampleRate) / float64(c.FrameSize))
	return max(n, 1)
}

// Decision tells the capture session what to do with the frame just fed.
type Decision int

const (
	// Skip drops the frame; nothing is being recorded.
	Skip Decision = iota
	// Keep appends the frame to the capture buffer.
	Keep
	// Reset drops the capture buffer; the detector is armed again.
	Reset
	// Commit ends the utterance; the buffer is ready for transcription.
	Commit
)

// Detector is the energy-based voice activity state machine. It has no I/O
// and is driven one frame at a time.
type Detector struct {
	threshold   float64
	pauseFrames int
	minVoiced   int
	maxFrames   int

	state  State
	silent int // consecutive sub-threshold frames while trailing
	voiced int // above-threshold frames in the current utterance
	total  int // frames buffered in the current utterance
}

func NewDetector(cfg VADConfig) *Detector {
	return &Detector{
		threshold:   cfg.Threshold,
		pauseFrames: cfg.Frames(cfg.Pause),
		minVoiced:   cfg.Frames(cfg.MinVoiced),
		maxFrames:   cfg.Frames(cfg.MaxLength),
		state:       StateIdle,
	}
}

func (d *Detector) State() State { return d.state }

// Arm marks the input stream as open.
func (d *Detector) Arm() {
	if d.state == StateIdle {
		d.state = StateArmed
	}
}

// Discard abandons the utterance unless it was already committed.
func (d *Detector) Discard() {
	if d.state != StateCommitted {
		d.state = StateDiscarded
	}
}

// Feed advances the state machine by one frame.
func (d *Detector) Feed(frame []float32) Decision {
	return d.FeedRMS(FrameRMS(frame))
}

func (d *Detector) FeedRMS(rms float64) Decision {
	loud := rms > d.threshold

	switch d.state {
	case StateArmed:
		if !loud {
			return Skip
		}
		d.state = StateVoiced
		d.voiced, d.total, d.silent = 1, 1, 0
		return d.checkLength()

	case StateVoiced, StateTrailing:
		d.total++
		if loud {
			d.state = StateVoiced
			d.voiced++
			d.silent = 0
			return d.checkLength()
		}
		d.state = StateTrailing
		d.silent++
		if d.silent >= d.pauseFrames {
			return d.finish()
		}
		return d.checkLength()
	}
	return Skip
}

func (d *Detector) checkLength() Decision {
	if d.total >= d.maxFrames {
		return d.finish()
	}
	return Keep
}

// finish commits the utterance when enough of it was speech and rearms
// otherwise.
func (d *Detector) finish() Decision {
	if d.voiced >= d.minVoiced {
		d.state = StateCommitted
		return Commit
	}
	d.state = StateArmed
	d.voiced, d.total, d.silent = 0, 0, 0
	return Reset
}

// FrameRMS is the root mean square of the samples.
func FrameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s / float64(len(f)))
}
