package audio

import (
	"testing"
	"time"
)

// 100 frames per second keeps the durations readable.
func testVAD() VADConfig {
	return VADConfig{
		SampleRate: 1000,
		FrameSize:  10,
		Threshold:  0.015,
		Pause:      50 * time.Millisecond, // 5 frames
		MinVoiced:  30 * time.Millisecond, // 3 frames
		MaxLength:  time.Second,           // 100 frames
	}
}

const (
	loud  = 0.2
	quiet = 0.001
)

func feedAll(d *Detector, levels ...float64) []Decision {
	out := make([]Decision, len(levels))
	for i, l := range levels {
		out[i] = d.FeedRMS(l)
	}
	return out
}

func repeat(level float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = level
	}
	return out
}

func TestDetectorSilenceNeverLeavesArmed(t *testing.T) {
	d := NewDetector(testVAD())
	d.Arm()
	for i, dec := range feedAll(d, repeat(quiet, 1000)...) {
		if dec != Skip {
			t.Fatalf("frame %d: decision %v, want Skip", i, dec)
		}
	}
	if d.State() != StateArmed {
		t.Fatalf("state = %v, want armed", d.State())
	}
}

func TestDetectorCommitsOnceAfterPause(t *testing.T) {
	d := NewDetector(testVAD())
	if d.State() != StateIdle {
		t.Fatalf("initial state = %v", d.State())
	}
	d.Arm()

	levels := append(repeat(quiet, 3), repeat(loud, 4)...)
	levels = append(levels, repeat(quiet, 5)...)
	decisions := feedAll(d, levels...)

	commits := 0
	for _, dec := range decisions {
		if dec == Commit {
			commits++
		}
	}
	if commits != 1 || decisions[len(decisions)-1] != Commit {
		t.Fatalf("decisions = %v, want a single final Commit", decisions)
	}
	if d.State() != StateCommitted {
		t.Fatalf("state = %v, want committed", d.State())
	}
	if dec := d.FeedRMS(loud); dec != Skip {
		t.Fatalf("feed after commit = %v, want Skip", dec)
	}
}

func TestDetectorTrailingReturnsToVoiced(t *testing.T) {
	d := NewDetector(testVAD())
	d.Arm()

	feedAll(d, loud, loud, quiet, quiet, quiet, quiet)
	if d.State() != StateTrailing {
		t.Fatalf("state = %v, want trailing", d.State())
	}
	d.FeedRMS(loud)
	if d.State() != StateVoiced {
		t.Fatalf("state = %v, want voiced", d.State())
	}
	// The silence counter restarted, so four more quiet frames do not commit.
	for i, dec := range feedAll(d, repeat(quiet, 4)...) {
		if dec != Keep {
			t.Fatalf("frame %d: decision %v, want Keep", i, dec)
		}
	}
	if dec := d.FeedRMS(quiet); dec != Commit {
		t.Fatalf("decision = %v, want Commit", dec)
	}
}

func TestDetectorShortBlipRearms(t *testing.T) {
	d := NewDetector(testVAD())
	d.Arm()

	decisions := feedAll(d, append([]float64{loud, loud}, repeat(quiet, 5)...)...)
	if last := decisions[len(decisions)-1]; last != Reset {
		t.Fatalf("decision = %v, want Reset", last)
	}
	if d.State() != StateArmed {
		t.Fatalf("state = %v, want armed", d.State())
	}

	// A real utterance afterwards still commits.
	decisions = feedAll(d, append(repeat(loud, 3), repeat(quiet, 5)...)...)
	if last := decisions[len(decisions)-1]; last != Commit {
		t.Fatalf("decision = %v, want Commit", last)
	}
}

func TestDetectorMaxLengthForcesCommit(t *testing.T) {
	d := NewDetector(testVAD())
	d.Arm()

	decisions := feedAll(d, repeat(loud, 100)...)
	if last := decisions[99]; last != Commit {
		t.Fatalf("decision at max length = %v, want Commit", last)
	}
	for i, dec := range decisions[:99] {
		if dec != Keep {
			t.Fatalf("frame %d: decision %v, want Keep", i, dec)
		}
	}
}

func TestDetectorDiscard(t *testing.T) {
	d := NewDetector(testVAD())
	d.Arm()
	feedAll(d, loud, loud)
	d.Discard()
	if d.State() != StateDiscarded {
		t.Fatalf("state = %v, want discarded", d.State())
	}

	d = NewDetector(testVAD())
	d.Arm()
	feedAll(d, append(repeat(loud, 3), repeat(quiet, 5)...)...)
	d.Discard()
	if d.State() != StateCommitted {
		t.Fatalf("discard after commit changed state to %v", d.State())
	}
}

func TestFrames(t *testing.T) {
	cfg := DefaultVADConfig()
	if got := cfg.Frames(cfg.Pause); got != 125 {
		t.Fatalf("pause frames = %d, want 125", got)
	}
	if got := cfg.Frames(cfg.MinVoiced); got != 25 {
		t.Fatalf("min voiced frames = %d, want 25", got)
	}
	if got := cfg.Frames(0); got != 1 {
		t.Fatalf("Frames(0) = %d, want 1", got)
	}
}

func TestFrameRMS(t *testing.T) {
	if got := FrameRMS([]float32{0.5, -0.5, 0.5, -0.5}); got != 0.5 {
		t.Fatalf("FrameRMS() = %v, want 0.5", got)
	}
	if got := FrameRMS(nil); got != 0 {
		t.Fatalf("FrameRMS(nil) = %v", got)
	}
}
