package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// Cue plays a short sound file, for example when an utterance is committed.
type Cue struct {
	path string

	mu       sync.Mutex
	initRate beep.SampleRate
}

func NewCue(path string) (*Cue, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cue sound: %w", err)
	}
	return &Cue{path: path}, nil
}

// Play blocks until the sound has finished.
func (c *Cue) Play() error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.path, err)
	}

	streamer, format, err := decode(c.path, f)
	if err != nil {
		f.Close()
		return fmt.Errorf("decode %s: %w", c.path, err)
	}
	defer streamer.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initRate != format.SampleRate {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			return fmt.Errorf("init speaker: %w", err)
		}
		c.initRate = format.SampleRate
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}

func decode(path string, f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return wav.Decode(f)
	case ".mp3":
		return mp3.Decode(f)
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported cue format %q", filepath.Ext(path))
	}
}
