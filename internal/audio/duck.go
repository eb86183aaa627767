package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

// Pactl runs a pactl subcommand and returns its standard output.
type Pactl func(ctx context.Context, args ...string) ([]byte, error)

func execPactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fade struct {
	id       int
	from, to int
}

// Ducker lowers the volume of other applications' PulseAudio streams while
// the assistant speaks, and restores it afterwards. Streams whose
// application.name is in selfNames are left alone.
type Ducker struct {
	mu        sync.Mutex
	pactl     Pactl
	selfNames []string
	factor    float64
	minVolume int
	fadeTime  time.Duration

	active   bool
	original map[int]int
}

type DuckOptions struct {
	SelfNames []string
	// Factor scales the current volume, never below MinVolume percent.
	Factor    float64
	MinVolume int
	Fade      time.Duration
	Pactl     Pactl
}

func NewDucker(opt DuckOptions) *Ducker {
	if opt.Pactl == nil {
		opt.Pactl = execPactl
	}
	if opt.Factor <= 0 || opt.Factor > 1 {
		opt.Factor = 0.3
	}
	return &Ducker{
		pactl:     opt.Pactl,
		selfNames: append([]string(nil), opt.SelfNames...),
		factor:    opt.Factor,
		minVolume: clampVolume(opt.MinVolume),
		fadeTime:  opt.Fade,
		original:  make(map[int]int),
	}
}

func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}
	streams, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.original = make(map[int]int)
	var fades []fade
	for _, s := range streams {
		if d.isSelf(s) {
			continue
		}
		to := int(math.Round(float64(s.Volume) * d.factor))
		to = clampVolume(max(to, d.minVolume))
		d.original[s.ID] = s.Volume
		fades = append(fades, fade{id: s.ID, from: s.Volume, to: to})
	}

	d.active = true
	return d.apply(ctx, fades)
}

// Restore fades ducked streams back to their original volume. Streams that
// appeared after Duck are not touched.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}
	streams, err := d.list(ctx)
	if err != nil {
		return err
	}

	var fades []fade
	for _, s := range streams {
		if orig, ok := d.original[s.ID]; ok && !d.isSelf(s) {
			fades = append(fades, fade{id: s.ID, from: s.Volume, to: orig})
		}
	}

	d.original = make(map[int]int)
	d.active = false
	return d.apply(ctx, fades)
}

func (d *Ducker) isSelf(s sinkInput) bool {
	for _, name := range d.selfNames {
		if s.AppName == name {
			return true
		}
	}
	return false
}

func (d *Ducker) apply(ctx context.Context, fades []fade) error {
	if len(fades) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond
	steps := max(int(d.fadeTime/minStep), 1)
	stepTime := d.fadeTime / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		frac := float64(i) / float64(steps)
		for _, f := range fades {
			v := int(math.Round(float64(f.from) + float64(f.to-f.from)*frac))
			if err := d.setVolume(ctx, f.id, v); err != nil {
				return err
			}
		}
		if i < steps {
			time.Sleep(stepTime)
		}
	}
	return nil
}

func (d *Ducker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.pactl(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	_, err := d.pactl(ctx, "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", clampVolume(percent)))
	if err != nil {
		return fmt.Errorf("set volume of sink input %d: %w", id, err)
	}
	return nil
}

func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")
	var res []sinkInput
	for _, block := range blocks[1:] {
		header, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(header))
		if err != nil {
			continue
		}

		s := sinkInput{ID: id}
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "Volume:") && s.Volume == 0:
				if m := percentRe.FindStringSubmatch(line); m != nil {
					s.Volume, _ = strconv.Atoi(m[1])
				}
			case strings.HasPrefix(line, "application.name =") && s.AppName == "":
				if _, rest, ok := strings.Cut(line, `"`); ok {
					s.AppName, _, _ = strings.Cut(rest, `"`)
				}
			}
		}
		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}
	return res
}

func clampVolume(v int) int {
	return min(max(v, 0), 150)
}
