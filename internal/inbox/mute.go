package inbox

import (
	"context"
	"sync"
)

// Mute is the microphone switch. While muted no capture session runs and a
// session in progress is discarded.
type Mute struct {
	mu      sync.Mutex
	muted   bool
	changed chan struct{}
	watch   []func(muted bool)
}

func NewMute(muted bool) *Mute {
	return &Mute{muted: muted, changed: make(chan struct{})}
}

func (m *Mute) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *Mute) Set(muted bool) {
	m.update(func(bool) bool { return muted })
}

// Toggle flips the switch and returns the new state.
func (m *Mute) Toggle() bool {
	return m.update(func(cur bool) bool { return !cur })
}

// update applies next to the current state under the lock and notifies the
// watchers after releasing it.
func (m *Mute) update(next func(cur bool) bool) bool {
	m.mu.Lock()
	muted := next(m.muted)
	if m.muted == muted {
		m.mu.Unlock()
		return muted
	}
	m.muted = muted
	close(m.changed)
	m.changed = make(chan struct{})
	watch := m.watch
	m.mu.Unlock()

	for _, fn := range watch {
		fn(muted)
	}
	return muted
}

// OnChange registers fn to be called after every change.
func (m *Mute) OnChange(fn func(muted bool)) {
	m.mu.Lock()
	m.watch = append(m.watch, fn)
	m.mu.Unlock()
}

// WaitUnmuted blocks while muted.
func (m *Mute) WaitUnmuted(ctx context.Context) error {
	for {
		m.mu.Lock()
		muted, changed := m.muted, m.changed
		m.mu.Unlock()
		if !muted {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}
