package bus

import (
	log "log/slog"
	"strings"

	"sidekick/internal/inbox"
)

// Inbound routes hub frames: typed messages go to the queue, mute frames
// drive the switch.
func Inbound(q *inbox.Queue, mute *inbox.Mute) func(Envelope) {
	return func(env Envelope) {
		switch env.Kind {
		case KindMessage:
			text := strings.TrimSpace(env.Content)
			if text == "" {
				return
			}
			q.Push(inbox.Message{Text: text, Source: inbox.SourceBus})
		case KindMute:
			mute.Set(true)
		case KindUnmute:
			mute.Set(false)
		case KindToggle:
			mute.Toggle()
		default:
			log.Debug("Ignoring bus frame", "kind", env.Kind, "from", env.From)
		}
	}
}
