package ipc

import (
	"strings"

	"sidekick/internal/inbox"
)

// Turns reports whether a conversation turn is running.
type Turns interface {
	Busy() bool
}

// Controller answers control commands against the daemon's queue and mute
// switch.
func Controller(q *inbox.Queue, mute *inbox.Mute, turns Turns) Handler {
	return func(msg ControlMessage) Reply {
		switch msg.Cmd {
		case CmdSay:
			text := strings.TrimSpace(msg.Text)
			if text == "" {
				return status(q, mute, turns, "empty text")
			}
			q.Push(inbox.Message{Text: text, Source: inbox.SourceIPC})
		case CmdMute:
			mute.Set(true)
		case CmdUnmute:
			mute.Set(false)
		case CmdToggle:
			mute.Toggle()
		case CmdStatus:
		default:
			return status(q, mute, turns, "unknown command: "+msg.Cmd)
		}
		return status(q, mute, turns, "")
	}
}

func status(q *inbox.Queue, mute *inbox.Mute, turns Turns, errMsg string) Reply {
	r := Reply{
		OK:         errMsg == "",
		Error:      errMsg,
		Muted:      mute.Muted(),
		QueueDepth: q.Len(),
	}
	if turns != nil {
		r.Busy = turns.Busy()
	}
	return r
}
