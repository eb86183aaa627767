package main

import (
	"fmt"
	"io"

	"sidekick/internal/chat"
)

// console prints the conversation as it streams.
type console struct {
	w       io.Writer
	midLine bool
}

func (c *console) Emit(e chat.Event) {
	switch e.Kind {
	case chat.EventFragment:
		if e.Text == "" {
			return
		}
		if !c.midLine {
			fmt.Fprint(c.w, "assistant> ")
			c.midLine = true
		}
		fmt.Fprint(c.w, e.Text)
	case chat.EventToolCall:
		c.breakLine()
		fmt.Fprintf(c.w, "  [%s]\n", e.Text)
	case chat.EventError:
		c.breakLine()
		fmt.Fprintf(c.w, "error> %s\n", e.Text)
	case chat.EventEndOfTurn:
		c.breakLine()
	}
}

func (c *console) breakLine() {
	if c.midLine {
		fmt.Fprintln(c.w)
		c.midLine = false
	}
}
