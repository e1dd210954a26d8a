package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/srg/btevents/internal/events"
	"golang.org/x/term"
)

// eventPrinter writes envelopes as colored text lines or as JSON lines
type eventPrinter struct {
	out     io.Writer
	json    bool
	added   *color.Color
	updated *color.Color
	removed *color.Color
	adapter *color.Color
	dim     *color.Color
}

func newEventPrinter(out io.Writer, asJSON bool) *eventPrinter {
	p := &eventPrinter{
		out:     out,
		json:    asJSON,
		added:   color.New(color.FgGreen),
		updated: color.New(color.FgYellow),
		removed: color.New(color.FgRed),
		adapter: color.New(color.FgCyan),
		dim:     color.New(color.Faint),
	}

	colored := !asJSON && isTerminal(out)
	for _, c := range []*color.Color{p.added, p.updated, p.removed, p.adapter, p.dim} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// isTerminal reports whether out is an interactive terminal
func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (p *eventPrinter) Print(env events.Envelope) error {
	if p.json {
		line, err := env.MarshalLine()
		if err != nil {
			return err
		}
		_, err = p.out.Write(line)
		return err
	}

	_, err := fmt.Fprintf(p.out, "%s %s\n",
		p.dim.Sprint(env.Timestamp.Format("15:04:05.000")),
		p.colorFor(env).Sprint(env.String()))
	return err
}

func (p *eventPrinter) colorFor(env events.Envelope) *color.Color {
	if env.Kind == events.KindAdapter {
		return p.adapter
	}
	switch env.Action {
	case events.Added:
		return p.added
	case events.Removed:
		return p.removed
	default:
		return p.updated
	}
}
