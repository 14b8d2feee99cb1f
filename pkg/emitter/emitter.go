// Package emitter implements operator-facing console output with optional
// ANSI colors. Colors are enabled only when writing to a terminal.
package emitter

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/mattn/go-isatty"
)

// Color selects the ANSI foreground color for a message.
type Color string

const (
	ColorNone   Color = ""
	ColorRed    Color = "31"
	ColorGreen  Color = "32"
	ColorYellow Color = "33"
	ColorBlue   Color = "34"
)

// Emitter writes progress and status lines for a human operator. It is safe
// for concurrent use; playbook streaming and parallel provisioning both
// write through a single emitter.
type Emitter struct {
	mu    sync.Mutex
	out   io.Writer
	color bool
}

// New creates an emitter writing to out. Color output is enabled when out is
// a terminal.
func New(out io.Writer) *Emitter {
	e := &Emitter{out: out}
	if f, ok := out.(*os.File); ok {
		e.color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return e
}

// Default returns an emitter bound to stdout.
func Default() *Emitter {
	return New(os.Stdout)
}

// Echo writes a line, optionally colored.
func (e *Emitter) Echo(msg string, color ...Color) {
	c := ColorNone
	if len(color) > 0 {
		c = color[0]
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.color && c != ColorNone {
		fmt.Fprintf(e.out, "\x1b[%sm%s\x1b[0m\n", c, msg)
		return
	}
	fmt.Fprintln(e.out, msg)
}

// Echof formats and writes a line, optionally colored.
func (e *Emitter) Echof(c Color, format string, args ...any) {
	e.Echo(fmt.Sprintf(format, args...), c)
}

// Raw writes without a trailing newline or color, for streamed subprocess
// output that carries its own formatting.
func (e *Emitter) Raw(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprint(e.out, msg)
}
