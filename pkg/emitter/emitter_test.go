package emitter

import (
	"bytes"
	"strings"
	"testing"
)

func TestEcho_PlainWriterCarriesNoEscapes(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)

	e.Echo("creating new node for worker-1", ColorYellow)
	e.Echof(ColorGreen, "deployed %d nodes", 3)

	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("expected no ANSI escapes for non-terminal writer, got %q", out)
	}
	if out != "creating new node for worker-1\ndeployed 3 nodes\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestEcho_ColorForcedTerminal(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	e.color = true

	e.Echo("fail: [worker-1]", ColorRed)
	if got := buf.String(); got != "\x1b[31mfail: [worker-1]\x1b[0m\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRaw_NoNewline(t *testing.T) {
	var buf bytes.Buffer
	e := New(&buf)
	e.Raw("PLAY [nucypher] ")
	e.Raw("****\n")
	if got := buf.String(); got != "PLAY [nucypher] ****\n" {
		t.Fatalf("unexpected output %q", got)
	}
}
