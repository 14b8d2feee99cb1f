package ansible

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucypher/nucypher-ops/pkg/emitter"
)

const sampleOutput = `
PLAY [nucypher] ****************************************************************

TASK [Gathering Facts] *********************************************************
ok: [lynx-testers-0]
ok: [lynx-testers-1]

TASK [Print Ursula Status Result] **********************************************
ok: [lynx-testers-0] => {
    "msg": "worker address: 0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed
rest url: https://203.0.113.10:9151
nucypher version: 4.1.2
nickname: Steel Swordfish"
}
changed: [lynx-testers-1] => {
    "msg": "worker address: 0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359
rest url: https://203.0.113.11:9151"
}

TASK [Restart worker container] ************************************************
changed: [lynx-testers-0]
fatal: [lynx-testers-1]: FAILED! => {"changed": false, "msg": "container error"}

PLAY RECAP *********************************************************************
lynx-testers-0             : ok=3    changed=1    unreachable=0    failed=0    skipped=1
lynx-testers-1             : ok=2    changed=1    unreachable=0    failed=1    skipped=0
`

func parseSample(t *testing.T, captureKeys, filterTasks []string) (*parser, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	p := newParser(emitter.New(&buf), captureKeys, filterTasks)
	require.NoError(t, p.consume(strings.NewReader(sampleOutput)))
	return p, &buf
}

func TestParser_ConsumeSurfacesScanError(t *testing.T) {
	p := newParser(emitter.New(io.Discard), nil, nil)
	// A line past the scanner's buffer cap must not be swallowed silently.
	long := "ok: [lynx-testers-0] => " + strings.Repeat("x", 2*1024*1024)
	err := p.consume(strings.NewReader(long))
	require.ErrorIs(t, err, bufio.ErrTooLong)
}

func TestParser_Recap(t *testing.T) {
	p, _ := parseSample(t, nil, nil)
	result := p.result()

	require.Len(t, result.Recap, 2)
	assert.Equal(t, HostStats{OK: 3, Changed: 1, Skipped: 1}, result.Recap["lynx-testers-0"])
	assert.Equal(t, HostStats{OK: 2, Changed: 1, Failed: 1}, result.Recap["lynx-testers-1"])
	assert.True(t, result.Failed())
}

func TestParser_CapturesAnnouncedValues(t *testing.T) {
	keys := []string{"worker address", "rest url", "nucypher version", "nickname"}
	p, _ := parseSample(t, keys, nil)
	result := p.result()

	require.Len(t, result.Captured["worker address"], 2)
	assert.Equal(t, CapturedValue{Host: "lynx-testers-0", Value: "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"},
		result.Captured["worker address"][0])
	assert.Equal(t, CapturedValue{Host: "lynx-testers-1", Value: "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"},
		result.Captured["worker address"][1])

	require.Len(t, result.Captured["nickname"], 1)
	assert.Equal(t, "Steel Swordfish", result.Captured["nickname"][0].Value)

	assert.Len(t, result.Captured["rest url"], 2)
	assert.Len(t, result.Captured["nucypher version"], 1)
}

func TestParser_FilterTasksLimitsEcho(t *testing.T) {
	_, buf := parseSample(t, nil, []string{"Print Ursula Status Result"})
	out := buf.String()

	assert.Contains(t, out, "TASK [Print Ursula Status Result]")
	assert.NotContains(t, out, "TASK [Gathering Facts]")
	assert.NotContains(t, out, "TASK [Restart worker container]")
	// Recap always prints.
	assert.Contains(t, out, "PLAY RECAP")
}

func TestParser_EchoesHostResults(t *testing.T) {
	_, buf := parseSample(t, nil, nil)
	out := buf.String()

	assert.Contains(t, out, "[lynx-testers-0]=> ok")
	assert.Contains(t, out, "[lynx-testers-0]=> changed")
	assert.Contains(t, out, "fail: [lynx-testers-1]")
}

func TestResult_FailedOnUnreachable(t *testing.T) {
	r := &Result{Recap: map[string]HostStats{"h1": {OK: 1, Unreachable: 1}}}
	assert.True(t, r.Failed())

	r = &Result{Recap: map[string]HostStats{"h1": {OK: 2}}}
	assert.False(t, r.Failed())
}

func TestPlaybookLabel(t *testing.T) {
	assert.Equal(t, "setup_remote_workers", playbookLabel(PlaybookSetup))
	assert.Equal(t, "get_workers_status", playbookLabel(PlaybookStatus))
}
