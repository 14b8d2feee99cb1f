// Package ansible runs the worker playbooks against a generated inventory
// and folds announced values from task output back to the caller.
package ansible

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nucypher/nucypher-ops/pkg/emitter"
	opserrors "github.com/nucypher/nucypher-ops/pkg/errors"
)

// Worker playbooks, relative to the deployment checkout.
const (
	PlaybookSetup   = "deploy/ansible/worker/setup_remote_workers.yml"
	PlaybookUpdate  = "deploy/ansible/worker/update_remote_workers.yml"
	PlaybookStatus  = "deploy/ansible/worker/get_workers_status.yml"
	PlaybookLogs    = "deploy/ansible/worker/get_worker_logs.yml"
	PlaybookBackup  = "deploy/ansible/worker/backup_remote_workers.yml"
	PlaybookRestore = "deploy/ansible/worker/restore_ursula_from_backup.yml"
)

// DefaultBinary is the ansible-playbook executable resolved from PATH.
const DefaultBinary = "ansible-playbook"

// CapturedValue is a value announced by a task on a specific host.
type CapturedValue struct {
	Host  string
	Value string
}

// OutputCapture accumulates announced values keyed by their label, e.g.
// "worker address" or "rest url".
type OutputCapture map[string][]CapturedValue

// HostStats is one host's row of the play recap.
type HostStats struct {
	OK          int
	Changed     int
	Unreachable int
	Failed      int
	Skipped     int
}

// Result is the outcome of a playbook run.
type Result struct {
	Captured OutputCapture
	Recap    map[string]HostStats
	Duration time.Duration
}

// Failed reports whether any host failed or was unreachable.
func (r *Result) Failed() bool {
	for _, s := range r.Recap {
		if s.Failed > 0 || s.Unreachable > 0 {
			return true
		}
	}
	return false
}

// RunOptions configures a single playbook run.
type RunOptions struct {
	Playbook  string
	Inventory string

	// CaptureKeys lists the labels whose announced values should be
	// captured from task output.
	CaptureKeys []string

	// FilterTasks, when non-empty, limits echoed task output to the named
	// tasks. Status and log playbooks use this to keep the console quiet.
	FilterTasks []string
}

// Runner executes ansible-playbook as a subprocess.
type Runner struct {
	Emitter *emitter.Emitter
	Binary  string
	Env     []string
}

// NewRunner creates a runner reporting through em.
func NewRunner(em *emitter.Emitter) *Runner {
	return &Runner{Emitter: em, Binary: DefaultBinary}
}

// Run executes the playbook and streams its output through the emitter.
// A run with failed or unreachable hosts returns an error alongside the
// parsed result.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	binary := r.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, opserrors.Wrap(opserrors.ErrCodeUnavailable,
			"ansible-playbook is required for this operation (install ansible first)", err)
	}

	start := time.Now()
	playbookRunsTotal.WithLabelValues(playbookLabel(opts.Playbook), "started").Inc()

	cmd := exec.CommandContext(ctx, binary, opts.Playbook, "--inventory", opts.Inventory, "--become-method", "sudo")
	if len(r.Env) > 0 {
		cmd.Env = r.Env
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open playbook output pipe: %w", err)
	}
	// ansible interleaves diagnostics on stderr; parse both streams in order.
	cmd.Stdout = pw
	cmd.Stderr = pw
	stdout := pr

	slog.Debug("running playbook",
		slog.String("playbook", opts.Playbook),
		slog.String("inventory", opts.Inventory),
	)
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start ansible-playbook: %w", err)
	}
	// The child holds its own copies of the write end.
	pw.Close()

	p := newParser(r.Emitter, opts.CaptureKeys, opts.FilterTasks)
	scanErr := p.consume(stdout)
	pr.Close()

	runErr := cmd.Wait()
	if runErr == nil && scanErr != nil {
		runErr = opserrors.Wrap(opserrors.ErrCodeInternal,
			"failed to read playbook output", scanErr)
	}
	result := p.result()
	result.Duration = time.Since(start)
	playbookDuration.WithLabelValues(playbookLabel(opts.Playbook)).Observe(result.Duration.Seconds())

	if runErr != nil || result.Failed() {
		playbookRunsTotal.WithLabelValues(playbookLabel(opts.Playbook), "failed").Inc()
		if runErr == nil {
			runErr = fmt.Errorf("one or more hosts failed")
		}
		return result, opserrors.WrapWithContext(opserrors.ErrCodeInternal,
			"playbook run failed", runErr, map[string]any{"playbook": opts.Playbook})
	}

	playbookRunsTotal.WithLabelValues(playbookLabel(opts.Playbook), "success").Inc()
	return result, nil
}

func playbookLabel(playbook string) string {
	base := playbook
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	return strings.TrimSuffix(base, ".yml")
}

var (
	playRe   = regexp.MustCompile(`^PLAY \[(.*)\]`)
	taskRe   = regexp.MustCompile(`^TASK \[(.*)\]`)
	hostRe   = regexp.MustCompile(`^(ok|changed|failed|fatal|skipping): \[([^\]]+)\]`)
	recapRe  = regexp.MustCompile(`^(\S+)\s+:\s+ok=(\d+)\s+changed=(\d+)\s+unreachable=(\d+)\s+failed=(\d+)\s+skipped=(\d+)`)
	recapHdr = regexp.MustCompile(`^PLAY RECAP`)
)

// parser reconstructs per-host events from the ansible stdout callback
// stream and captures announced values.
type parser struct {
	em          *emitter.Emitter
	captureKeys []string
	captureRes  map[string]*regexp.Regexp
	filterTasks map[string]bool

	currentTask string
	currentHost string
	inRecap     bool

	captured OutputCapture
	recap    map[string]HostStats
}

func newParser(em *emitter.Emitter, captureKeys, filterTasks []string) *parser {
	p := &parser{
		em:          em,
		captureKeys: captureKeys,
		captureRes:  make(map[string]*regexp.Regexp, len(captureKeys)),
		captured:    make(OutputCapture, len(captureKeys)),
		recap:       make(map[string]HostStats),
	}
	for _, key := range captureKeys {
		p.captureRes[key] = regexp.MustCompile(regexp.QuoteMeta(key) + `:\s*(\S[^"\\]*)`)
		p.captured[key] = nil
	}
	if len(filterTasks) > 0 {
		p.filterTasks = make(map[string]bool, len(filterTasks))
		for _, t := range filterTasks {
			p.filterTasks[t] = true
		}
	}
	return p
}

func (p *parser) consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.processLine(scanner.Text())
	}
	return scanner.Err()
}

func (p *parser) processLine(line string) {
	switch {
	case recapHdr.MatchString(line):
		p.inRecap = true
		p.echo("\nPLAY RECAP "+strings.Repeat("*", 60), emitter.ColorNone)
		return
	case p.inRecap:
		if m := recapRe.FindStringSubmatch(line); m != nil {
			stats := HostStats{
				OK:          mustAtoi(m[2]),
				Changed:     mustAtoi(m[3]),
				Unreachable: mustAtoi(m[4]),
				Failed:      mustAtoi(m[5]),
				Skipped:     mustAtoi(m[6]),
			}
			p.recap[m[1]] = stats
			p.echo(fmt.Sprintf("%s : ok=%d changed=%d unreachable=%d failed=%d skipped=%d",
				m[1], stats.OK, stats.Changed, stats.Unreachable, stats.Failed, stats.Skipped), emitter.ColorNone)
		}
		return
	case playRe.MatchString(line):
		name := playRe.FindStringSubmatch(line)[1]
		p.echo(fmt.Sprintf("\nPLAY [%s] %s", name, strings.Repeat("*", 60)), emitter.ColorNone)
		return
	case taskRe.MatchString(line):
		p.currentTask = taskRe.FindStringSubmatch(line)[1]
		if p.taskVisible() {
			p.echo(fmt.Sprintf("\nTASK [%s] %s", p.currentTask, strings.Repeat("*", 60)), emitter.ColorNone)
		}
		return
	}

	if m := hostRe.FindStringSubmatch(line); m != nil {
		status, host := m[1], m[2]
		p.currentHost = host
		if p.taskVisible() {
			switch status {
			case "changed":
				p.echo(fmt.Sprintf("[%s]=> changed", host), emitter.ColorYellow)
			case "ok":
				p.echo(fmt.Sprintf("[%s]=> ok", host), emitter.ColorGreen)
			case "skipping":
				p.echo(fmt.Sprintf("[%s]=> skipped", host), emitter.ColorBlue)
			case "failed", "fatal":
				p.echo(fmt.Sprintf("fail: [%s]=> %s", host, line), emitter.ColorRed)
			}
		}
	}

	p.capture(line)
}

// capture scans a line for announced "<key>: <value>" pairs and attributes
// them to the host of the most recent result marker.
func (p *parser) capture(line string) {
	if p.currentHost == "" {
		return
	}
	for key, re := range p.captureRes {
		if m := re.FindStringSubmatch(line); m != nil {
			value := strings.TrimSpace(m[1])
			p.captured[key] = append(p.captured[key], CapturedValue{Host: p.currentHost, Value: value})
			if p.taskVisible() {
				p.echo(fmt.Sprintf("\t%s: %s", key, value), emitter.ColorYellow)
			}
		}
	}
}

func (p *parser) taskVisible() bool {
	if p.filterTasks == nil {
		return true
	}
	return p.filterTasks[p.currentTask]
}

func (p *parser) echo(msg string, c emitter.Color) {
	if p.em != nil {
		p.em.Echo(msg, c)
	}
}

func (p *parser) result() *Result {
	return &Result{Captured: p.captured, Recap: p.recap}
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
