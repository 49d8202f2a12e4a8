// Package process runs the compiler and turns its output into log lines and
// stream errors.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/gnana997/sasspipe/pkg/classify"
	"github.com/gnana997/sasspipe/pkg/invocation"
)

// maxLine bounds a single line of compiler output.
const maxLine = 1024 * 1024

// CommandFunc creates the command for an invocation. It must not start it.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Driver spawns the compiler for one invocation and classifies every line
// it writes.
//
// The exit code is recorded but never decides success: the compiler exits 0
// after writing partial diagnostics and non-zero for warnings, so errors are
// detected from message text only. The first classified error latches; the
// process keeps running to completion but its later output is discarded.
type Driver struct {
	// Destination is stripped from output lines before classification.
	Destination string

	// Logger receives Log-classified lines. Nil uses slog.Default().
	Logger *slog.Logger

	// Dir is the compiler's working directory. Empty inherits ours.
	Dir string

	// Command builds the process. Nil uses exec.CommandContext.
	Command CommandFunc

	// OnError is called once, as soon as the first error is classified and
	// before the process exits.
	OnError func(error)

	mu       sync.Mutex
	state    State
	firstErr error
}

// NewDriver creates a Driver for destination.
func NewDriver(destination string, logger *slog.Logger) *Driver {
	return &Driver{Destination: destination, Logger: logger}
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Err returns the first classified error, if any.
func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firstErr
}

func (d *Driver) transition(to State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !CanTransition(d.state, to) {
		return fmt.Errorf("invalid process transition %s -> %s", d.state, to)
	}
	d.state = to
	return nil
}

// fail latches err as the first error. Later errors are dropped.
func (d *Driver) fail(err error) {
	d.mu.Lock()
	if d.firstErr != nil {
		d.mu.Unlock()
		return
	}
	d.firstErr = err
	onError := d.OnError
	d.mu.Unlock()

	if onError != nil {
		onError(err)
	}
}

func (d *Driver) failed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.firstErr != nil
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Run executes inv and blocks until the process exits. It returns the
// outcome and the first classified error (a *SpawnError or *CompilerError).
// A Driver runs once.
func (d *Driver) Run(ctx context.Context, inv invocation.Invocation) (Outcome, error) {
	if d.State() != Spawned {
		return Outcome{State: d.State(), ExitCode: -1}, fmt.Errorf("driver already used")
	}

	command := d.Command
	if command == nil {
		command = exec.CommandContext
	}
	cmd := command(ctx, inv.Command, inv.Args...)
	if cmd.Dir == "" {
		cmd.Dir = d.Dir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return d.spawnFailed(inv, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return d.spawnFailed(inv, err)
	}

	if err := cmd.Start(); err != nil {
		return d.spawnFailed(inv, err)
	}
	if err := d.transition(Running); err != nil {
		return Outcome{State: d.State(), ExitCode: -1}, err
	}
	d.logger().Debug("Compiler started", "command", inv.Command, "pid", cmd.Process.Pid)

	var wg sync.WaitGroup
	wg.Add(2)
	go d.scan(&wg, classify.Stdout, stdout)
	go d.scan(&wg, classify.Stderr, stderr)

	// Pipes must be drained before Wait closes them.
	wg.Wait()
	waitErr := cmd.Wait()

	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}
	if err := d.transition(Exited); err != nil {
		return Outcome{State: d.State(), ExitCode: exitCode}, err
	}
	outcome := Outcome{State: Exited, ExitCode: exitCode}

	if ctxErr := ctx.Err(); ctxErr != nil {
		d.fail(fmt.Errorf("compiler interrupted: %w", ctxErr))
	} else if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			d.logger().Warn("Compiler wait failed", "command", inv.Command, "error", waitErr)
		}
	}

	d.logger().Debug("Compiler exited", "command", inv.Command, "exit_code", exitCode)
	return outcome, d.Err()
}

func (d *Driver) spawnFailed(inv invocation.Invocation, cause error) (Outcome, error) {
	if err := d.transition(SpawnFailed); err != nil {
		return Outcome{State: d.State(), ExitCode: -1}, err
	}
	res := classify.Spawn(cause)
	spawnErr := &SpawnError{Command: inv.Command, Message: res.Text, Err: cause}
	d.fail(spawnErr)
	return Outcome{State: SpawnFailed, ExitCode: -1}, spawnErr
}

// scan reads r line by line until EOF. Once an error has latched, lines are
// still read (so the process never blocks on a full pipe) but ignored.
func (d *Driver) scan(wg *sync.WaitGroup, ch classify.Channel, r io.Reader) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		if d.failed() {
			continue
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		res := classify.Line(ch, line, d.Destination)
		switch res.Kind {
		case classify.Error:
			d.fail(&CompilerError{Channel: ch, Message: res.Text})
		case classify.Log:
			d.logger().Info("compiler "+string(ch), "line", res.Text)
		case classify.Ignored:
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		d.logger().Warn("Reading compiler output failed", "channel", string(ch), "error", err)
		// Keep the pipe drained so the process can exit.
		_, _ = io.Copy(io.Discard, r)
	}
}
