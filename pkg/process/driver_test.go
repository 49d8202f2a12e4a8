package process

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnana997/sasspipe/pkg/classify"
	"github.com/gnana997/sasspipe/pkg/invocation"
)

const dest = "/tmp/sasspipe-test"

// fakeCompiler writes a shell script standing in for the compiler and
// returns a CommandFunc that runs it instead of the requested command.
func fakeCompiler(t *testing.T, body string) CommandFunc {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake compiler is a shell script")
	}
	script := filepath.Join(t.TempDir(), "fake-sass")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, script, args...)
	}
}

func testLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

var inv = invocation.Invocation{Command: "sass", Args: []string{"--update", "src:" + dest}}

func TestDriver_LogLinesAndCleanExit(t *testing.T) {
	logger, buf := testLogger()
	d := NewDriver(dest, logger)
	d.Command = fakeCompiler(t, `
echo "      write `+dest+`/main.css"
echo "WARNING: something deprecated" >&2
exit 0`)

	outcome, err := d.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, Outcome{State: Exited, ExitCode: 0}, outcome)
	assert.Equal(t, Exited, d.State())

	logs := buf.String()
	assert.Contains(t, logs, `msg="compiler stdout" line="write main.css"`)
	assert.Contains(t, logs, `msg="compiler stderr" line="WARNING: something deprecated"`)
}

func TestDriver_StdoutErrorLatches(t *testing.T) {
	var calls atomic.Int32
	d := NewDriver(dest, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	d.OnError = func(error) { calls.Add(1) }
	d.Command = fakeCompiler(t, `
echo "    error `+dest+`/../src/main.scss (Line 3: Invalid CSS after \"a\")  "
echo "error second.scss (Line 1)"
exit 0`)

	outcome, err := d.Run(context.Background(), inv)
	require.Error(t, err)

	var compErr *CompilerError
	require.True(t, errors.As(err, &compErr))
	assert.Equal(t, classify.Stdout, compErr.Channel)
	assert.Equal(t, `error ../src/main.scss (Line 3: Invalid CSS after "a")`, compErr.Message)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, outcome.ExitCode, "exit code is recorded even on error")
}

func TestDriver_StderrMissingExecutableIsIgnored(t *testing.T) {
	d := NewDriver(dest, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	d.Command = fakeCompiler(t, `
echo "execvp(): No such file or directory" >&2
exit 0`)

	_, err := d.Run(context.Background(), inv)
	assert.NoError(t, err)
}

func TestDriver_StderrBundlerErrorFails(t *testing.T) {
	d := NewDriver(dest, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	d.Command = fakeCompiler(t, `
echo "Could not find gem 'sass (>= 0)' in any of the gem sources" >&2
exit 7`)

	outcome, err := d.Run(context.Background(), inv)
	var compErr *CompilerError
	require.True(t, errors.As(err, &compErr))
	assert.Equal(t, classify.Stderr, compErr.Channel)
	assert.Equal(t, 7, outcome.ExitCode)
}

func TestDriver_NonZeroExitIsNotAnError(t *testing.T) {
	d := NewDriver(dest, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	d.Command = fakeCompiler(t, `
echo "WARNING: only a warning" >&2
exit 1`)

	outcome, err := d.Run(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, Outcome{State: Exited, ExitCode: 1}, outcome)
}

func TestDriver_MissingExecutable(t *testing.T) {
	var got error
	d := NewDriver(dest, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	d.OnError = func(err error) { got = err }

	outcome, err := d.Run(context.Background(), invocation.Invocation{
		Command: "sasspipe-definitely-missing-compiler",
		Args:    []string{"src:" + dest},
	})

	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, classify.MissingCompilerMessage, err.Error())
	assert.True(t, spawnErr.MissingExecutable())
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.Equal(t, Outcome{State: SpawnFailed, ExitCode: -1}, outcome)
	assert.Same(t, err, got)
}

func TestDriver_RunsOnce(t *testing.T) {
	d := NewDriver(dest, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	d.Command = fakeCompiler(t, "exit 0")

	_, err := d.Run(context.Background(), inv)
	require.NoError(t, err)
	_, err = d.Run(context.Background(), inv)
	assert.Error(t, err)
}

func TestDriver_ContextCancelStopsCompiler(t *testing.T) {
	d := NewDriver(dest, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	d.Command = fakeCompiler(t, "exec sleep 10")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := d.Run(ctx, inv)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, CanTransition(Spawned, Running))
	assert.True(t, CanTransition(Spawned, SpawnFailed))
	assert.True(t, CanTransition(Running, Exited))
	assert.False(t, CanTransition(Spawned, Exited))
	assert.False(t, CanTransition(Exited, Running))
	assert.False(t, CanTransition(SpawnFailed, Running))

	assert.True(t, Exited.Terminal())
	assert.False(t, Running.Terminal())
	assert.Equal(t, "spawn_failed", SpawnFailed.String())
}
