// Package sass runs one compiler build and exposes its outputs as an ordered
// record stream.
//
// **Run lifecycle:**
//  1. Resolve options and build the invocation
//  2. Acquire (purge) the destination directory
//  3. Run the compiler, failing the stream on the first classified error
//  4. Collect the outputs into the stream, then end it
//  5. Release the destination and append a run-log entry
//
// Run returns immediately; all of the above happens while the consumer reads.
package sass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gnana997/sasspipe/pkg/collect"
	"github.com/gnana997/sasspipe/pkg/destdir"
	"github.com/gnana997/sasspipe/pkg/invocation"
	"github.com/gnana997/sasspipe/pkg/process"
	"github.com/gnana997/sasspipe/pkg/runlog"
	"github.com/gnana997/sasspipe/pkg/stream"
	"github.com/gnana997/sasspipe/pkg/util"
)

// Options configures one Run.
type Options struct {
	invocation.Options

	// Cwd is the directory source is relative to. Default: os.Getwd().
	Cwd string

	// TempDir is the root the destination directory is created under.
	// Default: os.TempDir().
	TempDir string

	// Workers bounds concurrent output reads. 0 picks a size from the CPU count.
	Workers int

	// Buffer is the number of records buffered ahead of the consumer.
	// 0 uses stream.DefaultBuffer.
	Buffer int

	// KeepDestination leaves the compiler's output directory on disk.
	KeepDestination bool

	// Include and Exclude filter collected outputs (doublestar globs relative
	// to the destination).
	Include []string
	Exclude []string

	// Cache configures the mmap cache used to read outputs.
	Cache *util.FileCacheConfig

	Logger *slog.Logger

	// RunLog receives one entry per run. Nil disables it.
	RunLog *runlog.Logger

	// Command creates the compiler process. Nil uses exec.CommandContext.
	Command process.CommandFunc
}

// Plan is a resolved build: where the compiler writes and what it runs.
type Plan struct {
	Source      string
	Cwd         string
	Base        string
	Destination string
	Invocation  invocation.Invocation
	Options     Options
}

// Prepare resolves defaults and builds the invocation without running it.
func Prepare(source string, opts Options) (*Plan, error) {
	if source == "" {
		return nil, errors.New("source directory is required")
	}

	opts.Options = opts.Options.WithDefaults()
	if opts.Cwd == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		opts.Cwd = cwd
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Include = append([]string(nil), opts.Include...)
	opts.Exclude = append([]string(nil), opts.Exclude...)

	dest := invocation.Destination(opts.TempDir, opts.Container)
	inv, err := invocation.Build(opts.Options, source, dest)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Source:      source,
		Cwd:         opts.Cwd,
		Base:        filepath.Join(opts.Cwd, filepath.FromSlash(source)),
		Destination: dest,
		Invocation:  inv,
		Options:     opts,
	}, nil
}

// Run compiles source and returns the stream of its outputs. Errors,
// including invalid options, surface as the stream's terminal error.
func Run(ctx context.Context, source string, opts Options) *stream.Stream {
	plan, err := Prepare(source, opts)
	if err != nil {
		if opts.RunLog != nil {
			_ = opts.RunLog.Write(runlog.Entry{
				RunID:    uuid.NewString(),
				Source:   source,
				ExitCode: -1,
				Error:    runlog.ErrorString(err),
			})
		}
		return stream.Failed(err)
	}
	return plan.Run(ctx)
}

// Run executes the plan. A Plan may be run more than once, but not
// concurrently: the destination is exclusive.
func (p *Plan) Run(ctx context.Context) *stream.Stream {
	st, em := stream.New(p.Options.Buffer)
	r := &run{
		plan:   p,
		id:     uuid.NewString(),
		em:     em,
		logger: p.Options.Logger,
	}
	r.logger = r.logger.With("run_id", r.id)
	release := p.Options.RunLog.Reserve()
	go func() {
		defer release()
		r.execute(ctx)
	}()
	return st
}

type run struct {
	plan   *Plan
	id     string
	em     *stream.Emitter
	logger *slog.Logger

	exitCode int
	records  int
}

func (r *run) execute(ctx context.Context) {
	start := time.Now()
	r.exitCode = -1

	err := r.compileAndCollect(ctx)
	switch {
	case err == nil:
		r.em.End()
	case collect.IsStopped(err):
		// The consumer closed the stream or ctx ended while a push was blocked.
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.em.Fail(ctxErr)
		}
	default:
		r.em.Fail(err)
	}
	err = r.em.Err()

	duration := time.Since(start)
	if err != nil {
		r.logger.Debug("Build failed", "source", r.plan.Source, "error", err, "duration_ms", duration.Milliseconds())
	} else {
		r.logger.Debug("Build complete", "source", r.plan.Source, "records", r.records, "duration_ms", duration.Milliseconds())
	}

	if logErr := r.plan.Options.RunLog.Write(runlog.Entry{
		RunID:      r.id,
		Source:     r.plan.Source,
		Command:    r.plan.Invocation.Command,
		Args:       r.plan.Invocation.Args,
		ExitCode:   r.exitCode,
		Records:    r.records,
		DurationMs: duration.Milliseconds(),
		Error:      runlog.ErrorString(err),
	}); logErr != nil {
		r.logger.Warn("Failed to write run log", "error", logErr)
	}
}

func (r *run) compileAndCollect(ctx context.Context) error {
	opts := r.plan.Options

	dir, err := destdir.Acquire(r.plan.Destination)
	if err != nil {
		return err
	}
	dir.Keep = opts.KeepDestination
	defer func() {
		if err := dir.Release(); err != nil {
			r.logger.Warn("Failed to release destination", "path", r.plan.Destination, "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// A consumer that closes the stream early abandons the build.
	go func() {
		select {
		case <-r.em.Stopped():
			if r.em.Err() == nil {
				cancel()
			}
		case <-ctx.Done():
		}
	}()

	r.logger.Debug("Running compiler",
		"command", r.plan.Invocation.String(),
		"destination", r.plan.Destination)

	driver := process.NewDriver(r.plan.Destination, r.logger)
	driver.Dir = r.plan.Cwd
	driver.Command = opts.Command
	driver.OnError = func(err error) { r.em.Fail(err) }

	outcome, err := driver.Run(ctx, r.plan.Invocation)
	r.exitCode = outcome.ExitCode
	if err != nil {
		return err
	}
	if outcome.ExitCode != 0 {
		r.logger.Debug("Compiler exited non-zero without error output", "exit_code", outcome.ExitCode)
	}

	collector := collect.NewCollector(opts.Workers, r.logger)
	collector.Cache = opts.Cache
	stats, err := collector.Collect(ctx, collect.Request{
		Destination: r.plan.Destination,
		Cwd:         r.plan.Cwd,
		Base:        r.plan.Base,
		Sourcemap:   opts.Sourcemap,
		Include:     opts.Include,
		Exclude:     opts.Exclude,
	}, func(rec *stream.FileRecord) bool {
		return r.em.Push(ctx, rec)
	})
	r.records = stats.Records
	return err
}
