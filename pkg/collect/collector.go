// Package collect turns the compiler's output directory into an ordered
// sequence of file records.
//
// **Pipeline:**
//  1. Enumerate - walk the output directory in lexical order, filtered by
//     doublestar include/exclude globs
//  2. Read - a bounded worker pool reads files and companion maps
//  3. Re-order - records are pushed in enumeration order, whatever order the
//     reads finish in
//
// The first failure aborts collection; no partial results are pushed after it.
package collect

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/gnana997/sasspipe/pkg/invocation"
	"github.com/gnana997/sasspipe/pkg/sourcemap"
	"github.com/gnana997/sasspipe/pkg/stream"
	"github.com/gnana997/sasspipe/pkg/util"
)

const (
	extCSS = ".css"
	extMap = ".map"
)

// CollectionError reports a failure while enumerating or reading outputs.
// Malformed companion maps are reported with Op "parse map".
type CollectionError struct {
	Op   string
	Path string
	Err  error
}

func (e *CollectionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }

// Entry is one enumerated path under the output directory.
type Entry struct {
	// Rel is the forward-slash path below the output root.
	Rel string
	// Abs is the filesystem path.
	Abs string
	Dir bool
}

// Skipped reports whether the entry never becomes a record of its own.
func (e Entry) Skipped() bool {
	return e.Dir || path.Ext(e.Rel) == extMap
}

// Request describes one collection run.
type Request struct {
	// Destination is the compiler's output directory.
	Destination string

	// Cwd and Base are copied onto every record; Base is Cwd joined with
	// the source directory.
	Cwd  string
	Base string

	// Sourcemap decides whether companion map sources are rewritten.
	Sourcemap invocation.SourcemapMode

	// Include and Exclude filter enumerated paths (doublestar globs,
	// relative to Destination). Empty Include means every file.
	Include []string
	Exclude []string
}

// PushFunc hands a record downstream. Returning false stops collection.
type PushFunc func(*stream.FileRecord) bool

// Stats summarizes a collection run.
type Stats struct {
	Entries    int
	Records    int
	Maps       int
	Skipped    int
	Bytes      int64
	DurationMs int64
}

// Collector reads compiler outputs.
type Collector struct {
	// Workers bounds concurrent reads. 0 uses util.GetOptimalPoolSize().
	Workers int

	// Cache configures the mmap file cache created per run. Nil uses
	// util.DefaultFileCacheConfig().
	Cache *util.FileCacheConfig

	Logger *slog.Logger
}

// NewCollector creates a Collector.
func NewCollector(workers int, logger *slog.Logger) *Collector {
	return &Collector{Workers: workers, Logger: logger}
}

func (c *Collector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// List enumerates every entry below destination, directories included, in
// lexical depth-first order. Entries matching an exclude pattern are dropped
// (excluded directories are not descended into); when include patterns are
// given, files must match one of them. Patterns use doublestar syntax against
// forward-slash paths relative to destination.
func List(destination string, include, exclude []string) ([]Entry, error) {
	for _, pattern := range append(append([]string(nil), include...), exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, &CollectionError{Op: "enumerate", Err: fmt.Errorf("invalid pattern: %s", pattern)}
		}
	}

	root := filepath.FromSlash(destination)
	var entries []Entry

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		for _, pattern := range exclude {
			if matched, _ := doublestar.Match(pattern, rel); matched {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}

		if !d.IsDir() && len(include) > 0 && !matchesAny(include, rel) {
			return nil
		}

		entries = append(entries, Entry{Rel: rel, Abs: p, Dir: d.IsDir()})
		return nil
	})
	if err != nil {
		return nil, &CollectionError{Op: "enumerate", Path: destination, Err: err}
	}
	return entries, nil
}

func matchesAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if m, _ := doublestar.Match(pattern, rel); m {
			return true
		}
	}
	return false
}

// Collect enumerates req.Destination and pushes one record per output file.
func (c *Collector) Collect(ctx context.Context, req Request, push PushFunc) (Stats, error) {
	entries, err := List(req.Destination, req.Include, req.Exclude)
	if err != nil {
		return Stats{}, err
	}
	return c.CollectEntries(ctx, req, entries, push)
}

// CollectEntries pushes records for entries, preserving their order.
// Directories and .map files are skipped.
func (c *Collector) CollectEntries(ctx context.Context, req Request, entries []Entry, push PushFunc) (Stats, error) {
	start := time.Now()
	stats := Stats{Entries: len(entries)}
	if err := ctx.Err(); err != nil {
		return stats, err
	}

	var jobs []ReadJob
	for _, e := range entries {
		if e.Skipped() {
			stats.Skipped++
			continue
		}
		jobs = append(jobs, ReadJob{Entry: e, JobID: len(jobs)})
	}

	c.logger().Debug("Collecting outputs",
		"destination", req.Destination,
		"entries", len(entries),
		"files", len(jobs))

	if len(jobs) == 0 {
		stats.DurationMs = time.Since(start).Milliseconds()
		return stats, nil
	}

	config := c.cacheConfig()
	cache := util.NewFileCache(config)
	defer cache.Close()

	r := &reader{req: req, cache: cache}
	numWorkers := util.PoolSizeForCache(util.GetOptimalPoolSizeWithOverride(c.Workers), config)
	if numWorkers > len(jobs) {
		numWorkers = len(jobs)
	}

	pool := NewWorkerPool(numWorkers, r.read, c.logger())
	pool.Start()

	// window bounds how far reads may run ahead of the next record to push.
	window := make(chan struct{}, numWorkers*2)

	submitCtx, stopSubmitting := context.WithCancel(ctx)
	submitDone := make(chan struct{})
	go func() {
		defer close(submitDone)
		defer pool.FinishSubmitting()
		for _, job := range jobs {
			select {
			case window <- struct{}{}:
			case <-submitCtx.Done():
				return
			}
			if err := pool.Submit(job); err != nil {
				return
			}
		}
	}()

	defer func() {
		stopSubmitting()
		pool.Cancel()
		<-submitDone
		pool.Stop()
	}()

	pending := make(map[int]*stream.FileRecord)
	next := 0
	for next < len(jobs) {
		select {
		case res := <-pool.Results():
			pending[res.JobID] = res.Record
			for {
				rec, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				<-window

				stats.Records++
				stats.Bytes += int64(len(rec.Contents))
				if rec.SourceMap != nil {
					stats.Maps++
				}
				if !push(rec) {
					return stats, errStopped
				}
			}

		case fail := <-pool.Errors():
			c.logger().Debug("Collection failed", "job_id", fail.JobID, "error", fail.Err)
			return stats, fail.Err

		case <-ctx.Done():
			return stats, ctx.Err()
		}
	}

	stats.DurationMs = time.Since(start).Milliseconds()
	c.logger().Debug("Collection complete",
		"records", stats.Records,
		"maps", stats.Maps,
		"bytes", stats.Bytes,
		"duration_ms", stats.DurationMs)

	return stats, nil
}

// errStopped is returned when the consumer side refused a record.
var errStopped = errors.New("collection stopped: stream terminated")

// IsStopped reports whether err only means the stream was already over.
func IsStopped(err error) bool {
	return errors.Is(err, errStopped)
}

func (c *Collector) cacheConfig() *util.FileCacheConfig {
	config := util.DefaultFileCacheConfig()
	if c.Cache != nil {
		copied := *c.Cache
		config = &copied
	}
	if config.Logger == nil {
		config.Logger = c.logger()
	}
	return config
}

// reader builds records for a single run.
type reader struct {
	req   Request
	cache util.FileCache
}

func (r *reader) read(ctx context.Context, job ReadJob) (rec *stream.FileRecord, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e := job.Entry
	css, err := r.cache.Get(e.Abs)
	if err != nil {
		return nil, &CollectionError{Op: "read", Path: e.Abs, Err: err}
	}
	defer r.release(e.Abs, &err)

	rec = &stream.FileRecord{
		Cwd:  r.req.Cwd,
		Base: r.req.Base,
		Path: filepath.Join(r.req.Base, filepath.FromSlash(e.Rel)),
	}

	mapPath := e.Abs + extMap
	if path.Ext(e.Rel) != extCSS {
		rec.Contents = owned(css.Data)
		return rec, nil
	}
	if _, err := os.Stat(mapPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			rec.Contents = owned(css.Data)
			return rec, nil
		}
		return nil, &CollectionError{Op: "stat map", Path: mapPath, Err: err}
	}

	// The CSS stays mapped while its map is parsed straight from the mapping.
	raw, err := r.cache.Get(mapPath)
	if err != nil {
		return nil, &CollectionError{Op: "read", Path: mapPath, Err: err}
	}
	defer r.release(mapPath, &err)

	m, err := sourcemap.Parse(raw.Data)
	if err != nil {
		return nil, &CollectionError{Op: "parse map", Path: mapPath, Err: err}
	}

	if r.req.Sourcemap == invocation.SourcemapFile {
		if err := m.RewriteSources(rec.Path, r.req.Base); err != nil {
			return nil, &CollectionError{Op: "rewrite map", Path: mapPath, Err: err}
		}
	}

	// The consumer writes its own reference comment.
	rec.Contents = []byte(sourcemap.RemoveMapFileComments(string(css.Data)))
	rec.SourceMap = m
	return rec, nil
}

// release unmaps p once the record no longer needs it. An unmap failure
// fails the read unless it already failed.
func (r *reader) release(p string, err *error) {
	if relErr := r.cache.Release(p); relErr != nil && *err == nil {
		*err = &CollectionError{Op: "release", Path: p, Err: relErr}
	}
}

// owned copies mapped bytes so the record outlives the mapping.
func owned(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}
