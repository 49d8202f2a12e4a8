// Package output writes a record stream to disk.
package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gnana997/sasspipe/pkg/sourcemap"
	"github.com/gnana997/sasspipe/pkg/stream"
)

// WriteOptions controls how attached source maps are written.
type WriteOptions struct {
	// MapsDir is where "<file>.map" is written, relative to the output
	// directory ("." puts maps next to their files). Empty drops maps unless
	// InlineMaps is set.
	MapsDir string

	// InlineMaps embeds maps as base64 data URLs instead of writing files.
	InlineMaps bool

	Logger *slog.Logger
}

// Write drains s, writing each record at outDir/<record.Relative()>, and
// returns the written paths in order. A record whose map is written gets a
// sourceMappingURL comment. The stream's terminal error stops writing and
// is returned.
func Write(ctx context.Context, s *stream.Stream, outDir string, opts WriteOptions) ([]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var written []string
	for {
		rec, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return written, err
		}

		paths, err := writeRecord(rec, outDir, opts)
		written = append(written, paths...)
		if err != nil {
			s.Close()
			return written, err
		}
		logger.Debug("Wrote output", "path", paths[0])
	}
	return written, nil
}

// WriteRecords writes already-collected records the same way Write does.
func WriteRecords(records []*stream.FileRecord, outDir string, opts WriteOptions) ([]string, error) {
	var written []string
	for _, rec := range records {
		paths, err := writeRecord(rec, outDir, opts)
		written = append(written, paths...)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func writeRecord(rec *stream.FileRecord, outDir string, opts WriteOptions) ([]string, error) {
	rel := rec.Relative()
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return nil, fmt.Errorf("record %s lies outside its base %s", rec.Path, rec.Base)
	}
	target := filepath.Join(outDir, filepath.FromSlash(rel))
	contents := rec.Contents

	var mapTarget string
	var mapData []byte
	if rec.SourceMap != nil && (opts.InlineMaps || opts.MapsDir != "") {
		m := rec.SourceMap.Clone()
		m.File = path.Base(rel)

		if opts.InlineMaps {
			url, err := m.DataURL()
			if err != nil {
				return nil, fmt.Errorf("encode map for %s: %w", rel, err)
			}
			contents = appendComment(contents, url)
		} else {
			mapRel := path.Join(filepath.ToSlash(opts.MapsDir), rel+".map")
			mapTarget = filepath.Join(outDir, filepath.FromSlash(mapRel))
			// Sources are relative to the file's directory, not the map's.
			if err := m.Relocate(filepath.Dir(target), filepath.Dir(mapTarget)); err != nil {
				return nil, fmt.Errorf("relocate map for %s: %w", rel, err)
			}
			data, err := m.Marshal()
			if err != nil {
				return nil, fmt.Errorf("encode map for %s: %w", rel, err)
			}
			url, err := filepath.Rel(filepath.Dir(target), mapTarget)
			if err != nil {
				return nil, fmt.Errorf("locate map for %s: %w", rel, err)
			}
			contents = appendComment(contents, filepath.ToSlash(url))
			mapData = data
		}
	}

	if err := writeFile(target, contents); err != nil {
		return nil, err
	}
	if mapTarget == "" {
		return []string{target}, nil
	}
	if err := writeFile(mapTarget, mapData); err != nil {
		return []string{target}, err
	}
	return []string{target, mapTarget}, nil
}

func appendComment(contents []byte, url string) []byte {
	out := make([]byte, 0, len(contents)+len(url)+32)
	out = append(out, contents...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	return append(out, sourcemap.MapFileComment(url)+"\n"...)
}

func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", p, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}
