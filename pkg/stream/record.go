package stream

import (
	"path/filepath"

	"github.com/gnana997/sasspipe/pkg/sourcemap"
)

// FileRecord is one compiled artifact handed to the consumer. Ownership
// transfers on emission; the producer keeps no reference.
type FileRecord struct {
	// Cwd is the caller's working directory.
	Cwd string

	// Base is Cwd joined with the compiled source directory. Path always
	// lies under Base.
	Base string

	// Path is Base joined with the file's path below the compiler's output
	// directory.
	Path string

	// Contents holds the file bytes. For CSS files with a companion map the
	// map-reference comment has been removed.
	Contents []byte

	// SourceMap is the parsed companion map, nil when none existed.
	SourceMap *sourcemap.Map
}

// Relative returns Path relative to Base, with forward slashes.
func (r *FileRecord) Relative() string {
	rel, err := filepath.Rel(r.Base, r.Path)
	if err != nil {
		return filepath.ToSlash(r.Path)
	}
	return filepath.ToSlash(rel)
}

// Ext returns the file extension of Path.
func (r *FileRecord) Ext() string {
	return filepath.Ext(r.Path)
}
