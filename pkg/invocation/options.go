package invocation

import "fmt"

// SourcemapMode controls how the compiler emits source maps.
type SourcemapMode string

const (
	SourcemapInline SourcemapMode = "inline"
	SourcemapFile   SourcemapMode = "file"
	SourcemapNone   SourcemapMode = "none"
)

// DefaultContainer names the output subdirectory when none is given.
const DefaultContainer = "gulp-ruby-sass"

// Valid reports whether m is a recognized mode. The empty mode is valid and
// means SourcemapFile.
func (m SourcemapMode) Valid() bool {
	switch m {
	case "", SourcemapInline, SourcemapFile, SourcemapNone:
		return true
	}
	return false
}

// ParseSourcemapMode converts s into a SourcemapMode.
func ParseSourcemapMode(s string) (SourcemapMode, error) {
	m := SourcemapMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("invalid sourcemap mode %q (want inline, file or none)", s)
	}
	if m == "" {
		return SourcemapFile, nil
	}
	return m, nil
}

// Options configures one compiler invocation.
type Options struct {
	// Bundler runs the compiler through `bundle exec`.
	Bundler bool `yaml:"bundler"`

	// Sourcemap is forwarded as --sourcemap and also decides whether
	// map sources are rewritten after the run. Default: file.
	Sourcemap SourcemapMode `yaml:"sourcemap"`

	// Container names the isolated output directory under the temp root.
	// Default: DefaultContainer.
	Container string `yaml:"container"`

	// Flags are forwarded verbatim, in order.
	Flags Flags `yaml:"flags"`
}

// WithDefaults returns a copy of o with empty fields defaulted. Flags are
// copied so later changes to o do not leak into the result.
func (o Options) WithDefaults() Options {
	out := o
	if out.Sourcemap == "" {
		out.Sourcemap = SourcemapFile
	}
	if out.Container == "" {
		out.Container = DefaultContainer
	}
	out.Flags = append(Flags(nil), o.Flags...)
	return out
}
