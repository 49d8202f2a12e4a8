// Package invocation assembles the compiler command line for one build.
package invocation

import (
	"path"
	"path/filepath"
	"strings"
)

// Command names.
const (
	CompilerCommand = "sass"
	BundlerCommand  = "bundle"
)

// Invocation is the fully assembled external command. The last argument is
// always "<source>:<destination>".
type Invocation struct {
	Command string
	Args    []string
}

// String renders the command line for logging.
func (inv Invocation) String() string {
	return strings.TrimSpace(inv.Command + " " + strings.Join(inv.Args, " "))
}

// Destination returns the forward-slash output directory for container under
// tempRoot.
func Destination(tempRoot, container string) string {
	if container == "" {
		container = DefaultContainer
	}
	return path.Clean(filepath.ToSlash(filepath.Join(tempRoot, container)))
}

// Build produces the Invocation for compiling source into destination.
//
// Argument layout:
//
//	[exec sass] --sourcemap <mode> <passthrough...> --update <source>:<destination>
//
// --update is always present. Passthrough flags are not validated.
func Build(opts Options, source, destination string) (Invocation, error) {
	if _, err := ParseSourcemapMode(string(opts.Sourcemap)); err != nil {
		return Invocation{}, err
	}
	opts = opts.WithDefaults()

	args := []string{"--sourcemap", string(opts.Sourcemap)}
	args = append(args, opts.Flags.Args()...)
	args = append(args, "--update")
	args = append(args, source+":"+filepath.ToSlash(destination))

	inv := Invocation{Command: CompilerCommand, Args: args}
	if opts.Bundler {
		inv.Command = BundlerCommand
		inv.Args = append([]string{"exec", CompilerCommand}, args...)
	}
	return inv, nil
}
