package process

import "github.com/gnana997/sasspipe/pkg/classify"

// SpawnError reports that the compiler process could not be started.
type SpawnError struct {
	Command string
	// Message is the user-facing text; for a missing executable it is
	// classify.MissingCompilerMessage.
	Message string
	Err     error
}

func (e *SpawnError) Error() string { return e.Message }

func (e *SpawnError) Unwrap() error { return e.Err }

// MissingExecutable reports whether the process failed because the command
// does not exist.
func (e *SpawnError) MissingExecutable() bool {
	return e.Message == classify.MissingCompilerMessage
}

// CompilerError is a line of compiler or bundler output that matched an error
// signature.
type CompilerError struct {
	Channel classify.Channel
	Message string
}

func (e *CompilerError) Error() string { return e.Message }
