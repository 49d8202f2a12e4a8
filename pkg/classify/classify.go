// Package classify sorts single lines of compiler output into log lines,
// stream errors, or noise that should be dropped.
//
// The compiler and its dependency manager interleave diagnostics on stdout and
// stderr with inconsistent conventions (some errors arrive on stdout, warnings
// on stderr). Everything that decides where the error/log boundary lies lives
// here so the rest of the pipeline only ever sees a Result.
package classify

import (
	"errors"
	"io/fs"
	"os/exec"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Channel identifies the output channel a line was read from.
type Channel string

const (
	Stdout Channel = "stdout"
	Stderr Channel = "stderr"
)

// Kind is the classification of one line.
type Kind int

const (
	Log Kind = iota
	Error
	Ignored
)

func (k Kind) String() string {
	switch k {
	case Log:
		return "log"
	case Error:
		return "error"
	case Ignored:
		return "ignored"
	default:
		return "unknown"
	}
}

// Result is the outcome of classifying one line.
type Result struct {
	Kind Kind
	// Text is the formatted line (destination prefix stripped, trimmed).
	Text string
}

// MissingCompilerMessage replaces the OS error when the compiler cannot be found.
const MissingCompilerMessage = "missing the compiler executable; install and ensure it is on the search path"

// Error signatures. They are matched against formatted text.
var (
	MatchCompilerError     = regexp.MustCompile(`error\s`)
	MatchNoBundler         = regexp.MustCompile(`ERROR: Gem bundler is not installed`)
	MatchNoGemfile         = regexp.MustCompile(`Could not locate Gemfile`)
	MatchNoBundledCompiler = regexp.MustCompile(`bundler: command not found: sass|Could not find gem`)
	MatchNoCompiler        = regexp.MustCompile(`execvp\(\): No such file or directory|spawn ENOENT|executable file not found`)
)

var stdoutErrors = []*regexp.Regexp{
	MatchCompilerError,
	MatchNoBundler,
	MatchNoGemfile,
	MatchNoBundledCompiler,
}

// Line classifies one line read from channel. destination is the compiler's
// output directory; its absolute prefix is stripped before matching.
func Line(channel Channel, text, destination string) Result {
	msg := Format(text, destination)

	switch channel {
	case Stdout:
		for _, re := range stdoutErrors {
			if re.MatchString(msg) {
				return Result{Kind: Error, Text: msg}
			}
		}
		return Result{Kind: Log, Text: msg}
	case Stderr:
		if MatchNoBundledCompiler.MatchString(msg) {
			return Result{Kind: Error, Text: msg}
		}
		// The spawn error path reports a missing executable; the stderr
		// duplicate is dropped.
		if MatchNoCompiler.MatchString(msg) {
			return Result{Kind: Ignored, Text: msg}
		}
		return Result{Kind: Log, Text: msg}
	default:
		return Result{Kind: Log, Text: msg}
	}
}

// Spawn classifies a failure to start the compiler process. It is always an
// Error; a missing executable gets the instructional message instead of the
// OS text.
func Spawn(err error) Result {
	if err == nil {
		return Result{Kind: Error, Text: "failed to start compiler"}
	}
	if IsMissingCompiler(err) {
		return Result{Kind: Error, Text: MissingCompilerMessage}
	}
	return Result{Kind: Error, Text: strings.TrimSpace(err.Error())}
}

// IsMissingCompiler reports whether err means the executable does not exist.
func IsMissingCompiler(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return true
	}
	return MatchNoCompiler.MatchString(err.Error())
}

// prefixes memoizes the destination-stripping pattern per destination.
var prefixes = mustPrefixCache(64)

func mustPrefixCache(size int) *lru.Cache[string, *regexp.Regexp] {
	c, err := lru.New[string, *regexp.Regexp](size)
	if err != nil {
		panic(err)
	}
	return c
}

// Format removes every occurrence of destination (and a following slash) from
// text and trims surrounding whitespace and line breaks, so messages read as
// if the compiler had been run in place.
func Format(text, destination string) string {
	if destination != "" {
		re, ok := prefixes.Get(destination)
		if !ok {
			re = regexp.MustCompile(regexp.QuoteMeta(destination) + `/?`)
			prefixes.Add(destination, re)
		}
		text = re.ReplaceAllLiteralString(text, "")
	}
	return strings.TrimSpace(text)
}
