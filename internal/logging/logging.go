// Package logging provides the structured logger used throughout the
// server. It wraps gopkg.in/inconshreveable/log15.v2 the way a Go-language
// server would normally just call log.Printf; here every log line carries
// whatever project/scope context the caller is working on, since a single
// process juggles many concurrently-compiling projects.
package logging

import (
	"io"
	"os"

	log15 "gopkg.in/inconshreveable/log15.v2"
)

// Root is the base logger. ForProject and ForScope derive project-tagged
// loggers from it; code with no project context logs through it directly.
var Root = log15.New()

var output io.Writer = os.Stderr
var level = log15.LvlInfo

func init() {
	Root.SetHandler(log15.StreamHandler(output, log15.LogfmtFormat()))
}

// SetOutput redirects where Root's handler writes, the way the teacher's
// main.go multiplexes to an optional --logfile in addition to stderr.
func SetOutput(w io.Writer) {
	output = w
	Root.SetHandler(log15.LvlFilterHandler(level, log15.StreamHandler(output, log15.LogfmtFormat())))
}

// SetLevel adjusts the minimum level written to the handler. lvl is one of
// the strings recognized by InitializationOptions.logLevel
// (ERROR|WARN|INFO|DEBUG|TRACE).
func SetLevel(lvl string) {
	lv, err := log15.LvlFromString(levelName(lvl))
	if err != nil {
		lv = log15.LvlInfo
	}
	level = lv
	Root.SetHandler(log15.LvlFilterHandler(level, log15.StreamHandler(output, log15.LogfmtFormat())))
}

func levelName(lvl string) string {
	switch lvl {
	case "ERROR", "WARN", "INFO", "DEBUG":
		return lvl
	case "TRACE":
		// log15 has no trace level; fold it into debug.
		return "DEBUG"
	default:
		return "INFO"
	}
}

// ForProject returns a logger tagged with the project root, the way every
// task submitted to an executor pool captures a project context for
// logging at submission time (see internal/exec).
func ForProject(root string) log15.Logger {
	return Root.New("project", root)
}

// ForScope further tags a project logger with the LSP method or task name
// that is currently executing against that scope.
func ForScope(root, task string) log15.Logger {
	return Root.New("project", root, "task", task)
}
