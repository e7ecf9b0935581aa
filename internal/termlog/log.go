// Package termlog is the dev host's colorized terminal logger: the start
// banner, file-change notices, per-request access log, and RunResult
// diagnostics the original dev command printed with ad hoc colored println
// calls.
package termlog

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/brinkrun/edgefn/internal/core"
	"github.com/brinkrun/edgefn/internal/httpfront"
)

// Logger wraps a charmbracelet/log.Logger with the dev host's fixed set of
// status lines.
type Logger struct {
	l *log.Logger
}

var _ httpfront.AccessLogger = (*Logger)(nil)

// New creates a Logger writing to stderr, timestamped, with no caller
// reporting — this is a CLI status stream, not a debug trace.
func New() *Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05",
		Prefix:          "edgefn",
	})
	l.SetLevel(log.InfoLevel)
	return &Logger{l: l}
}

// Banner announces the server is listening.
func (lg *Logger) Banner(addr string) {
	lg.l.Info("dev server listening", "addr", fmt.Sprintf("http://%s", addr))
}

// CodeGenerationWarning flags that --allow-code-generation relaxed the
// eval/new Function guard for this run.
func (lg *Logger) CodeGenerationWarning() {
	lg.l.Warn("code generation is allowed due to --allow-code-generation")
}

// FileChanged announces a detected source change and that a reload is in
// flight.
func (lg *Logger) FileChanged(path string) {
	lg.l.Info("found change, reloading", "file", path)
}

// ReloadFailed reports a bundle or isolate-swap failure; the previous
// isolate keeps serving traffic.
func (lg *Logger) ReloadFailed(err error) {
	lg.l.Error("reload failed, previous handler still serving", "error", err)
}

// Access logs a single request/response line.
func (lg *Logger) Access(method, path string, status int, d time.Duration) {
	lg.l.Info(fmt.Sprintf("%s %s", method, path), "status", status, "duration", d)
}

// RunResultDiagnostics surfaces the non-happy-path RunResult variants the
// way the original dev command's ResponseEvent handler did: timeouts,
// memory-limit hits, and uncaught errors each get their own line.
func (lg *Logger) RunResultDiagnostics(result *core.RunResult) {
	switch {
	case result.TimedOut:
		lg.l.Error("function execution timed out")
	case result.MemoryLimit:
		lg.l.Error("function execution reached memory limit")
	case result.Error != "":
		lg.l.Error("uncaught error", "error", result.Error)
	}

	for _, entry := range result.Logs {
		switch entry.Level {
		case "error":
			lg.l.Error(entry.Message)
		case "warn":
			lg.l.Warn(entry.Message)
		default:
			lg.l.Info(entry.Message)
		}
	}
}
