package termlog

import (
	"testing"
	"time"

	"github.com/brinkrun/edgefn/internal/core"
)

func TestNewProducesUsableLogger(t *testing.T) {
	lg := New()
	if lg == nil || lg.l == nil {
		t.Fatal("expected a usable logger")
	}
}

func TestRunResultDiagnosticsDoesNotPanicOnHappyPath(t *testing.T) {
	lg := New()
	lg.RunResultDiagnostics(&core.RunResult{
		Response: &core.Response{StatusCode: 200},
		Logs: []core.LogEntry{
			{Level: "info", Message: "hello", Time: time.Now()},
		},
	})
}

func TestRunResultDiagnosticsHandlesEachVariant(t *testing.T) {
	lg := New()
	lg.RunResultDiagnostics(&core.RunResult{TimedOut: true})
	lg.RunResultDiagnostics(&core.RunResult{MemoryLimit: true})
	lg.RunResultDiagnostics(&core.RunResult{Error: "boom"})
}

func TestAccessAndBannerDoNotPanic(t *testing.T) {
	lg := New()
	lg.Banner("127.0.0.1:1234")
	lg.FileChanged("/tmp/index.js")
	lg.Access("GET", "/", 200, 5*time.Millisecond)
	lg.ReloadFailed(nil)
	lg.CodeGenerationWarning()
}
