package httpfront

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/brinkrun/edgefn/internal/core"
)

type fakeHost struct {
	lastReq *core.Request
	result  *core.RunResult
}

func (f *fakeHost) Run(req *core.Request) *core.RunResult {
	f.lastReq = req
	return f.result
}

func (f *fakeHost) Reload(source string, env *core.Env) error { return nil }
func (f *fakeHost) Shutdown()                                 {}

type nullLogger struct{}

func (nullLogger) Access(method, path string, status int, d time.Duration) {}
func (nullLogger) RunResultDiagnostics(result *core.RunResult)             {}

func TestServeHandlerInjectsForwardingHeaders(t *testing.T) {
	host := &fakeHost{result: &core.RunResult{
		Response: &core.Response{StatusCode: 200, Body: []byte("ok")},
	}}
	s := New(host, nullLogger{})

	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	if host.lastReq == nil {
		t.Fatal("expected the handler to be invoked")
	}
	if host.lastReq.Headers["x-forwarded-for"] != "203.0.113.5" {
		t.Errorf("x-forwarded-for = %q", host.lastReq.Headers["x-forwarded-for"])
	}
	if host.lastReq.Headers["x-edgefn-region"] != "local" {
		t.Errorf("x-edgefn-region = %q", host.lastReq.Headers["x-edgefn-region"])
	}
	if w.Code != 200 || w.Body.String() != "ok" {
		t.Errorf("unexpected response: %d %q", w.Code, w.Body.String())
	}
}

func TestFaviconMissShortCircuitsWithoutEnteringHandler(t *testing.T) {
	host := &fakeHost{result: &core.RunResult{Response: &core.Response{StatusCode: 200}}}
	s := New(host, nullLogger{})

	req := httptest.NewRequest(http.MethodGet, "/favicon.ico", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	if host.lastReq != nil {
		t.Error("favicon miss should not dispatch to the engine host")
	}
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestAssetManifestMatchServesFileDirectly(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "style.css")
	if err := os.WriteFile(file, []byte("body{color:red}"), 0644); err != nil {
		t.Fatal(err)
	}

	host := &fakeHost{result: &core.RunResult{Response: &core.Response{StatusCode: 200}}}
	s := New(host, nullLogger{})
	s.SetAssets([]core.AssetManifestEntry{
		{Path: "/style.css", FilePath: file, ContentType: "text/css"},
	})

	req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	if host.lastReq != nil {
		t.Error("asset match should not dispatch to the engine host")
	}
	if w.Body.String() != "body{color:red}" {
		t.Errorf("unexpected asset body: %q", w.Body.String())
	}
	if w.Header().Get("Content-Type") != "text/css" {
		t.Errorf("unexpected content type: %q", w.Header().Get("Content-Type"))
	}
}

func TestAssetServedWithBrotliWhenAccepted(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "style.css")
	if err := os.WriteFile(file, []byte("body{color:red}"), 0644); err != nil {
		t.Fatal(err)
	}

	host := &fakeHost{result: &core.RunResult{Response: &core.Response{StatusCode: 200}}}
	s := New(host, nullLogger{})
	s.SetAssets([]core.AssetManifestEntry{
		{Path: "/style.css", FilePath: file, ContentType: "text/css"},
	})

	req := httptest.NewRequest(http.MethodGet, "/style.css", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	if w.Header().Get("Content-Encoding") != "br" {
		t.Errorf("expected br encoding, got %q", w.Header().Get("Content-Encoding"))
	}
}

func TestTimeoutTranslatesTo504(t *testing.T) {
	host := &fakeHost{result: &core.RunResult{TimedOut: true}}
	s := New(host, nullLogger{})

	req := httptest.NewRequest(http.MethodGet, "/slow", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", w.Code)
	}
}

func TestMemoryLimitTranslatesTo507(t *testing.T) {
	host := &fakeHost{result: &core.RunResult{MemoryLimit: true}}
	s := New(host, nullLogger{})

	req := httptest.NewRequest(http.MethodGet, "/oom", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusInsufficientStorage {
		t.Errorf("expected 507, got %d", w.Code)
	}
}

func TestUncaughtErrorTranslatesTo500(t *testing.T) {
	host := &fakeHost{result: &core.RunResult{Error: "boom"}}
	s := New(host, nullLogger{})

	req := httptest.NewRequest(http.MethodGet, "/err", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if w.Body.String() != "boom" {
		t.Errorf("expected error body, got %q", w.Body.String())
	}
}
