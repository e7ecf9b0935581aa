package engine

import (
	"testing"

	"github.com/brinkrun/edgefn/internal/core"
)

func testConfig() core.EngineConfig {
	return core.EngineConfig{
		MemoryLimitMB:    128,
		ExecutionTimeout: 2000,
		MaxFetchRequests: 10,
		FetchTimeoutSec:  5,
		MaxResponseBytes: 1024 * 1024,
		MaxScriptSizeKB:  0,
	}
}

func TestHostRunNamedHandlerExport(t *testing.T) {
	source := `export function handler(request) {
  return new Response("hello from " + request.method);
}`

	h, err := NewHost(testConfig(), source, nil)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Shutdown()

	result := h.Run(&core.Request{Method: "GET", URL: "http://localhost/"})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if result.Response == nil {
		t.Fatal("expected a response")
	}
	if string(result.Response.Body) != "hello from GET" {
		t.Errorf("unexpected body: %q", result.Response.Body)
	}
}

func TestHostRunRejectsMissingHandlerExport(t *testing.T) {
	source := `export default { fetch(request) { return new Response("ok"); } };`

	_, err := NewHost(testConfig(), source, nil)
	if err == nil {
		t.Fatal("expected error for module without a named handler export")
	}
}

func TestHostRunEnvReachableAsGlobal(t *testing.T) {
	source := `export function handler(request) {
  return new Response(env.GREETING || "missing");
}`

	env := &core.Env{Vars: map[string]string{"GREETING": "configured"}}
	h, err := NewHost(testConfig(), source, env)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Shutdown()

	result := h.Run(&core.Request{Method: "GET", URL: "http://localhost/"})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if string(result.Response.Body) != "configured" {
		t.Errorf("expected env var reachable as a global, got %q", result.Response.Body)
	}
}

func TestHostReloadSwapsHandlerWithoutDroppingHost(t *testing.T) {
	h, err := NewHost(testConfig(), `export function handler(request) { return new Response("v1"); }`, nil)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Shutdown()

	if err := h.Reload(`export function handler(request) { return new Response("v2"); }`, nil); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	result := h.Run(&core.Request{Method: "GET", URL: "http://localhost/"})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if string(result.Response.Body) != "v2" {
		t.Errorf("expected reloaded handler to serve v2, got %q", result.Response.Body)
	}
}

func TestHostRunDisallowsCodeGeneration(t *testing.T) {
	source := `export function handler(request) {
  try {
    eval("1+1");
    return new Response("eval allowed");
  } catch (e) {
    return new Response(e.name);
  }
}`

	cfg := testConfig()
	cfg.AllowCodeGeneration = false
	h, err := NewHost(cfg, source, nil)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Shutdown()

	result := h.Run(&core.Request{Method: "GET", URL: "http://localhost/"})
	if result.Error != "" {
		t.Fatalf("unexpected error: %s", result.Error)
	}
	if string(result.Response.Body) != "EvalError" {
		t.Errorf("expected eval to raise EvalError, got %q", result.Response.Body)
	}
}
