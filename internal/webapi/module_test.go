package webapi

import (
	"strings"
	"testing"
)

func TestWrapESModule_NamedHandlerExport(t *testing.T) {
	source := `export function handler(req) { return new Response("ok"); }`
	result := WrapESModule(source)
	if !strings.Contains(result, "globalThis.__worker_module__") {
		t.Errorf("should set __worker_module__, got %q", result)
	}
	if strings.Contains(result, "export function") {
		t.Errorf("should strip export keyword, got %q", result)
	}
}

func TestWrapESModule_HandlerAmongOtherExports(t *testing.T) {
	source := `function handler(req) { return new Response("ok"); }
function helper() {}
export { handler, helper };`
	result := WrapESModule(source)
	if !strings.Contains(result, "handler") {
		t.Errorf("should preserve handler export, got %q", result)
	}
}

func TestWrapESModule_SyntaxErrorFallsBackToSource(t *testing.T) {
	source := `export function handler(req) { return`
	result := WrapESModule(source)
	if result != source {
		t.Errorf("on transform failure, should return source unchanged")
	}
}
