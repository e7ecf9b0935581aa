package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/brinkrun/edgefn/internal/core"
)

func runAndExpectBody(t *testing.T, source, wantBody string) {
	t.Helper()
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
	if string(result.Response.Body) != wantBody {
		t.Errorf("body = %q, want %q", result.Response.Body, wantBody)
	}
}

func TestConsoleLogCapturedInRunResult(t *testing.T) {
	source := `export function handler(request) {
  console.log("hello");
  console.warn("careful");
  return new Response("ok");
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
	if len(result.Logs) != 2 {
		t.Fatalf("expected 2 captured log entries, got %d", len(result.Logs))
	}
	if result.Logs[0].Level != "log" || result.Logs[0].Message != "hello" {
		t.Errorf("unexpected first log entry: %+v", result.Logs[0])
	}
	if result.Logs[1].Level != "warn" || result.Logs[1].Message != "careful" {
		t.Errorf("unexpected second log entry: %+v", result.Logs[1])
	}
}

func TestAtobBtoaRoundTrip(t *testing.T) {
	source := `export function handler(request) {
  var encoded = btoa("edge function");
  var decoded = atob(encoded);
  return new Response(decoded === "edge function" ? "match" : "mismatch: " + decoded);
}`
	runAndExpectBody(t, source, "match")
}

func TestStructuredCloneDeepCopiesAndBreaksIdentity(t *testing.T) {
	source := `export function handler(request) {
  var original = { a: 1, nested: { b: 2 } };
  var clone = structuredClone(original);
  clone.nested.b = 99;
  var unaffected = original.nested.b === 2;
  var distinctObjects = clone !== original && clone.nested !== original.nested;
  return new Response(unaffected && distinctObjects ? "ok" : "fail");
}`
	runAndExpectBody(t, source, "ok")
}

func TestStructuredCloneRejectsCircularReferences(t *testing.T) {
	source := `export function handler(request) {
  var obj = {};
  obj.self = obj;
  try {
    structuredClone(obj);
    return new Response("no error");
  } catch (e) {
    return new Response(e.name);
  }
}`
	runAndExpectBody(t, source, "DataCloneError")
}

func TestAbortControllerDispatchesAbortEvent(t *testing.T) {
	source := `export function handler(request) {
  var controller = new AbortController();
  var fired = false;
  controller.signal.addEventListener("abort", function() { fired = true; });
  controller.abort("stop");
  return new Response(fired && controller.signal.aborted && controller.signal.reason === "stop" ? "ok" : "fail");
}`
	runAndExpectBody(t, source, "ok")
}

func TestAbortSignalTimeoutFiresAfterDelay(t *testing.T) {
	source := `export function handler(request) {
  return new Promise(function(resolve) {
    var signal = AbortSignal.timeout(5);
    signal.addEventListener("abort", function() {
      resolve(new Response(signal.aborted ? "ok" : "fail"));
    });
  });
}`
	runAndExpectBody(t, source, "ok")
}

func TestPromiseMicrotaskRunsBeforeTimer(t *testing.T) {
	source := `export function handler(request) {
  return new Promise(function(resolve) {
    var order = [];
    setTimeout(function() {
      order.push("timeout");
      resolve(new Response(order.join(",")));
    }, 0);
    Promise.resolve().then(function() {
      order.push("microtask");
    });
  });
}`
	runAndExpectBody(t, source, "microtask,timeout")
}

func TestSetIntervalFiresMultipleTimesThenClears(t *testing.T) {
	source := `export function handler(request) {
  return new Promise(function(resolve) {
    var count = 0;
    var id = setInterval(function() {
      count++;
      if (count >= 3) {
        clearInterval(id);
        resolve(new Response(String(count)));
      }
    }, 1);
  });
}`
	runAndExpectBody(t, source, "3")
}

func TestTextEncoderDecoderUTF8RoundTrip(t *testing.T) {
	source := `export function handler(request) {
  var enc = new TextEncoder();
  var dec = new TextDecoder();
  var bytes = enc.encode("café");
  return new Response(dec.decode(bytes));
}`
	runAndExpectBody(t, source, "café")
}

func TestCryptoSubtleDigestSHA256(t *testing.T) {
	source := `export function handler(request) {
  return crypto.subtle.digest("SHA-256", new TextEncoder().encode("abc")).then(function(buf) {
    var bytes = new Uint8Array(buf);
    var hex = Array.prototype.map.call(bytes, function(b) {
      return ("0" + b.toString(16)).slice(-2);
    }).join("");
    return new Response(hex);
  });
}`
	// Known SHA-256("abc") digest.
	runAndExpectBody(t, source, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad")
}

func TestCryptoRandomUUIDProducesDistinctValues(t *testing.T) {
	source := `export function handler(request) {
  var a = crypto.randomUUID();
  var b = crypto.randomUUID();
  var looksLikeUUID = /^[0-9a-f-]{36}$/.test(a);
  return new Response(a !== b && looksLikeUUID ? "ok" : "fail");
}`
	runAndExpectBody(t, source, "ok")
}

func TestQueueMicrotaskRunsBeforeResponseSettles(t *testing.T) {
	source := `export function handler(request) {
  return new Promise(function(resolve) {
    var ran = false;
    queueMicrotask(function() { ran = true; });
    Promise.resolve().then(function() {
      resolve(new Response(ran ? "ok" : "fail"));
    });
  });
}`
	runAndExpectBody(t, source, "ok")
}

func TestAsyncContextNestedRunRestoresOuterValue(t *testing.T) {
	source := `export function handler(request) {
  var ctx = new AsyncContext();
  var seen = [];
  ctx.run("v1", function() {
    seen.push(ctx.get());
    ctx.run("v2", function() {
      seen.push(ctx.get());
    });
    seen.push(ctx.get());
  });
  seen.push(ctx.get() === undefined ? "undefined" : String(ctx.get()));
  return new Response(seen.join(","));
}`
	runAndExpectBody(t, source, "v1,v2,v1,undefined")
}

func TestAsyncLocalStorageValueSurvivesAcrossSetTimeout(t *testing.T) {
	source := `export function handler(request) {
  var als = new AsyncLocalStorage();
  return new Promise(function(resolve) {
    als.run("request-value", function() {
      setTimeout(function() {
        resolve(new Response(String(als.getStore())));
      }, 1);
    });
  });
}`
	runAndExpectBody(t, source, "request-value")
}

func TestClearTimeoutWinsOverLaterTimer(t *testing.T) {
	source := `export function handler(request) {
  return new Promise(function(resolve) {
    var id = setTimeout(function() { resolve(new Response("first")); }, 100);
    setTimeout(function() { resolve(new Response("second")); }, 200);
    clearTimeout(id);
  });
}`
	runAndExpectBody(t, source, "second")
}

func TestAsyncLocalStorageValuePersistsAcrossSuccessiveRequests(t *testing.T) {
	source := `
var store = new AsyncLocalStorage();
var id = 1;
export function handler(request) {
  return new Promise(function(resolve) {
    store.run(id++, function() {
      setTimeout(function() {
        resolve(new Response(String(store.getStore() * 2)));
      }, 1);
    });
  });
}`
	h, err := NewHost(testConfig(), source, nil)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Shutdown()

	first := h.Run(&core.Request{Method: "GET", URL: "http://localhost/"})
	if first.Error != "" {
		t.Fatalf("first request: unexpected error: %s", first.Error)
	}
	if string(first.Response.Body) != "2" {
		t.Errorf("first response body = %q, want %q", first.Response.Body, "2")
	}

	second := h.Run(&core.Request{Method: "GET", URL: "http://localhost/"})
	if second.Error != "" {
		t.Fatalf("second request: unexpected error: %s", second.Error)
	}
	if string(second.Response.Body) != "4" {
		t.Errorf("second response body = %q, want %q", second.Response.Body, "4")
	}
}

func TestQueueMicrotaskNonFunctionThrowsTypeError(t *testing.T) {
	source := `export function handler(request) {
  queueMicrotask(true);
  return new Response("unreachable");
}`
	h, err := NewHost(testConfig(), source, nil)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Shutdown()

	result := h.Run(&core.Request{Method: "GET", URL: "http://localhost/"})
	if result.Error == "" {
		t.Fatal("expected a captured error for queueMicrotask(true)")
	}
	if !strings.Contains(result.Error, "TypeError") ||
		!strings.Contains(result.Error, "Parameter 1 is not of type 'Function'") {
		t.Errorf("error = %q, want a TypeError mentioning Parameter 1 is not of type 'Function'", result.Error)
	}
}

func TestInfiniteLoopTerminatesWithinBudget(t *testing.T) {
	cfg := testConfig()
	cfg.ExecutionTimeout = 1000
	source := `export function handler(request) {
  while (true) {}
}`
	h, err := NewHost(cfg, source, nil)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Shutdown()

	start := time.Now()
	result := h.Run(&core.Request{Method: "GET", URL: "http://localhost/"})
	elapsed := time.Since(start)

	if !result.TimedOut {
		t.Fatalf("expected TimedOut, got error=%q", result.Error)
	}
	if elapsed > 1500*time.Millisecond {
		t.Errorf("handler took %v to terminate, want under 1.5s", elapsed)
	}
}

func TestStreamingResponsePullsEveryChunk(t *testing.T) {
	source := `export function handler(request) {
  var parts = ["alpha", "beta", "gamma"];
  var i = 0;
  var stream = new ReadableStream({
    pull: function(controller) {
      if (i >= parts.length) {
        controller.close();
        return;
      }
      controller.enqueue(parts[i++]);
    }
  });
  return new Response(stream);
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
	if result.Response == nil || result.Response.Stream == nil {
		t.Fatalf("expected a streaming response, got %+v", result.Response)
	}

	var got []byte
	for chunk := range result.Response.Stream {
		if chunk.Err != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Err)
		}
		got = append(got, chunk.Data...)
		if chunk.Done {
			break
		}
	}
	if string(got) != "alphabetagamma" {
		t.Errorf("assembled stream body = %q, want %q", got, "alphabetagamma")
	}
}

func TestUncaughtExceptionSurfacesAsRunResultError(t *testing.T) {
	source := `export function handler(request) {
  throw new Error("boom");
}`
	h, err := NewHost(testConfig(), source, nil)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Shutdown()

	result := h.Run(&core.Request{Method: "GET", URL: "http://localhost/"})
	if result.Error == "" {
		t.Fatal("expected a captured error for an uncaught exception")
	}
	if !strings.Contains(result.Error, "boom") {
		t.Errorf("error = %q, want it to mention %q", result.Error, "boom")
	}
}
