package engine

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brinkrun/edgefn/internal/core"
	"github.com/brinkrun/edgefn/internal/eventloop"
	"github.com/brinkrun/edgefn/internal/webapi"
	"github.com/dustin/go-humanize"
	v8 "github.com/tommie/v8go"
)

// setupFunc configures a V8 context with a slice of the Web API surface.
type setupFunc func(rt core.JSRuntime, el *eventloop.EventLoop) error

// buildSetupFuncs returns the ordered list of Web API setup functions run
// against every fresh isolate. Order matters: later setups assume globals
// installed by earlier ones (e.g. SetupAsyncContext patches setTimeout, so
// it must run after SetupTimers; SetupEncoding patches TextDecoder, so it
// must run after SetupWebAPIs).
func buildSetupFuncs(cfg core.EngineConfig) []setupFunc {
	return []setupFunc{
		webapi.SetupWebAPIs,
		webapi.SetupURLSearchParamsExt,
		webapi.SetupGlobals,
		webapi.SetupEncoding,
		webapi.SetupTimers,
		webapi.SetupAsyncContext,
		webapi.SetupAbort,
		webapi.SetupCrypto,
		webapi.SetupStreams,
		webapi.SetupTextStreams,
		webapi.SetupConsole,
		webapi.SetupConsoleExt,
		func(rt core.JSRuntime, el *eventloop.EventLoop) error {
			return webapi.SetupFetch(rt, cfg, el)
		},
		webapi.SetupUnhandledRejection,
		func(rt core.JSRuntime, _ *eventloop.EventLoop) error {
			return webapi.SetupCodeGenGuard(rt, cfg)
		},
	}
}

// callHandlerJS invokes the module's named "handler" export with the built
// request and captures the return value (a Response or a thenable) on a
// tracked global so the driver can await it uniformly.
const callHandlerJS = `
(function() {
	var mod = globalThis.__worker_module__;
	if (!mod || typeof mod.handler !== 'function') {
		throw new Error('module has no "handler" export');
	}
	globalThis.__call_result = mod.handler(globalThis.__req);
})()
`

// isolateWorker bundles a single V8 isolate+context with its runtime
// adapter and event loop. Exactly one exists per Host at a time. execMu
// serializes every touch of the isolate: Run holds it for the synchronous
// portion of a request, and a streaming response's background pump takes
// it over one reader.read() at a time once Run hands off. inflight counts
// requests (including in-progress stream pumps) still touching this
// isolate, so Reload/Shutdown can wait for it to drain before disposing —
// an isolate in use when disposed crashes the process, not just the
// in-flight request.
type isolateWorker struct {
	iso      *v8.Isolate
	ctx      *v8.Context
	rt       *v8Runtime
	el       *eventloop.EventLoop
	execMu   sync.Mutex
	inflight sync.WaitGroup
}

// Host implements core.EngineHost with a single, always-on V8 isolate that
// can be hot-swapped for a new one on Reload. There is no pooling: the dev
// host serves one function at a time, so one isolate suffices.
type Host struct {
	mu  sync.RWMutex
	cfg core.EngineConfig
	w   *isolateWorker
}

var _ core.EngineHost = (*Host)(nil)

// NewHost creates a Host and compiles the initial source into an isolate.
func NewHost(cfg core.EngineConfig, source string, env *core.Env) (*Host, error) {
	h := &Host{cfg: cfg}
	if err := h.Reload(source, env); err != nil {
		return nil, err
	}
	return h, nil
}

// newIsolateWorker creates a fresh isolate, runs every setup function,
// builds the env bindings, then compiles and executes the bundled module
// source. env is bound once here rather than per request: it belongs to
// IsolateOptions, alongside the script source and quotas, not to any one
// request, and the handler's only parameter is the request itself — env
// bindings are read from the globalThis.env object instead.
func newIsolateWorker(source string, cfg core.EngineConfig, env *core.Env) (*isolateWorker, error) {
	var iso *v8.Isolate
	if cfg.MemoryLimitMB > 0 {
		heapSize := uint64(cfg.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	rt := &v8Runtime{iso: iso, ctx: ctx}
	el := eventloop.New()

	for _, setup := range buildSetupFuncs(cfg) {
		if err := setup(rt, el); err != nil {
			ctx.Close()
			iso.Dispose()
			return nil, fmt.Errorf("setting up runtime globals: %w", err)
		}
	}

	if err := webapi.BuildEnvObject(rt, env); err != nil {
		ctx.Close()
		iso.Dispose()
		return nil, fmt.Errorf("building env bindings: %w", err)
	}

	wrapped := webapi.WrapESModule(source)
	maxBytes := cfg.MaxScriptSizeKB * 1024
	if maxBytes > 0 && len(wrapped) > maxBytes {
		ctx.Close()
		iso.Dispose()
		return nil, fmt.Errorf("compiled script exceeds max size (%d > %d bytes)", len(wrapped), maxBytes)
	}

	script, err := iso.CompileUnboundScript(wrapped, "module.js", v8.CompileOptions{})
	if err != nil {
		ctx.Close()
		iso.Dispose()
		return nil, fmt.Errorf("compiling module: %w", err)
	}

	if _, err := script.Run(ctx); err != nil {
		ctx.Close()
		iso.Dispose()
		return nil, fmt.Errorf("running module: %w", err)
	}

	check, err := ctx.RunScript("typeof globalThis.__worker_module__ !== 'undefined' && typeof globalThis.__worker_module__.handler === 'function'", "check.js")
	if err != nil || !check.Boolean() {
		ctx.Close()
		iso.Dispose()
		return nil, fmt.Errorf("module did not export a handler function")
	}

	return &isolateWorker{iso: iso, ctx: ctx, rt: rt, el: el}, nil
}

// Reload compiles source and env into a new isolate and swaps it in
// atomically. In-flight requests keep running against the old isolate
// until they return; the old isolate is disposed only after every request
// still touching it (including an in-progress streaming pump) drains, so
// a failed reload leaves the previous isolate serving traffic and a
// concurrent reload never disposes an isolate out from under a live
// request.
func (h *Host) Reload(source string, env *core.Env) error {
	w, err := newIsolateWorker(source, h.cfg, env)
	if err != nil {
		return err
	}

	h.mu.Lock()
	old := h.w
	h.w = w
	h.mu.Unlock()

	if old != nil {
		go func() {
			old.inflight.Wait()
			old.ctx.Close()
			old.iso.Dispose()
		}()
	}
	return nil
}

// Shutdown disposes the current isolate. The Host must not be used again.
// Blocks until any in-flight request (including a streaming pump) drains.
func (h *Host) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.w != nil {
		h.w.inflight.Wait()
		h.w.ctx.Close()
		h.w.iso.Dispose()
		h.w = nil
	}
}

// Run executes the handler for a single request against the current
// isolate, enforcing the configured wall-clock timeout and response-size
// cap. Grounded on the teacher's per-site Execute watchdog pattern,
// generalized to the single always-on isolate and the simpler
// handler(request) calling convention.
func (h *Host) Run(req *core.Request) (result *core.RunResult) {
	start := time.Now()
	result = &core.RunResult{}

	h.mu.RLock()
	w := h.w
	if w == nil {
		h.mu.RUnlock()
		result.Error = "engine host has no loaded function"
		result.Duration = time.Since(start)
		return result
	}
	// Counted against w while still holding the RLock, so a concurrent
	// Reload cannot swap h.w and start waiting on w.inflight.Wait() before
	// this request is registered against it.
	w.inflight.Add(1)
	h.mu.RUnlock()

	rt := w.rt
	reqID := core.NewRequestState(h.cfg.MaxFetchRequests)

	inflightReleased := false
	releaseInflight := func() {
		if !inflightReleased {
			inflightReleased = true
			w.inflight.Done()
		}
	}
	defer releaseInflight()

	w.execMu.Lock()
	execLocked := true
	releaseExec := func() {
		if execLocked {
			execLocked = false
			w.execMu.Unlock()
		}
	}
	defer releaseExec()

	var timedOut atomic.Bool
	var requestDone atomic.Bool
	timeout := time.Duration(h.cfg.ExecutionTimeout) * time.Millisecond
	watchdog := time.AfterFunc(timeout, func() {
		if requestDone.Load() {
			return
		}
		timedOut.Store(true)
		w.iso.TerminateExecution()
	})

	defer func() {
		requestDone.Store(true)
		watchdog.Stop()
		if r := recover(); r != nil {
			state := core.ClearRequestState(reqID)
			if state != nil {
				result.Logs = state.Logs
			}
			if timedOut.Load() {
				result.TimedOut = true
				result.Error = fmt.Sprintf("execution timed out (limit: %v)", timeout)
			} else {
				result.Error = fmt.Sprintf("panic: %v", r)
			}
		}
		result.Duration = time.Since(start)
	}()

	fail := func(format string, args ...any) *core.RunResult {
		state := core.ClearRequestState(reqID)
		if state != nil {
			result.Logs = state.Logs
		}
		if timedOut.Load() {
			result.TimedOut = true
		}
		result.Error = fmt.Sprintf(format, args...)
		return result
	}

	stats := w.iso.GetHeapStatistics()
	if stats.HeapSizeLimit > 0 && float64(stats.UsedHeapSize) > float64(stats.HeapSizeLimit)*0.95 {
		result.MemoryLimit = true
		return fail("isolate near heap limit: %s used of %s",
			humanize.Bytes(stats.UsedHeapSize), humanize.Bytes(stats.HeapSizeLimit))
	}

	if err := rt.SetGlobal("__requestID", strconv.FormatUint(reqID, 10)); err != nil {
		return fail("setting request ID: %v", err)
	}

	if err := webapi.GoRequestToJS(rt, req); err != nil {
		return fail("building request: %v", err)
	}

	if _, err := w.ctx.RunScript(callHandlerJS, "call_handler.js"); err != nil {
		if timedOut.Load() {
			return fail("execution timed out (limit: %v)", timeout)
		}
		return fail("invoking handler: %v", err)
	}

	rt.RunMicrotasks()

	deadline := start.Add(timeout)
	if w.el.HasPending() {
		w.el.Drain(rt, deadline)
	}

	if err := webapi.AwaitValue(rt, "__call_result", deadline, w.el); err != nil {
		if timedOut.Load() {
			return fail("execution timed out (limit: %v)", timeout)
		}
		return fail("awaiting handler response: %v", err)
	}

	_ = rt.Eval("globalThis.__result = globalThis.__call_result; delete globalThis.__call_result;")

	resp, streamDone, err := webapi.JsResponseToGo(rt, w.el, deadline, &w.execMu)
	if err != nil {
		return fail("converting response: %v", err)
	}

	if resp.Stream != nil {
		// Request state (fetch cancels, crypto keys, logs) stays alive until
		// the stream finishes pumping: a pull()-driven source may still use
		// it. Snapshot the logs captured so far for this synchronous result
		// without clearing, then clear for real once the pump is done.
		if state := core.GetRequestState(reqID); state != nil {
			result.Logs = append([]core.LogEntry(nil), state.Logs...)
		}
		releaseExec()
		// The background pump, not this return, owns releasing inflight —
		// the isolate is still in use until streamDone closes.
		inflightReleased = true
		go func() {
			<-streamDone
			core.ClearRequestState(reqID)
			w.inflight.Done()
		}()
		result.Response = resp
		return result
	}

	if h.cfg.MaxResponseBytes > 0 && len(resp.Body) > h.cfg.MaxResponseBytes {
		return fail("response body %s exceeds max size %s",
			humanize.Bytes(uint64(len(resp.Body))), humanize.Bytes(uint64(h.cfg.MaxResponseBytes)))
	}

	state := core.ClearRequestState(reqID)
	if state != nil {
		result.Logs = state.Logs
	}
	result.Response = resp
	return result
}
