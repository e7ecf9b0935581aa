package webapi

import (
	"fmt"

	"github.com/brinkrun/edgefn/internal/asynccontext"
	"github.com/brinkrun/edgefn/internal/core"
	"github.com/brinkrun/edgefn/internal/eventloop"
)

// asyncContextJS implements AsyncContext/AsyncLocalStorage as a plain
// call-stack of active values, plus wrappers around setTimeout/setInterval
// and Promise continuations that snapshot the stack at schedule time and
// restore it for the duration of the callback. Must be evaluated after
// SetupTimers so the wrappers see the real setTimeout/setInterval.
const asyncContextJS = `
(function() {
	globalThis.__acStack = [];

	function acSnapshot() { return globalThis.__acStack.slice(); }
	function acRun(snapshot, fn) {
		var saved = globalThis.__acStack;
		globalThis.__acStack = snapshot;
		try {
			return fn();
		} finally {
			globalThis.__acStack = saved;
		}
	}

	class AsyncContext {
		constructor() {
			this.__id = __acNextID();
		}
		run(value, fn, ...args) {
			var frame = { ctx: this, value: value };
			var saved = globalThis.__acStack;
			globalThis.__acStack = saved.concat([frame]);
			try {
				return fn.apply(null, args);
			} finally {
				globalThis.__acStack = saved;
			}
		}
		get() {
			var stack = globalThis.__acStack;
			for (var i = stack.length - 1; i >= 0; i--) {
				if (stack[i].ctx === this) return stack[i].value;
			}
			return undefined;
		}
	}

	class AsyncLocalStorage extends AsyncContext {
		getStore() { return this.get(); }
		enterWith(value) {
			globalThis.__acStack = globalThis.__acStack.concat([{ ctx: this, value: value }]);
		}
		disable() {}
	}

	globalThis.AsyncContext = AsyncContext;
	globalThis.AsyncLocalStorage = AsyncLocalStorage;

	var origSetTimeout = globalThis.setTimeout;
	var origSetInterval = globalThis.setInterval;

	globalThis.setTimeout = function(fn, delay, ...args) {
		if (typeof fn !== 'function') return origSetTimeout(fn, delay);
		var snap = acSnapshot();
		return origSetTimeout(function() { return acRun(snap, function() { return fn.apply(null, args); }); }, delay);
	};
	globalThis.setInterval = function(fn, delay, ...args) {
		if (typeof fn !== 'function') return origSetInterval(fn, delay);
		var snap = acSnapshot();
		return origSetInterval(function() { return acRun(snap, function() { return fn.apply(null, args); }); }, delay);
	};

	var P = globalThis.Promise;
	var origThen = P.prototype.then;
	P.prototype.then = function(onFulfilled, onRejected) {
		var snap = acSnapshot();
		var wrap = function(cb) {
			if (typeof cb !== 'function') return cb;
			return function(v) { return acRun(snap, function() { return cb(v); }); };
		};
		return origThen.call(this, wrap(onFulfilled), wrap(onRejected));
	};
})();
`

// SetupAsyncContext registers the identity issuer and evaluates the
// AsyncContext/AsyncLocalStorage polyfill. Must run after SetupTimers.
func SetupAsyncContext(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__acNextID", func() float64 {
		return float64(asynccontext.NextID())
	}); err != nil {
		return err
	}
	if err := rt.Eval(asyncContextJS); err != nil {
		return fmt.Errorf("evaluating asynccontext.js: %w", err)
	}
	return nil
}
