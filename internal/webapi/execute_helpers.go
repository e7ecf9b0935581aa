package webapi

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brinkrun/edgefn/internal/core"
	"github.com/brinkrun/edgefn/internal/eventloop"
)

// GoRequestToJS converts a Go Request into a JS Request object stored in
// globalThis.__req.
func GoRequestToJS(rt core.JSRuntime, req *core.Request) error {
	lowerHeaders := make(map[string]string, len(req.Headers))
	for k, v := range req.Headers {
		lowerHeaders[strings.ToLower(k)] = v
	}
	headersJSON, _ := json.Marshal(lowerHeaders)

	_ = rt.SetGlobal("__tmp_url", req.URL)
	_ = rt.SetGlobal("__tmp_method", req.Method)
	_ = rt.SetGlobal("__tmp_headers_json", string(headersJSON))

	var bodyScript string
	if len(req.Body) > 0 {
		_ = rt.SetGlobal("__tmp_body", string(req.Body))
		bodyScript = "init.body = globalThis.__tmp_body;"
	}

	script := fmt.Sprintf(`(function() {
		var init = {
			method: globalThis.__tmp_method,
			headers: JSON.parse(globalThis.__tmp_headers_json),
		};
		%s
		globalThis.__req = new Request(globalThis.__tmp_url, init);
		delete globalThis.__tmp_url;
		delete globalThis.__tmp_method;
		delete globalThis.__tmp_headers_json;
		delete globalThis.__tmp_body;
	})()`, bodyScript)

	return rt.Eval(script)
}

// jsChunkToTransferJS converts a JS value read off a ReadableStream (string,
// ArrayBuffer, or ArrayBuffer view) into the same {body, bodyType} shape
// JsResponseToGo uses for a buffered body, so both paths share one decoder
// on the Go side.
const jsChunkToTransferJS = `(function(chunk, binaryMode) {
	var body = '';
	var bodyType = 'string';
	if (chunk === null || chunk === undefined) {
		body = '';
	} else if (chunk instanceof ArrayBuffer || ArrayBuffer.isView(chunk)) {
		var src = (chunk instanceof ArrayBuffer)
			? new Uint8Array(chunk)
			: new Uint8Array(chunk.buffer, chunk.byteOffset, chunk.byteLength);
		if (binaryMode) {
			var buf = (binaryMode === 'sab') ? new SharedArrayBuffer(src.byteLength) : new ArrayBuffer(src.byteLength);
			new Uint8Array(buf).set(src);
			globalThis.__tmp_chunk_sab = buf;
			bodyType = 'binary';
		} else {
			body = __bufferSourceToB64(src);
			bodyType = 'base64';
		}
	} else {
		body = String(chunk);
	}
	return { body: body, bodyType: bodyType };
})(%s, globalThis.__tmp_binary_mode || '')`

// decodeTransferBody turns a {body, bodyType} pair produced by either
// JsResponseToGo's buffered path or jsChunkToTransferJS into raw bytes,
// pulling a binary payload out of globalName when bodyType is "binary".
func decodeTransferBody(rt core.JSRuntime, bodyType, body, globalName string) ([]byte, error) {
	switch bodyType {
	case "binary":
		bt, ok := rt.(core.BinaryTransferer)
		if !ok {
			return nil, fmt.Errorf("binary response body requires BinaryTransferer runtime")
		}
		b, err := bt.ReadBinaryFromJS(globalName)
		if err != nil {
			return nil, fmt.Errorf("reading binary response body: %w", err)
		}
		return b, nil
	case "base64":
		if body == "" {
			return nil, nil
		}
		b, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, fmt.Errorf("decoding base64 body: %w", err)
		}
		return b, nil
	default:
		if body == "" {
			return nil, nil
		}
		return []byte(body), nil
	}
}

// JsResponseToGo extracts a Go Response from the JS Response in
// globalThis.__result. When the body is a ReadableStream it locks a reader
// on it and hands back a Response with Stream populated instead of Body; the
// returned done channel closes once the pump goroutine has finished writing
// to that stream and it is safe to tear down the request's JS-side state.
// execMu guards every access to rt: the pump goroutine keeps using the same
// isolate after this call returns, so the caller must release execMu (it is
// expected to be held on entry) once it has nothing left to do with rt
// itself, letting the pump take over isolate access one read() at a time.
func JsResponseToGo(rt core.JSRuntime, el *eventloop.EventLoop, deadline time.Time, execMu *sync.Mutex) (*core.Response, <-chan struct{}, error) {
	// Set a temporary flag so JS knows the Go side supports binary transfer.
	// The mode tells JS which buffer type to create: "sab" or "ab".
	if bt, ok := rt.(core.BinaryTransferer); ok {
		_ = rt.SetGlobal("__tmp_binary_mode", bt.BinaryMode())
	}

	resultJSON, err := rt.EvalString(`(function() {
		var r = globalThis.__result;
		delete globalThis.__result;
		if (r === null || r === undefined) return JSON.stringify({error: "null response"});
		var headers = {};
		if (r.headers && r.headers._map) {
			var m = r.headers._map;
			for (var k in m) {
				if (m.hasOwnProperty(k)) headers[k] = Array.isArray(m[k]) ? m[k].join(', ') : m[k];
			}
		}
		var body = '';
		var bodyType = 'string';
		var _bm = globalThis.__tmp_binary_mode || '';
		if (_bm) delete globalThis.__tmp_binary_mode;
		if (r._body !== null && r._body !== undefined) {
			if (r._body instanceof ReadableStream) {
				globalThis.__resp_reader = r._body.getReader();
				bodyType = 'stream';
			} else if (r._body instanceof ArrayBuffer || ArrayBuffer.isView(r._body)) {
				var _src2 = (r._body instanceof ArrayBuffer)
					? new Uint8Array(r._body)
					: new Uint8Array(r._body.buffer, r._body.byteOffset, r._body.byteLength);
				if (_bm) {
					var _buf2 = (_bm === 'sab') ? new SharedArrayBuffer(_src2.byteLength) : new ArrayBuffer(_src2.byteLength);
					new Uint8Array(_buf2).set(_src2);
					globalThis.__tmp_resp_sab = _buf2;
					bodyType = 'binary';
				} else {
					body = __bufferSourceToB64(_src2);
					bodyType = 'base64';
				}
			} else {
				body = String(r._body);
			}
		}
		return JSON.stringify({
			status: r.status || 200,
			headers: headers,
			body: body,
			bodyType: bodyType,
		});
	})()`)
	if err != nil {
		return nil, nil, fmt.Errorf("extracting response: %w", err)
	}

	var resp struct {
		Status   int               `json:"status"`
		Headers  map[string]string `json:"headers"`
		Body     string            `json:"body"`
		BodyType string            `json:"bodyType"`
		Error    string            `json:"error"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &resp); err != nil {
		return nil, nil, fmt.Errorf("parsing response JSON: %w", err)
	}
	if resp.Error != "" {
		return nil, nil, fmt.Errorf("handler returned %s instead of Response", resp.Error)
	}

	if resp.BodyType == "stream" {
		stream, done := pumpResponseStream(rt, el, deadline, execMu)
		return &core.Response{
			StatusCode: resp.Status,
			Headers:    resp.Headers,
			Stream:     stream,
		}, done, nil
	}

	body, err := decodeTransferBody(rt, resp.BodyType, resp.Body, "__tmp_resp_sab")
	if err != nil {
		return nil, nil, err
	}

	return &core.Response{
		StatusCode: resp.Status,
		Headers:    resp.Headers,
		Body:       body,
	}, nil, nil
}

// pumpResponseStream drains globalThis.__resp_reader (a locked
// ReadableStreamDefaultReader set up by JsResponseToGo) by repeatedly
// awaiting reader.read(), pumping the event loop so pull-based sources
// (timers, fetch, async iterables) get a chance to produce a value, and
// forwarding each chunk on the returned channel until the stream finishes,
// errors, or the request deadline passes. The done channel closes after the
// chunk channel is closed and __resp_reader has been cleaned up, which is
// the caller's signal that it is finally safe to tear down request state.
// execMu is held only while touching rt, never while blocked sending on out,
// so the isolate stays available to the next request between reads.
func pumpResponseStream(rt core.JSRuntime, el *eventloop.EventLoop, deadline time.Time, execMu *sync.Mutex) (<-chan core.StreamChunk, <-chan struct{}) {
	out := make(chan core.StreamChunk)
	done := make(chan struct{})

	var binaryMode string
	if bt, ok := rt.(core.BinaryTransferer); ok {
		binaryMode = bt.BinaryMode()
	}

	go func() {
		defer close(done)
		defer close(out)

		for {
			if time.Now().After(deadline) {
				execMu.Lock()
				_ = rt.Eval(`delete globalThis.__resp_reader;`)
				execMu.Unlock()
				out <- core.StreamChunk{Err: fmt.Errorf("stream read deadline exceeded"), Done: true}
				return
			}

			execMu.Lock()
			chunk, readErr := readNextChunk(rt, el, deadline, binaryMode)
			if chunk.Done || readErr != nil {
				_ = rt.Eval(`delete globalThis.__resp_reader;`)
			}
			execMu.Unlock()

			if readErr != nil {
				out <- core.StreamChunk{Err: readErr, Done: true}
				return
			}
			out <- chunk
			if chunk.Done {
				return
			}
		}
	}()

	return out, done
}

// readNextChunk performs one reader.read() round trip: call read(), await
// its promise (driving the event loop as needed), and decode the resolved
// value into a StreamChunk. Caller holds execMu for the duration.
func readNextChunk(rt core.JSRuntime, el *eventloop.EventLoop, deadline time.Time, binaryMode string) (core.StreamChunk, error) {
	if binaryMode != "" {
		_ = rt.SetGlobal("__tmp_binary_mode", binaryMode)
	}
	if err := rt.Eval(`globalThis.__stream_read_promise = globalThis.__resp_reader.read();`); err != nil {
		return core.StreamChunk{}, fmt.Errorf("calling reader.read(): %w", err)
	}

	if err := AwaitValue(rt, "__stream_read_promise", deadline, el); err != nil {
		return core.StreamChunk{}, fmt.Errorf("awaiting reader.read(): %w", err)
	}

	readJSON, err := rt.EvalString(`(function() {
		var r = globalThis.__stream_read_promise;
		delete globalThis.__stream_read_promise;
		if (r.done) return JSON.stringify({done: true});
		var t = ` + fmt.Sprintf(jsChunkToTransferJS, "r.value") + `;
		t.done = false;
		return JSON.stringify(t);
	})()`)
	if err != nil {
		return core.StreamChunk{}, fmt.Errorf("reading chunk value: %w", err)
	}

	var parsed struct {
		Done     bool   `json:"done"`
		Body     string `json:"body"`
		BodyType string `json:"bodyType"`
	}
	if err := json.Unmarshal([]byte(readJSON), &parsed); err != nil {
		return core.StreamChunk{}, fmt.Errorf("parsing chunk JSON: %w", err)
	}
	if parsed.Done {
		return core.StreamChunk{Done: true}, nil
	}

	data, err := decodeTransferBody(rt, parsed.BodyType, parsed.Body, "__tmp_chunk_sab")
	if err != nil {
		return core.StreamChunk{}, err
	}
	return core.StreamChunk{Data: data}, nil
}

// BuildEnvObject creates the globalThis.env object from plain vars and
// secrets, readable directly by the handler module (handler(request) takes
// no second argument — env is a global, not a parameter). Persistent-storage
// bindings are out of scope for the local host. Run once per isolate load,
// not per request.
func BuildEnvObject(rt core.JSRuntime, env *core.Env) error {
	if err := rt.Eval("globalThis.env = {};"); err != nil {
		return fmt.Errorf("creating env object: %w", err)
	}
	if env == nil {
		return nil
	}

	for k, v := range env.Vars {
		js := fmt.Sprintf("globalThis.env[%s] = %s;", core.JsEscape(k), core.JsEscape(v))
		if err := rt.Eval(js); err != nil {
			return fmt.Errorf("setting var %q: %w", k, err)
		}
	}

	for k, v := range env.Secrets {
		js := fmt.Sprintf("globalThis.env[%s] = %s;", core.JsEscape(k), core.JsEscape(v))
		if err := rt.Eval(js); err != nil {
			return fmt.Errorf("setting secret %q: %w", k, err)
		}
	}

	return nil
}
