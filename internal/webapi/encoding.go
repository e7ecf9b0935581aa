package webapi

import (
	"encoding/base64"
	"fmt"

	"github.com/brinkrun/edgefn/internal/core"
	"github.com/brinkrun/edgefn/internal/eventloop"
	"golang.org/x/text/encoding/htmlindex"
)

// encodingJS implements global atob() and btoa() as pure JavaScript, plus a
// TextDecoder that defers to the Go-backed __textDecodeGo for any label
// other than "utf-8" (the hot path stays JS-only to avoid a round trip on
// the common case).
const encodingJS = `
(function() {
	const _e = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	const _d = new Uint8Array(128);
	for (let i = 0; i < _e.length; i++) _d[_e.charCodeAt(i)] = i;
	const _v = new Uint8Array(128);
	for (let i = 0; i < _e.length; i++) _v[_e.charCodeAt(i)] = 1;
	_v[61] = 1; // '='

	globalThis.btoa = function(data) {
		if (arguments.length < 1) throw new TypeError("btoa requires at least 1 argument(s)");
		const s = String(data);
		const len = s.length;
		if (len === 0) return '';
		const bytes = new Uint8Array(len);
		for (let i = 0; i < len; i++) {
			const ch = s.charCodeAt(i);
			if (ch > 255) throw new Error("btoa: string contains characters outside of the Latin1 range");
			bytes[i] = ch;
		}
		const out = [];
		for (let i = 0; i < len; i += 3) {
			const a = bytes[i];
			const b = i + 1 < len ? bytes[i + 1] : 0;
			const c = i + 2 < len ? bytes[i + 2] : 0;
			out.push(
				_e[a >> 2],
				_e[((a & 3) << 4) | (b >> 4)],
				i + 1 < len ? _e[((b & 15) << 2) | (c >> 6)] : '=',
				i + 2 < len ? _e[c & 63] : '='
			);
		}
		return out.join('');
	};

	globalThis.atob = function(data) {
		if (arguments.length < 1) throw new TypeError("atob requires at least 1 argument(s)");
		let b64 = String(data);
		b64 = b64.replace(/[\t\n\f\r ]/g, '');
		if (b64.length === 0) return '';
		if (b64.length % 4 === 0) {
			if (b64[b64.length - 1] === '=') {
				b64 = b64.slice(0, b64[b64.length - 2] === '=' ? -2 : -1);
			}
		}
		if (b64.length % 4 === 1) {
			throw new Error("atob: invalid base64 string");
		}
		for (let i = 0; i < b64.length; i++) {
			const ch = b64.charCodeAt(i);
			if (ch >= 128 || !_v[ch] || ch === 61) {
				throw new Error("atob: invalid base64 string");
			}
		}
		while (b64.length % 4 !== 0) b64 += '=';
		let pad = 0;
		if (b64[b64.length - 1] === '=') pad++;
		if (b64[b64.length - 2] === '=') pad++;
		const outLen = (b64.length / 4) * 3 - pad;
		const bytes = new Uint8Array(outLen);
		let j = 0;
		for (let i = 0; i < b64.length; i += 4) {
			const a = _d[b64.charCodeAt(i)];
			const b = _d[b64.charCodeAt(i + 1)];
			const c = _d[b64.charCodeAt(i + 2)];
			const d = _d[b64.charCodeAt(i + 3)];
			bytes[j++] = (a << 2) | (b >> 4);
			if (j < outLen) bytes[j++] = ((b & 15) << 4) | (c >> 2);
			if (j < outLen) bytes[j++] = ((c & 3) << 6) | d;
		}
		const CHUNK = 4096;
		let result = '';
		for (let i = 0; i < outLen; i += CHUNK) {
			const end = Math.min(i + CHUNK, outLen);
			result += String.fromCharCode.apply(null, bytes.subarray(i, end));
		}
		return result;
	};

	const _origTextDecoderDecode = globalThis.TextDecoder.prototype.decode;
	globalThis.TextDecoder.prototype.decode = function(buf, options) {
		if (this._encoding === 'utf-8') {
			return _origTextDecoderDecode.call(this, buf, options);
		}
		var incoming;
		if (!buf) incoming = new Uint8Array(0);
		else if (buf instanceof ArrayBuffer) incoming = new Uint8Array(buf);
		else if (ArrayBuffer.isView(buf)) incoming = new Uint8Array(buf.buffer, buf.byteOffset, buf.byteLength);
		else incoming = new Uint8Array(buf);
		var b64 = __bufferSourceToB64(incoming);
		return __textDecodeGo(this._encoding, b64, this._fatal);
	};
})();
`

// SetupEncoding evaluates the pure-JS atob/btoa/TextDecoder-extension
// implementations and registers the Go-backed fallback decoder used for
// any label beyond plain UTF-8.
func SetupEncoding(rt core.JSRuntime, _ *eventloop.EventLoop) error {
	if err := rt.RegisterFunc("__textDecodeGo", func(label, dataB64 string, fatal bool) (string, error) {
		enc, err := htmlindex.Get(label)
		if err != nil {
			if fatal {
				return "", fmt.Errorf("TextDecoder: unsupported encoding %q", label)
			}
			enc, _ = htmlindex.Get("utf-8")
		}
		data, err := base64.StdEncoding.DecodeString(dataB64)
		if err != nil {
			return "", fmt.Errorf("TextDecoder: invalid input")
		}
		out, err := enc.NewDecoder().Bytes(data)
		if err != nil {
			if fatal {
				return "", fmt.Errorf("The encoded data was not valid %s", label)
			}
			return string(out), nil
		}
		return string(out), nil
	}); err != nil {
		return err
	}

	if err := rt.Eval(encodingJS); err != nil {
		return fmt.Errorf("evaluating encoding.js: %w", err)
	}
	return nil
}
