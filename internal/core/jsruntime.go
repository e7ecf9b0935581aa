package core

// JSRuntime abstracts the JavaScript engine behind a common interface used
// by shared setup functions in internal/webapi and the shared event loop
// in internal/eventloop.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates JavaScript and returns the result as a Go int.
	EvalInt(js string) (int, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// The function's Go types are automatically marshaled to/from JS types.
	// On error return, the JS wrapper throws a TypeError carrying the
	// error message.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context. Basic Go types
	// (string, int, float64, bool) are auto-converted to JS types.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the microtask queue (Promise callbacks, etc.).
	RunMicrotasks()
}

// BinaryTransferer is implemented by JSRuntime backends that can hand binary
// buffers to and from JS without a base64 round trip. The v8go backend
// implements it using SharedArrayBuffer.
type BinaryTransferer interface {
	// BinaryMode reports which buffer type the backend prefers ("sab" or "ab").
	BinaryMode() string

	// ReadBinaryFromJS reads a buffer stored at the given JS global and
	// returns its contents as Go bytes.
	ReadBinaryFromJS(globalName string) ([]byte, error)
}
