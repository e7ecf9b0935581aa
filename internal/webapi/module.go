package webapi

import (
	api "github.com/evanw/esbuild/pkg/api"
)

// WrapESModule converts a bundled ES module into an IIFE that assigns its
// exports onto globalThis.__worker_module__, so the named `handler` export
// is reachable from Go without a module loader. Bundling to ESM happens
// upstream (internal/bundler); this only adapts the module boundary so the
// isolate can call into it as a plain script.
func WrapESModule(source string) string {
	result := api.Transform(source, api.TransformOptions{
		Format:     api.FormatIIFE,
		GlobalName: "globalThis.__worker_module__",
		Target:     api.ESNext,
	})
	if len(result.Errors) > 0 {
		return source
	}
	code := string(result.Code)
	// esbuild places the default export under a .default property when
	// converting ESM to IIFE; named exports like `handler` stay directly on
	// the namespace object, which is what callHandlerJS reads.
	return code
}
