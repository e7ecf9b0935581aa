package engine

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/brinkrun/edgefn/internal/core"
)

// TestAsyncContextNestingPropertyAlwaysRestoresOuterFrame checks, for
// arbitrary nesting depths and values, that ctx.get() reports the innermost
// active run's value on entry and the enclosing run's value the instant an
// inner run returns, settling back to undefined once the outermost run has
// unwound.
func TestAsyncContextNestingPropertyAlwaysRestoresOuterFrame(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("nested ctx.run always restores the enclosing frame on exit", prop.ForAll(
		func(values []int) bool {
			h, err := NewHost(testConfig(), buildNestedCtxRunSource(values), nil)
			require.NoError(t, err)
			defer h.Shutdown()

			result := h.Run(&core.Request{Method: "GET", URL: "http://localhost/"})
			require.Empty(t, result.Error, "values=%v", values)

			return string(result.Response.Body) == expectedNestedCtxRunTrace(values)
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))

	properties.TestingRun(t)
}

// buildNestedCtxRunSource generates a handler that opens one ctx.run per
// entry in values, innermost-last, logging ctx.get() on entry to every run
// and again immediately after every run but the innermost returns.
func buildNestedCtxRunSource(values []int) string {
	var build func(i int) string
	build = func(i int) string {
		if i == len(values) {
			return ""
		}
		post := ""
		if i < len(values)-1 {
			post = "seen.push(ctx.get() === undefined ? \"undefined\" : String(ctx.get()));"
		}
		return fmt.Sprintf(
			`ctx.run(%d, function() { seen.push(ctx.get() === undefined ? "undefined" : String(ctx.get())); %s %s });`,
			values[i], build(i+1), post,
		)
	}

	return fmt.Sprintf(`export function handler(request) {
  var ctx = new AsyncContext();
  var seen = [];
  %s
  seen.push(ctx.get() === undefined ? "undefined" : String(ctx.get()));
  return new Response(seen.join(","));
}`, build(0))
}

// expectedNestedCtxRunTrace computes the trace buildNestedCtxRunSource's
// script produces: entry values innermost-last, then the enclosing values
// restored on the way back out, then a final "undefined".
func expectedNestedCtxRunTrace(values []int) string {
	n := len(values)
	parts := make([]string, 0, 2*n+1)
	for i := 0; i < n; i++ {
		parts = append(parts, strconv.Itoa(values[i]))
	}
	for i := n - 2; i >= 0; i-- {
		parts = append(parts, strconv.Itoa(values[i]))
	}
	parts = append(parts, "undefined")
	return strings.Join(parts, ",")
}
