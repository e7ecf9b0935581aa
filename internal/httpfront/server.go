// Package httpfront is the net/http front end that turns inbound requests
// into core.Request values for the engine host and translates RunResult
// back into an HTTP response, serving static assets directly when the
// request matches the bundler's asset manifest.
package httpfront

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/brinkrun/edgefn/internal/core"
)

// faviconPath is handled specially: a miss here is a quiet 404, never a
// request into the isolate, matching the original dev server's behavior
// for browsers that probe for a favicon on every navigation.
const faviconPath = "/favicon.ico"

// xForwardedFor and xRegion are the headers injected into every request
// that reaches the isolate, mirroring the upstream/region metadata a
// deployed function would see in production.
const (
	xForwardedFor = "x-forwarded-for"
	xRegionHeader = "x-edgefn-region"
	localRegion   = "local"
)

// AccessLogger receives one line per request and the diagnostics of each
// handler run; Server never formats terminal output itself.
type AccessLogger interface {
	Access(method, path string, status int, duration time.Duration)
	RunResultDiagnostics(result *core.RunResult)
}

// Server is the dev host's HTTP front end. It holds a swappable asset
// manifest (rebuilt by the supervisor on every source change) and a fixed
// EngineHost to dispatch non-asset requests to.
type Server struct {
	host   core.EngineHost
	logger AccessLogger

	mu     sync.RWMutex
	assets map[string]core.AssetManifestEntry
}

// New creates a Server backed by host. SetAssets must be called at least
// once (normally right after the first bundle) before serving traffic.
func New(host core.EngineHost, logger AccessLogger) *Server {
	return &Server{host: host, logger: logger, assets: map[string]core.AssetManifestEntry{}}
}

// SetAssets atomically replaces the asset manifest. Called by the
// supervisor every time the bundler re-runs.
func (s *Server) SetAssets(entries []core.AssetManifestEntry) {
	m := make(map[string]core.AssetManifestEntry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}

	s.mu.Lock()
	s.assets = m
	s.mu.Unlock()
}

func (s *Server) lookupAsset(path string) (core.AssetManifestEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.assets[path]
	return e, ok
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := s.dispatch(w, r)
	if s.logger != nil {
		s.logger.Access(r.Method, r.URL.Path, status, time.Since(start))
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) int {
	if asset, ok := s.lookupAsset(r.URL.Path); ok {
		return s.serveAsset(w, r, asset)
	}

	if r.URL.Path == faviconPath {
		w.WriteHeader(http.StatusNotFound)
		return http.StatusNotFound
	}

	return s.serveHandler(w, r)
}

// serveAsset streams a static file from disk, brotli-compressing it when
// the client advertises brotli support; other clients get the file as-is.
// Handler-produced bodies are never compressed.
func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request, asset core.AssetManifestEntry) int {
	f, err := os.Open(asset.FilePath)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "could not read asset %s: %v", asset.Path, err)
		return http.StatusInternalServerError
	}
	defer f.Close()

	if asset.ContentType != "" {
		w.Header().Set("Content-Type", asset.ContentType)
	}

	if acceptsBrotli(r.Header.Get("Accept-Encoding")) {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		defer bw.Close()
		if _, err := io.Copy(bw, f); err != nil {
			return http.StatusOK
		}
		return http.StatusOK
	}

	if _, err := io.Copy(w, f); err != nil {
		return http.StatusOK
	}
	return http.StatusOK
}

func acceptsBrotli(acceptEncoding string) bool {
	for _, enc := range strings.Split(acceptEncoding, ",") {
		if strings.HasPrefix(strings.TrimSpace(enc), "br") {
			return true
		}
	}
	return false
}

// serveHandler builds a core.Request from the inbound HTTP request,
// injects forwarding/region headers, runs it against the engine host, and
// translates the RunResult into an HTTP response.
func (s *Server) serveHandler(w http.ResponseWriter, r *http.Request) int {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return http.StatusBadRequest
	}

	headers := make(map[string]string, len(r.Header)+2)
	for k := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(r.Header.Values(k), ", ")
	}
	headers[xForwardedFor] = clientIP(r)
	headers[xRegionHeader] = localRegion

	req := &core.Request{
		Method:  r.Method,
		URL:     r.URL.String(),
		Headers: headers,
		Body:    body,
	}

	result := s.host.Run(req)

	if s.logger != nil {
		s.logger.RunResultDiagnostics(result)
	}

	return s.writeResult(w, result)
}

func (s *Server) writeResult(w http.ResponseWriter, result *core.RunResult) int {
	switch {
	case result.TimedOut:
		w.WriteHeader(http.StatusGatewayTimeout)
		io.WriteString(w, "function execution timed out")
		return http.StatusGatewayTimeout

	case result.MemoryLimit:
		w.WriteHeader(http.StatusInsufficientStorage)
		io.WriteString(w, "function execution reached its memory limit")
		return http.StatusInsufficientStorage

	case result.Error != "":
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, result.Error)
		return http.StatusInternalServerError

	case result.Response == nil:
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "handler produced no response")
		return http.StatusInternalServerError
	}

	resp := result.Response
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if resp.Stream != nil {
		for chunk := range resp.Stream {
			if chunk.Err != nil {
				return status
			}
			if len(chunk.Data) > 0 {
				w.Write(chunk.Data)
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
			if chunk.Done {
				break
			}
		}
		return status
	}

	w.Write(resp.Body)
	return status
}

// clientIP extracts the remote address without its port, falling back to
// the raw RemoteAddr when it has no port (e.g. in unit tests using a bare
// listener address).
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
