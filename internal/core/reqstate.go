package core

import (
	"context"
	"fmt"
	"hash"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

const MaxLogEntries = 1000
const MaxLogMessageSize = 4096

// CryptoKeyEntry holds imported key material and its associated hash algorithm.
type CryptoKeyEntry struct {
	Data        []byte // Raw key bytes (symmetric keys)
	HashAlgo    string // Associated hash algorithm
	AlgoName    string // Algorithm name (HMAC, AES-GCM, ...)
	KeyType     string // "secret", "public", "private"
	Extractable bool   // WebCrypto extractable flag
}

// RequestState holds per-request mutable state (logs, fetch counter,
// crypto keys). The isolate sets it before calling into JS and clears it
// after the handler settles. Env bindings live on the isolate, not here —
// see BuildEnvObject.
type RequestState struct {
	Logs       []LogEntry
	FetchCount int
	MaxFetches int
	CryptoKeys map[int]*CryptoKeyEntry
	NextKeyID  int

	// DigestStream state: per-request hash instances keyed by stream ID,
	// backing crypto.DigestStream's incremental digest API.
	DigestStreams map[string]hash.Hash
	NextDigestID  int64

	// In-flight fetch cancellation: maps fetchID -> cancel function, so an
	// AbortSignal can tear down an outstanding request.
	FetchCancels map[string]context.CancelFunc
	NextFetchID  int64

	// Extension storage for webapi packages. Each package stores its own
	// typed state using well-known string keys.
	extMu    sync.Mutex
	ext      map[string]any
	cleanups []func()
}

// SetExt stores a value in the extension map under the given key.
func (rs *RequestState) SetExt(key string, val any) {
	rs.extMu.Lock()
	if rs.ext == nil {
		rs.ext = make(map[string]any)
	}
	rs.ext[key] = val
	rs.extMu.Unlock()
}

// GetExt retrieves a value from the extension map.
func (rs *RequestState) GetExt(key string) any {
	rs.extMu.Lock()
	defer rs.extMu.Unlock()
	if rs.ext == nil {
		return nil
	}
	return rs.ext[key]
}

// RegisterCleanup adds a cleanup function to be called when the request state
// is cleared. Cleanups are called in reverse registration order.
func (rs *RequestState) RegisterCleanup(fn func()) {
	rs.extMu.Lock()
	rs.cleanups = append(rs.cleanups, fn)
	rs.extMu.Unlock()
}

var (
	requestCounter atomic.Uint64
	requestStates  sync.Map // uint64 -> *RequestState
)

// NewRequestState creates a new request state and returns its unique ID.
func NewRequestState(maxFetches int) uint64 {
	id := requestCounter.Add(1)
	requestStates.Store(id, &RequestState{
		MaxFetches: maxFetches,
	})
	return id
}

// GetRequestState returns the state for the given request ID, or nil.
func GetRequestState(id uint64) *RequestState {
	v, ok := requestStates.Load(id)
	if !ok {
		return nil
	}
	return v.(*RequestState)
}

// ClearRequestState removes the state for the given request ID and returns
// it, running registered cleanups and cancelling any in-flight fetches.
func ClearRequestState(id uint64) *RequestState {
	v, ok := requestStates.LoadAndDelete(id)
	if !ok {
		return nil
	}
	state := v.(*RequestState)

	state.extMu.Lock()
	cleanups := state.cleanups
	state.cleanups = nil
	cancels := state.FetchCancels
	state.FetchCancels = nil
	state.extMu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	for _, cancel := range cancels {
		cancel()
	}

	return state
}

// ImportCryptoKeyFull stores a complete CryptoKeyEntry and returns its ID.
func ImportCryptoKeyFull(reqID uint64, entry *CryptoKeyEntry) int {
	state := GetRequestState(reqID)
	if state == nil {
		return -1
	}
	state.NextKeyID++
	id := state.NextKeyID
	if state.CryptoKeys == nil {
		state.CryptoKeys = make(map[int]*CryptoKeyEntry)
	}
	state.CryptoKeys[id] = entry
	return id
}

// GetCryptoKey retrieves key material scoped to the request.
func GetCryptoKey(reqID uint64, keyID int) *CryptoKeyEntry {
	state := GetRequestState(reqID)
	if state == nil || state.CryptoKeys == nil {
		return nil
	}
	return state.CryptoKeys[keyID]
}

// AddLog appends a log entry to the request state identified by id.
func AddLog(id uint64, level, message string) {
	state := GetRequestState(id)
	if state == nil {
		return
	}
	if len(state.Logs) >= MaxLogEntries {
		return
	}
	if len(message) > MaxLogMessageSize {
		cut := MaxLogMessageSize
		for cut > 0 && !utf8.RuneStart(message[cut]) {
			cut--
		}
		message = message[:cut] + "...(truncated)"
	}
	state.Logs = append(state.Logs, LogEntry{
		Level:   level,
		Message: message,
		Time:    time.Now(),
	})
}

// RegisterFetchCancel stores a cancel function for an in-flight fetch and
// returns the unique fetchID string key. Safe to call from the goroutine
// driving the fetch itself, independent of the isolate's own execution.
func RegisterFetchCancel(reqID uint64, cancel context.CancelFunc) string {
	state := GetRequestState(reqID)
	if state == nil {
		return ""
	}
	state.extMu.Lock()
	defer state.extMu.Unlock()
	state.NextFetchID++
	id := strconv.FormatInt(state.NextFetchID, 10)
	if state.FetchCancels == nil {
		state.FetchCancels = make(map[string]context.CancelFunc)
	}
	state.FetchCancels[id] = cancel
	return id
}

// RemoveFetchCancel removes and returns the cancel function for a fetch.
// Safe to call concurrently with RegisterFetchCancel/ClearRequestState from
// a fetch's own completion goroutine.
func RemoveFetchCancel(reqID uint64, fetchID string) context.CancelFunc {
	state := GetRequestState(reqID)
	if state == nil {
		return nil
	}
	state.extMu.Lock()
	defer state.extMu.Unlock()
	if state.FetchCancels == nil {
		return nil
	}
	cancel := state.FetchCancels[fetchID]
	delete(state.FetchCancels, fetchID)
	return cancel
}

// CallFetchCancel calls the cancel function for the given fetch, if present.
func CallFetchCancel(reqID uint64, fetchID string) {
	if cancel := RemoveFetchCancel(reqID, fetchID); cancel != nil {
		cancel()
	}
}

// ParseReqID parses a request ID string to uint64.
func ParseReqID(s string) uint64 {
	if s == "" || s == "undefined" {
		return 0
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		var n uint64
		fmt.Sscanf(s, "%d", &n)
		return n
	}
	return id
}

// BoolToInt converts a bool to 1 (true) or 0 (false) for JS interop,
// since some JS engines cannot marshal Go bool return values directly.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// JsEscape escapes a string for safe embedding in JavaScript source code.
func JsEscape(s string) string {
	return strconv.Quote(s)
}
