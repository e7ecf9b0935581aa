package eventloop

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/brinkrun/edgefn/internal/core"
)

// FetchResult holds the pre-serialized outcome of an in-flight HTTP fetch.
// The fetch goroutine reads the response body, serializes headers, and
// encodes the body as base64 before sending — so the event loop only
// passes strings to JS.
type FetchResult struct {
	Status      int
	StatusText  string
	HeadersJSON string
	BodyB64     string
	Redirected  bool
	FinalURL    string
	Err         error
}

// PendingFetch represents an in-flight HTTP request whose result will be
// delivered to JS via the event loop when the response arrives.
type PendingFetch struct {
	ResultCh <-chan FetchResult
	FetchID  string
}

// timerEntry represents a pending setTimeout or setInterval callback. The
// actual callback is stored in globalThis.__timerCallbacks[id] on the JS
// side; Go only tracks scheduling metadata.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
	seq      int // registration order, breaks deadline ties
	index    int // heap index, maintained by container/heap
	cleared  bool
}

// timerHeap is a min-heap on deadline, used to find the next timer to fire
// in O(log n) instead of scanning every live timer on each tick. Ties on
// deadline fall back to registration order, so timers due at the same
// instant still fire in the order they were scheduled.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// EventLoop manages Go-backed timers for setTimeout/setInterval and pending
// fetch requests that need to be resolved on the JS thread. Provides real
// wall-clock delays backed by Go timers.
type EventLoop struct {
	mu             sync.Mutex
	timers         timerHeap
	byID           map[int]*timerEntry
	nextID         int
	pendingFetches []*PendingFetch
}

// New creates a new EventLoop.
func New() *EventLoop {
	return &EventLoop{
		byID: make(map[int]*timerEntry),
	}
}

// RegisterTimer creates a timer entry and returns its ID. The actual JS
// callback is stored in globalThis.__timerCallbacks[id].
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextID++
	id := el.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
		seq:      id,
	}
	if isInterval {
		if delay < 10*time.Millisecond {
			delay = 10 * time.Millisecond // minimum interval
		}
		entry.interval = delay
	}
	el.byID[id] = entry
	heap.Push(&el.timers, entry)
	return id
}

// ClearTimer cancels a timer by ID.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.byID[id]; ok {
		t.cleared = true
		delete(el.byID, id)
		if t.index >= 0 {
			heap.Remove(&el.timers, t.index)
		}
	}
}

// AddPendingFetch registers a pending fetch whose result will be delivered
// to JS when the HTTP response arrives.
func (el *EventLoop) AddPendingFetch(pf *PendingFetch) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.pendingFetches = append(el.pendingFetches, pf)
}

// DrainPendingFetches does non-blocking reads on all pending fetch channels.
// For each completed fetch, it resolves/rejects via JS globals and removes
// it from the list. Returns true if any fetch was completed.
func (el *EventLoop) DrainPendingFetches(rt core.JSRuntime) bool {
	el.mu.Lock()
	if len(el.pendingFetches) == 0 {
		el.mu.Unlock()
		return false
	}
	pending := el.pendingFetches
	el.pendingFetches = nil
	el.mu.Unlock()

	var remaining []*PendingFetch
	didWork := false
	for _, pf := range pending {
		select {
		case result := <-pf.ResultCh:
			if result.Err != nil {
				js := fmt.Sprintf(`globalThis.__fetchReject(%q, %q)`,
					pf.FetchID, result.Err.Error())
				_ = rt.Eval(js)
			} else {
				js := fmt.Sprintf(`globalThis.__fetchResolve(%q, %d, %q, %q, %q, %v, %q)`,
					pf.FetchID, result.Status, result.StatusText,
					result.HeadersJSON, result.BodyB64,
					result.Redirected, result.FinalURL)
				_ = rt.Eval(js)
			}
			rt.RunMicrotasks()
			didWork = true
		default:
			remaining = append(remaining, pf)
		}
	}

	el.mu.Lock()
	el.pendingFetches = append(remaining, el.pendingFetches...)
	el.mu.Unlock()
	return didWork
}

// fireTimer fires a timer callback by invoking the JS-side callback map.
func (el *EventLoop) fireTimer(rt core.JSRuntime, id int) {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		entry.fn.apply(null, entry.args || []);
	})()`, id, id)
	_ = rt.Eval(js)
}

// nextTimer returns the earliest uncancelled timer without popping it.
func (el *EventLoop) nextTimer() *timerEntry {
	el.mu.Lock()
	defer el.mu.Unlock()
	for el.timers.Len() > 0 {
		t := el.timers[0]
		if t.cleared {
			heap.Pop(&el.timers)
			continue
		}
		return t
	}
	return nil
}

// Drain fires pending timers in deadline order and resolves pending
// fetches, following the canonical tick ordering: microtasks have already
// run by the time Drain is called; each iteration here resolves any
// completed host tasks (fetches) before firing the next due timer, then
// runs microtasks again. Returns once no timers or fetches remain, or the
// deadline passes.
func (el *EventLoop) Drain(rt core.JSRuntime, deadline time.Time) {
	for {
		if el.DrainPendingFetches(rt) {
			continue
		}

		el.mu.Lock()
		hasFetches := len(el.pendingFetches) > 0
		el.mu.Unlock()

		next := el.nextTimer()
		if next == nil && !hasFetches {
			return
		}
		if next == nil {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(1 * time.Millisecond)
			continue
		}

		now := time.Now()
		if next.deadline.After(now) {
			wait := next.deadline.Sub(now)
			if now.Add(wait).After(deadline) {
				for hasFetches && time.Now().Before(deadline) {
					if el.DrainPendingFetches(rt) {
						break
					}
					time.Sleep(1 * time.Millisecond)
				}
				return
			}
			if hasFetches {
				timerDeadline := now.Add(wait)
				for time.Now().Before(timerDeadline) {
					el.DrainPendingFetches(rt)
					remaining := time.Until(timerDeadline)
					if remaining <= 0 {
						break
					}
					if remaining > 1*time.Millisecond {
						remaining = 1 * time.Millisecond
					}
					time.Sleep(remaining)
				}
			} else {
				time.Sleep(wait)
			}
		}

		if time.Now().After(deadline) {
			return
		}

		el.mu.Lock()
		if next.cleared {
			el.mu.Unlock()
			continue
		}
		timerID := next.id
		if next.interval > 0 {
			next.deadline = time.Now().Add(next.interval)
			heap.Fix(&el.timers, next.index)
		} else {
			heap.Remove(&el.timers, next.index)
			delete(el.byID, next.id)
		}
		el.mu.Unlock()

		el.fireTimer(rt, timerID)
		rt.RunMicrotasks()
	}
}

// HasPending returns true if there are any active timers or pending fetches.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return el.timers.Len() > 0 || len(el.pendingFetches) > 0
}

// Reset clears all timers and pending fetches and restarts timer IDs. The
// engine host does not call it; a discarded isolate's loop is dropped with it.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = nil
	el.byID = make(map[int]*timerEntry)
	el.nextID = 0
	el.pendingFetches = nil
}
