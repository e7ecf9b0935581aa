package eventloop

import (
	"fmt"
	"testing"
	"time"
)

// fakeRuntime records every Eval call and counts RunMicrotasks calls, so
// tests can assert on fired timers/resolved fetches without a real JS
// engine.
type fakeRuntime struct {
	evals      []string
	microtasks int
}

func (f *fakeRuntime) Eval(js string) error {
	f.evals = append(f.evals, js)
	return nil
}
func (f *fakeRuntime) EvalString(js string) (string, error) { return "", nil }
func (f *fakeRuntime) EvalBool(js string) (bool, error)      { return false, nil }
func (f *fakeRuntime) EvalInt(js string) (int, error)        { return 0, nil }
func (f *fakeRuntime) RegisterFunc(name string, fn any) error { return nil }
func (f *fakeRuntime) SetGlobal(name string, value any) error { return nil }
func (f *fakeRuntime) RunMicrotasks()                          { f.microtasks++ }

func TestNewEventLoopStartsEmpty(t *testing.T) {
	el := New()
	if el.HasPending() {
		t.Error("new event loop should have no pending timers or fetches")
	}
}

func TestRegisterTimerAssignsIncreasingIDs(t *testing.T) {
	el := New()
	id1 := el.RegisterTimer(100*time.Millisecond, false)
	id2 := el.RegisterTimer(200*time.Millisecond, false)
	if id1 == id2 {
		t.Errorf("expected distinct IDs, got %d and %d", id1, id2)
	}
	if !el.HasPending() {
		t.Error("expected pending timers after registration")
	}
}

func TestRegisterIntervalEnforcesMinimum(t *testing.T) {
	el := New()
	el.RegisterTimer(1*time.Millisecond, true)

	el.mu.Lock()
	var got time.Duration
	for _, e := range el.byID {
		got = e.interval
	}
	el.mu.Unlock()

	if got < 10*time.Millisecond {
		t.Errorf("interval = %v, should be floored to 10ms", got)
	}
}

func TestClearTimerRemovesIt(t *testing.T) {
	el := New()
	id := el.RegisterTimer(100*time.Millisecond, false)
	el.ClearTimer(id)
	if el.HasPending() {
		t.Error("expected no pending timers after clear")
	}
}

func TestClearTimerOnUnknownIDIsNoop(t *testing.T) {
	el := New()
	el.ClearTimer(999)
	if el.HasPending() {
		t.Error("clearing an unknown timer should not create pending state")
	}
}

func TestResetClearsTimersAndFetches(t *testing.T) {
	el := New()
	el.RegisterTimer(100*time.Millisecond, false)
	el.AddPendingFetch(&PendingFetch{ResultCh: make(chan FetchResult), FetchID: "1"})

	el.Reset()

	if el.HasPending() {
		t.Error("expected no pending state after Reset")
	}
}

func TestDrainFiresDueTimerAndRunsMicrotasks(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}

	el.RegisterTimer(5*time.Millisecond, false)
	el.Drain(rt, time.Now().Add(500*time.Millisecond))

	if rt.microtasks == 0 {
		t.Error("expected RunMicrotasks to be called after firing a timer")
	}
	if el.HasPending() {
		t.Error("a one-shot timer should not remain pending after it fires")
	}
}

func TestDrainRespectsDeadline(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}

	el.RegisterTimer(200*time.Millisecond, false)
	start := time.Now()
	el.Drain(rt, start.Add(20*time.Millisecond))
	elapsed := time.Since(start)

	if elapsed > 100*time.Millisecond {
		t.Errorf("Drain should return near its deadline, took %v", elapsed)
	}
	if !el.HasPending() {
		t.Error("timer due after the deadline should remain pending")
	}
}

func TestDrainPendingFetchesResolvesCompletedFetch(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}

	ch := make(chan FetchResult, 1)
	ch <- FetchResult{Status: 200, StatusText: "OK", HeadersJSON: "{}", BodyB64: ""}
	el.AddPendingFetch(&PendingFetch{ResultCh: ch, FetchID: "abc"})

	didWork := el.DrainPendingFetches(rt)
	if !didWork {
		t.Fatal("expected DrainPendingFetches to report work done")
	}
	if len(rt.evals) != 1 {
		t.Fatalf("expected one Eval call, got %d", len(rt.evals))
	}
	if want := fmt.Sprintf(`globalThis.__fetchResolve("abc", 200, "OK", "{}", "", false, "")`); rt.evals[0] != want {
		t.Errorf("eval = %q, want %q", rt.evals[0], want)
	}
}

func TestDrainPendingFetchesRejectsErroredFetch(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}

	ch := make(chan FetchResult, 1)
	ch <- FetchResult{Err: fmt.Errorf("connection refused")}
	el.AddPendingFetch(&PendingFetch{ResultCh: ch, FetchID: "xyz"})

	el.DrainPendingFetches(rt)

	if len(rt.evals) != 1 {
		t.Fatalf("expected one Eval call, got %d", len(rt.evals))
	}
	want := `globalThis.__fetchReject("xyz", "connection refused")`
	if rt.evals[0] != want {
		t.Errorf("eval = %q, want %q", rt.evals[0], want)
	}
}

func TestDrainPendingFetchesLeavesIncompleteFetchesPending(t *testing.T) {
	el := New()
	rt := &fakeRuntime{}

	el.AddPendingFetch(&PendingFetch{ResultCh: make(chan FetchResult), FetchID: "still-running"})

	didWork := el.DrainPendingFetches(rt)
	if didWork {
		t.Error("expected no work done for an unresolved fetch")
	}
	if !el.HasPending() {
		t.Error("unresolved fetch should remain pending")
	}
}
