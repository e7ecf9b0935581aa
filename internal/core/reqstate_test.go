package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestStateIsRetrievableAndClearable(t *testing.T) {
	id := NewRequestState(10)
	state := GetRequestState(id)
	require.NotNil(t, state, "expected a state for a freshly created request ID")
	assert.Equal(t, 10, state.MaxFetches)

	ClearRequestState(id)
	assert.Nil(t, GetRequestState(id), "expected state to be gone after ClearRequestState")
}

func TestGetRequestStateUnknownIDReturnsNil(t *testing.T) {
	assert.Nil(t, GetRequestState(999999999))
}

func TestClearRequestStateRunsCleanupsInReverseOrder(t *testing.T) {
	id := NewRequestState(1)
	state := GetRequestState(id)

	var order []int
	state.RegisterCleanup(func() { order = append(order, 1) })
	state.RegisterCleanup(func() { order = append(order, 2) })
	state.RegisterCleanup(func() { order = append(order, 3) })

	ClearRequestState(id)

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestClearRequestStateCancelsInFlightFetches(t *testing.T) {
	id := NewRequestState(1)
	state := GetRequestState(id)

	canceled := false
	_, cancel := context.WithCancel(context.Background())
	state.FetchCancels = map[string]context.CancelFunc{
		"1": func() { canceled = true; cancel() },
	}

	ClearRequestState(id)
	if !canceled {
		t.Error("expected in-flight fetch cancel to be invoked on clear")
	}
}

func TestSetExtGetExtRoundTrips(t *testing.T) {
	rs := &RequestState{}
	rs.SetExt("key", 42)
	if got := rs.GetExt("key"); got != 42 {
		t.Errorf("GetExt = %v, want 42", got)
	}
	if got := rs.GetExt("missing"); got != nil {
		t.Errorf("GetExt for missing key = %v, want nil", got)
	}
}

func TestAddLogTruncatesOversizedMessages(t *testing.T) {
	id := NewRequestState(1)
	defer ClearRequestState(id)

	msg := strings.Repeat("a", MaxLogMessageSize+100)
	AddLog(id, "info", msg)

	state := GetRequestState(id)
	if len(state.Logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(state.Logs))
	}
	if !strings.HasSuffix(state.Logs[0].Message, "...(truncated)") {
		t.Error("expected oversized log message to be truncated with a marker")
	}
	if len(state.Logs[0].Message) > MaxLogMessageSize+len("...(truncated)") {
		t.Error("truncated message still exceeds the size cap")
	}
}

func TestAddLogStopsAtMaxEntries(t *testing.T) {
	id := NewRequestState(1)
	defer ClearRequestState(id)

	for i := 0; i < MaxLogEntries+10; i++ {
		AddLog(id, "info", "line")
	}

	state := GetRequestState(id)
	if len(state.Logs) != MaxLogEntries {
		t.Errorf("Logs length = %d, want capped at %d", len(state.Logs), MaxLogEntries)
	}
}

func TestImportAndGetCryptoKeyRoundTrips(t *testing.T) {
	id := NewRequestState(1)
	defer ClearRequestState(id)

	entry := &CryptoKeyEntry{Data: []byte("secret"), AlgoName: "HMAC", KeyType: "secret"}
	keyID := ImportCryptoKeyFull(id, entry)
	if keyID <= 0 {
		t.Fatalf("expected a positive key ID, got %d", keyID)
	}

	got := GetCryptoKey(id, keyID)
	if got == nil || got.AlgoName != "HMAC" {
		t.Fatalf("GetCryptoKey returned %+v, want the stored entry", got)
	}
}

func TestImportCryptoKeyOnUnknownRequestReturnsSentinel(t *testing.T) {
	if id := ImportCryptoKeyFull(999999999, &CryptoKeyEntry{}); id != -1 {
		t.Errorf("ImportCryptoKeyFull on unknown request = %d, want -1", id)
	}
}

func TestRegisterAndRemoveFetchCancel(t *testing.T) {
	id := NewRequestState(1)
	defer ClearRequestState(id)

	called := false
	fetchID := RegisterFetchCancel(id, func() { called = true })
	if fetchID == "" {
		t.Fatal("expected a non-empty fetch ID")
	}

	CallFetchCancel(id, fetchID)
	if !called {
		t.Error("expected the cancel func to run")
	}

	// A second call is a no-op since RemoveFetchCancel already deleted it.
	CallFetchCancel(id, fetchID)
}

func TestParseReqID(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want uint64
	}{
		{"empty", "", 0},
		{"literal undefined", "undefined", 0},
		{"positive", "42", 42},
		{"zero", "0", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseReqID(tc.in))
		})
	}
}

func TestBoolToInt(t *testing.T) {
	assert.Equal(t, 1, BoolToInt(true))
	assert.Equal(t, 0, BoolToInt(false))
}

func TestJsEscapeQuotesAndEscapes(t *testing.T) {
	got := JsEscape(`say "hi"` + "\n")
	assert.True(t, strings.HasPrefix(got, `"`) && strings.HasSuffix(got, `"`), "JsEscape result not quoted: %q", got)
	assert.NotContains(t, got, "\n")
}
