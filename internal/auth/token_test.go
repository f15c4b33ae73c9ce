package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remedialab/lectura/internal/auth"
)

func newStubSTS(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "sub-key" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		n := calls.Add(1)
		w.Write([]byte("jwt-" + string(rune('0'+n))))
	}))
}

func TestTokenCachedUntilRefreshMargin(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := newStubSTS(t, &calls)
	defer srv.Close()

	clock := time.Unix(0, 0)
	ts, err := auth.NewTokenSource("eastus", "sub-key",
		auth.WithEndpoint(srv.URL),
		auth.WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewTokenSource() error = %v", err)
	}

	first, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	// Well within the token lifetime: no refresh.
	clock = clock.Add(5 * time.Minute)
	again, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if again != first || calls.Load() != 1 {
		t.Errorf("token refetched too early: calls = %d", calls.Load())
	}

	// Within 30 s of the 10 min expiry: refresh.
	clock = clock.Add(4*time.Minute + 45*time.Second)
	refreshed, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if refreshed == first || calls.Load() != 2 {
		t.Errorf("token not refreshed near expiry: calls = %d", calls.Load())
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := newStubSTS(t, &calls)
	defer srv.Close()

	ts, err := auth.NewTokenSource("eastus", "sub-key", auth.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewTokenSource() error = %v", err)
	}

	if _, err := ts.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	ts.Invalidate()
	if _, err := ts.Token(context.Background()); err != nil {
		t.Fatalf("Token() after Invalidate error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestTokenSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	ts, err := auth.NewTokenSource("eastus", "wrong-key", auth.WithEndpoint(srv.URL))
	if err != nil {
		t.Fatalf("NewTokenSource() error = %v", err)
	}
	if _, err := ts.Token(context.Background()); err == nil {
		t.Error("Token() should surface a non-200 response")
	}
}

func TestNewTokenSourceValidatesArguments(t *testing.T) {
	t.Parallel()

	if _, err := auth.NewTokenSource("", "key"); err == nil {
		t.Error("empty region should be rejected")
	}
	if _, err := auth.NewTokenSource("eastus", ""); err == nil {
		t.Error("empty apiKey should be rejected")
	}
}
