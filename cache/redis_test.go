package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Keksclan/goSunSquirrel/breaker"
	"github.com/Keksclan/goSunSquirrel/retry"
	"github.com/alicebob/miniredis/v2"
)

func newTestClient(t *testing.T, cfg ClientConfig) *Client {
	t.Helper()
	c := NewClient(cfg)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func connectedClient(t *testing.T, mr *miniredis.Miniredis, cfg ClientConfig) *Client {
	t.Helper()
	cfg.Addr = mr.Addr()
	c := newTestClient(t, cfg)
	if err := c.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return c
}

func waitState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %v, want %v", c.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

func TestClient_ConnectAndRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	log := &stateLog{}
	c := connectedClient(t, mr, ClientConfig{OnStateChange: log.record})
	ctx := t.Context()

	if !c.IsReady() {
		t.Fatal("expected ready after Connect")
	}
	if got := log.snapshot(); len(got) != 2 || got[0] != Connecting || got[1] != Connected {
		t.Fatalf("transitions = %v, want [connecting connected]", got)
	}

	if _, ok, err := c.Get(ctx, "wms:data"); err != nil || ok {
		t.Fatalf("Get on empty = (%v, %v), want miss", ok, err)
	}
	if err := c.Set(ctx, "wms:data", []byte(`{"ghi":812}`), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := c.Get(ctx, "wms:data")
	if err != nil || !ok || string(v) != `{"ghi":812}` {
		t.Fatalf("Get = (%q, %v, %v)", v, ok, err)
	}
	if ttl := mr.TTL("wms:data"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("ttl = %v, want (0, 1m]", ttl)
	}

	if err := c.Set(ctx, "forever", []byte("x"), 0); err != nil {
		t.Fatalf("Set without ttl: %v", err)
	}
	if ttl := mr.TTL("forever"); ttl != 0 {
		t.Fatalf("ttl = %v, want none", ttl)
	}
}

func TestClient_NotReadyWithoutConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestClient(t, ClientConfig{Addr: mr.Addr()})

	if c.State() != Disconnected {
		t.Fatalf("initial state = %v", c.State())
	}
	if _, _, err := c.Get(t.Context(), "k"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Get err = %v, want ErrNotReady", err)
	}
	if err := c.Set(t.Context(), "k", []byte("v"), time.Minute); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Set err = %v, want ErrNotReady", err)
	}
	if mr.CommandCount() != 0 {
		t.Fatalf("backend saw %d commands while not ready", mr.CommandCount())
	}
}

func TestClient_UnreachableBackend(t *testing.T) {
	c := newTestClient(t, ClientConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})

	start := time.Now()
	if err := c.Connect(t.Context()); err == nil {
		t.Fatal("expected Connect to fail")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Connect took %v, want bounded by dial timeout", time.Since(start))
	}
	if c.State() != Disconnected {
		t.Fatalf("state = %v, want disconnected", c.State())
	}
	if _, _, err := c.Get(t.Context(), "k"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Get err = %v, want ErrNotReady", err)
	}
}

func TestClient_StartConnectsInBackground(t *testing.T) {
	mr := miniredis.RunT(t)
	c := newTestClient(t, ClientConfig{Addr: mr.Addr()})
	c.Start()
	waitState(t, c, Connected)
}

func TestClient_BackendLossDisconnects(t *testing.T) {
	mr := miniredis.RunT(t)
	c := connectedClient(t, mr, ClientConfig{})

	mr.Close()
	if _, _, err := c.Get(t.Context(), "k"); err == nil {
		t.Fatal("expected Get to fail after backend loss")
	}
	if c.State() != Disconnected {
		t.Fatalf("state = %v, want disconnected", c.State())
	}
	if _, _, err := c.Get(t.Context(), "k"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("second Get err = %v, want ErrNotReady", err)
	}

	// No reconnect policy: the client stays down after the backend returns.
	if err := mr.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if c.State() != Disconnected {
		t.Fatalf("state = %v, want disconnected without a reconnect policy", c.State())
	}
}

func TestClient_ReconnectPolicy(t *testing.T) {
	mr := miniredis.RunT(t)
	c := connectedClient(t, mr, ClientConfig{
		Reconnect: &retry.Config{MaxAttempts: 100, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
	})

	mr.Close()
	_, _, _ = c.Get(t.Context(), "k")
	if c.IsReady() {
		t.Fatal("expected client to notice backend loss")
	}

	if err := mr.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	waitState(t, c, Connected)

	if err := c.Set(t.Context(), "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set after reconnect: %v", err)
	}
}

func TestClient_ReconnectSurvivesLossDuringRecovery(t *testing.T) {
	mr := miniredis.RunT(t)
	var (
		c        *Client
		connects int
		dropped  = make(chan struct{})
	)
	cfg := ClientConfig{
		Addr:      mr.Addr(),
		Reconnect: &retry.Config{MaxAttempts: 100, BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
		// Runs inside Connect, so the second connect is still owned by the
		// reconnect loop when the backend goes away again.
		OnStateChange: func(s State) {
			if s != Connected {
				return
			}
			connects++
			if connects == 2 {
				mr.Close()
				_, _, _ = c.Get(context.Background(), "k")
				close(dropped)
			}
		},
	}
	c = newTestClient(t, cfg)
	if err := c.Connect(t.Context()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	mr.Close()
	_, _, _ = c.Get(t.Context(), "k")
	if err := mr.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	select {
	case <-dropped:
	case <-time.After(3 * time.Second):
		t.Fatal("client never reconnected")
	}
	if err := mr.Restart(); err != nil {
		t.Fatalf("second Restart: %v", err)
	}
	waitState(t, c, Connected)
}

func TestClient_BreakerShortCircuits(t *testing.T) {
	mr := miniredis.RunT(t)
	c := connectedClient(t, mr, ClientConfig{
		Breaker: &breaker.Config{FailureThreshold: 2, OpenTimeout: 50 * time.Millisecond, HalfOpenMaxSuccess: 1},
	})
	ctx := t.Context()

	mr.SetError("ERR injected failure")
	for i := 0; i < 2; i++ {
		if _, _, err := c.Get(ctx, "k"); err == nil || errors.Is(err, ErrBreakerOpen) {
			t.Fatalf("Get %d err = %v, want backend error", i, err)
		}
	}
	if !c.IsReady() {
		t.Fatal("command errors must not disconnect the client")
	}

	before := mr.CommandCount()
	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("Get err = %v, want ErrBreakerOpen", err)
	}
	if mr.CommandCount() != before {
		t.Fatal("open breaker must not reach the backend")
	}

	mr.SetError("")
	time.Sleep(60 * time.Millisecond)
	if _, _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("probe after open timeout: %v", err)
	}
	if _, _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("Get after recovery: %v", err)
	}
}

func TestClient_Close(t *testing.T) {
	mr := miniredis.RunT(t)
	c := connectedClient(t, mr, ClientConfig{})

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.State() != Disconnected {
		t.Fatalf("state = %v after Close", c.State())
	}
	if _, _, err := c.Get(t.Context(), "k"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get err = %v, want ErrClosed", err)
	}
	if err := c.Connect(t.Context()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Connect err = %v, want ErrClosed", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestGetOrSet_ExpiryRefetches(t *testing.T) {
	mr := miniredis.RunT(t)
	c := connectedClient(t, mr, ClientConfig{})
	a := NewAccessor(c)
	ctx := t.Context()

	var calls int
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	if v, _ := GetOrSet(ctx, a, "inverter:heatmap", 300*time.Second, fetch); v != 1 {
		t.Fatalf("first = %d", v)
	}
	if v, _ := GetOrSet(ctx, a, "inverter:heatmap", 300*time.Second, fetch); v != 1 {
		t.Fatalf("cached = %d", v)
	}
	if ttl := mr.TTL("inverter:heatmap"); ttl <= 0 || ttl > 300*time.Second {
		t.Fatalf("ttl = %v", ttl)
	}

	mr.FastForward(301 * time.Second)
	if v, _ := GetOrSet(ctx, a, "inverter:heatmap", 300*time.Second, fetch); v != 2 {
		t.Fatalf("after expiry = %d, want refetch", v)
	}
	if got, _ := mr.Get("inverter:heatmap"); got != "2" {
		t.Fatalf("entry = %q, want overwritten", got)
	}
}

func TestGetOrSet_OverDisconnectedClient(t *testing.T) {
	c := newTestClient(t, ClientConfig{Addr: "127.0.0.1:1"})
	a := NewAccessor(c)

	boom := errors.New("db down")
	if _, err := GetOrSet(t.Context(), a, "k", time.Minute, func(context.Context) (int, error) { return 0, boom }); err != boom {
		t.Fatalf("err = %v, want fetch error", err)
	}
	v, err := GetOrSet(t.Context(), a, "k", time.Minute, func(context.Context) (int, error) { return 5, nil })
	if err != nil || v != 5 {
		t.Fatalf("GetOrSet = (%v, %v)", v, err)
	}
}
