package breaker

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type clock struct{ now time.Time }

func (c *clock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *clock) {
	b := New(cfg)
	c := &clock{now: time.Unix(1_700_000_000, 0)}
	b.nowFunc = func() time.Time { return c.now }
	return b, c
}

// step is one scripted interaction: an outcome to record, time to pass, or
// an Allow call, followed by the expected state.
type step struct {
	fail, succeed bool
	wait          time.Duration
	allow         *bool
	want          State
}

func allowed(v bool) *bool { return &v }

func TestScenarios(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		steps []step
	}{
		{
			name: "trips after consecutive failures",
			cfg:  Config{FailureThreshold: 3, OpenTimeout: 5 * time.Second, HalfOpenMaxSuccess: 1},
			steps: []step{
				{fail: true, want: Closed},
				{fail: true, want: Closed},
				{fail: true, want: Open},
				{allow: allowed(false), want: Open},
			},
		},
		{
			name: "success resets the failure count",
			cfg:  Config{FailureThreshold: 3, OpenTimeout: 5 * time.Second, HalfOpenMaxSuccess: 1},
			steps: []step{
				{fail: true, want: Closed},
				{fail: true, want: Closed},
				{succeed: true, want: Closed},
				{fail: true, want: Closed},
				{fail: true, want: Closed},
			},
		},
		{
			name: "half-open closes after enough successes",
			cfg:  Config{FailureThreshold: 1, OpenTimeout: 5 * time.Second, HalfOpenMaxSuccess: 2},
			steps: []step{
				{fail: true, want: Open},
				{wait: 4 * time.Second, want: Open},
				{wait: 2 * time.Second, want: HalfOpen},
				{allow: allowed(true), want: HalfOpen},
				{succeed: true, want: HalfOpen},
				{allow: allowed(true), want: HalfOpen},
				{succeed: true, want: Closed},
			},
		},
		{
			name: "half-open failure reopens",
			cfg:  Config{FailureThreshold: 1, OpenTimeout: 5 * time.Second, HalfOpenMaxSuccess: 3},
			steps: []step{
				{fail: true, want: Open},
				{wait: 6 * time.Second, want: HalfOpen},
				{allow: allowed(true), want: HalfOpen},
				{fail: true, want: Open},
				{allow: allowed(false), want: Open},
				{wait: 6 * time.Second, want: HalfOpen},
			},
		},
		{
			name: "half-open admits one outstanding probe",
			cfg:  Config{FailureThreshold: 1, OpenTimeout: time.Second, HalfOpenMaxSuccess: 1},
			steps: []step{
				{fail: true, want: Open},
				{wait: 2 * time.Second, want: HalfOpen},
				{allow: allowed(true), want: HalfOpen},
				{allow: allowed(false), want: HalfOpen},
				{succeed: true, want: Closed},
				{allow: allowed(true), want: Closed},
			},
		},
		{
			name: "zero config trips on the first failure",
			cfg:  Config{OpenTimeout: time.Minute},
			steps: []step{
				{fail: true, want: Open},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, c := newTestBreaker(tt.cfg)
			for i, s := range tt.steps {
				switch {
				case s.fail:
					b.OnFailure()
				case s.succeed:
					b.OnSuccess()
				case s.wait > 0:
					c.advance(s.wait)
				case s.allow != nil:
					if got := b.Allow(); got != *s.allow {
						t.Fatalf("step %d: Allow() = %v, want %v", i, got, *s.allow)
					}
				}
				if got := b.State(); got != s.want {
					t.Fatalf("step %d: state = %s, want %s", i, got, s.want)
				}
			}
		})
	}
}

func TestOnStateChangeReportsTransitions(t *testing.T) {
	var got []string
	b, c := newTestBreaker(Config{
		FailureThreshold:   2,
		OpenTimeout:        5 * time.Second,
		HalfOpenMaxSuccess: 1,
		OnStateChange: func(from, to State) {
			got = append(got, from.String()+"->"+to.String())
		},
	})

	b.OnFailure()
	b.OnFailure()
	c.advance(6 * time.Second)
	_ = b.Allow()
	b.OnFailure()
	c.advance(6 * time.Second)
	_ = b.Allow()
	b.OnSuccess()

	want := []string{"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed"}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d = %q, want %q", i, got[i], want[i])
		}
	}
}

// Many callers racing through a half-open breaker must never exceed the
// probe budget.
func TestHalfOpenProbeBudgetUnderContention(t *testing.T) {
	b, c := newTestBreaker(Config{FailureThreshold: 1, OpenTimeout: time.Second, HalfOpenMaxSuccess: 3})
	b.OnFailure()
	c.advance(2 * time.Second)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Allow() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := admitted.Load(); n != 3 {
		t.Fatalf("admitted %d probes, want 3", n)
	}
}
