package policy

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name   string
		groups []*GroupBuilder
		method string
		want   string // "" means no match
	}{
		{
			name:   "exact",
			groups: []*GroupBuilder{Group("heatmap").Exact("/scada.Telemetry/GetInverterHeatmap")},
			method: "/scada.Telemetry/GetInverterHeatmap",
			want:   "heatmap",
		},
		{
			name:   "prefix covers a service",
			groups: []*GroupBuilder{Group("telemetry").Prefix("/scada.Telemetry/")},
			method: "/scada.Telemetry/GetWeatherData",
			want:   "telemetry",
		},
		{
			name:   "regex is unanchored",
			groups: []*GroupBuilder{Group("trends").Regex(`Trend$`)},
			method: "/scada.Telemetry/GetMeterTrend",
			want:   "trends",
		},
		{
			name:   "no match",
			groups: []*GroupBuilder{Group("energy").Exact("/scada.Telemetry/GetEnergyData")},
			method: "/scada.Health/Check",
		},
		{
			name: "exact beats prefix",
			groups: []*GroupBuilder{
				Group("telemetry").Prefix("/scada.Telemetry/"),
				Group("energy").Exact("/scada.Telemetry/GetEnergyData"),
			},
			method: "/scada.Telemetry/GetEnergyData",
			want:   "energy",
		},
		{
			name: "prefix beats regex",
			groups: []*GroupBuilder{
				Group("any-get").Regex(`/Get[A-Za-z]+$`),
				Group("telemetry").Prefix("/scada.Telemetry/"),
			},
			method: "/scada.Telemetry/GetTransformerData",
			want:   "telemetry",
		},
		{
			name: "longer prefix wins",
			groups: []*GroupBuilder{
				Group("scada").Prefix("/scada."),
				Group("inverters").Prefix("/scada.Telemetry/GetInverter"),
			},
			method: "/scada.Telemetry/GetInverterData",
			want:   "inverters",
		},
		{
			name: "longer regex match wins",
			groups: []*GroupBuilder{
				Group("short").Regex(`Data`),
				Group("long").Regex(`Meter[A-Za-z]+`),
			},
			method: "/scada.Telemetry/GetMeterData",
			want:   "long",
		},
		{
			name: "first registered wins a tie",
			groups: []*GroupBuilder{
				Group("first").Exact("/scada.Telemetry/GetWeatherData"),
				Group("second").Exact("/scada.Telemetry/GetWeatherData"),
			},
			method: "/scada.Telemetry/GetWeatherData",
			want:   "first",
		},
		{
			name: "any rule of a group",
			groups: []*GroupBuilder{
				Group("weather").
					Exact("/scada.Telemetry/GetWeatherData").
					Prefix("/scada.Telemetry/GetSoiling").
					Regex(`WeatherTrend`),
			},
			method: "/scada.Telemetry/GetSoilingLoss",
			want:   "weather",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, g := range tt.groups {
				g.Policy(Policy{})
			}
			name, _, ok := NewResolver(tt.groups...).Resolve(tt.method)
			if ok != (tt.want != "") || name != tt.want {
				t.Fatalf("Resolve(%q) = (%q, %v), want %q", tt.method, name, ok, tt.want)
			}
		})
	}
}

func TestResolveReturnsGroupPolicy(t *testing.T) {
	r := NewResolver(
		Group("heatmap").
			Exact("/scada.Telemetry/GetInverterHeatmap").
			Policy(Policy{
				CacheTTL:  10 * time.Minute,
				RateLimit: &RateLimitRule{Rate: 100, Window: time.Minute},
			}),
	)

	_, pol, ok := r.Resolve("/scada.Telemetry/GetInverterHeatmap")
	if !ok || pol == nil {
		t.Fatal("expected a match with a policy")
	}
	if pol.CacheTTL != 10*time.Minute || pol.RateLimit == nil || pol.RateLimit.Rate != 100 {
		t.Fatalf("policy = %+v", pol)
	}
}

func TestResolveWithoutPolicy(t *testing.T) {
	r := NewResolver(Group("bare").Exact("/scada.Health/Check"))
	name, pol, ok := r.Resolve("/scada.Health/Check")
	if !ok || name != "bare" || pol != nil {
		t.Fatalf("Resolve = (%q, %v, %v)", name, pol, ok)
	}
	if got := r.Timeout("/scada.Health/Check", time.Second); got != time.Second {
		t.Fatalf("timeout = %v, want fallback", got)
	}
}

func TestResolve_NilResolver(t *testing.T) {
	var r *Resolver
	if _, _, ok := r.Resolve("/scada.Telemetry/GetWeatherData"); ok {
		t.Fatal("nil resolver must not match")
	}
	if got := r.CacheTTL("/scada.Telemetry/GetWeatherData", time.Minute); got != time.Minute {
		t.Fatalf("got %v, want fallback", got)
	}
}

func TestResolveConcurrent(t *testing.T) {
	r := NewResolver(
		Group("live").Prefix("/scada.Telemetry/Get").Policy(Policy{Timeout: 5 * time.Second}),
		Group("trends").Regex(`Trend$`).Policy(Policy{CacheTTL: 15 * time.Minute}),
	)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			method := "/scada.Telemetry/GetWeatherData"
			if i%2 == 0 {
				method = "/scada.Telemetry/GetMeterTrend"
			}
			if name, _, ok := r.Resolve(method); !ok || name != "live" {
				errs <- fmt.Errorf("Resolve(%q) = (%q, %v)", method, name, ok)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestCacheTTLAndTimeout(t *testing.T) {
	r := NewResolver(
		Group("trends").
			Regex(`Trend$`).
			Policy(Policy{CacheTTL: 15 * time.Minute}),
		Group("inverters").
			Prefix("/scada.Telemetry/GetInverter").
			Policy(Policy{Timeout: 30 * time.Second}),
	)

	if got := r.CacheTTL("/scada.Telemetry/GetMeterTrend", 5*time.Minute); got != 15*time.Minute {
		t.Fatalf("trend ttl = %v, want 15m", got)
	}
	// Matched group without a CacheTTL keeps the fallback.
	if got := r.CacheTTL("/scada.Telemetry/GetInverterData", time.Minute); got != time.Minute {
		t.Fatalf("inverter ttl = %v, want fallback", got)
	}
	if got := r.Timeout("/scada.Telemetry/GetInverterHeatmap", 15*time.Second); got != 30*time.Second {
		t.Fatalf("inverter timeout = %v, want 30s", got)
	}
	if got := r.Timeout("/scada.Telemetry/GetWeatherData", 15*time.Second); got != 15*time.Second {
		t.Fatalf("weather timeout = %v, want fallback", got)
	}
}

func TestValidateRegex(t *testing.T) {
	if err := ValidateRegex(`^/scada\.`); err != nil {
		t.Fatalf("valid pattern rejected: %v", err)
	}
	if err := ValidateRegex(`(`); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}
