package main

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"time"

	gs "github.com/Keksclan/goSunSquirrel"
	"github.com/Keksclan/goSunSquirrel/breaker"
	"github.com/Keksclan/goSunSquirrel/cache"
	"github.com/Keksclan/goSunSquirrel/policy"
	"github.com/Keksclan/goSunSquirrel/retry"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration accepts human durations such as "250ms", "5m" or "1d".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := str2duration.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the daemon configuration file.
type Config struct {
	Listen        string   `yaml:"listen"`
	MetricsListen string   `yaml:"metrics_listen"`
	LogLevel      string   `yaml:"log_level"`
	Fixtures      string   `yaml:"fixtures"`
	FetchTimeout  Duration `yaml:"fetch_timeout"`
	ShutdownGrace Duration `yaml:"shutdown_grace"`

	Cache     CacheConfig      `yaml:"cache"`
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
	Policies  []PolicyConfig   `yaml:"policies"`
}

type CacheConfig struct {
	L1MaxEntries int64        `yaml:"l1_max_entries"`
	PromoteTTL   Duration     `yaml:"promote_ttl"`
	Codec        string       `yaml:"codec"`
	Coalesce     bool         `yaml:"coalesce"`
	DefaultTTL   Duration     `yaml:"default_ttl"`
	Redis        *RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Addr        string         `yaml:"addr"`
	Username    string         `yaml:"username"`
	Password    string         `yaml:"password"`
	DB          int            `yaml:"db"`
	TLS         bool           `yaml:"tls"`
	DialTimeout Duration       `yaml:"dial_timeout"`
	OpTimeout   Duration       `yaml:"op_timeout"`
	Reconnect   *BackoffConfig `yaml:"reconnect"`
	Breaker     *BreakerConfig `yaml:"breaker"`
}

type BackoffConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
	Jitter      float64  `yaml:"jitter"`
}

type BreakerConfig struct {
	FailureThreshold   int      `yaml:"failure_threshold"`
	OpenTimeout        Duration `yaml:"open_timeout"`
	HalfOpenMaxSuccess int      `yaml:"half_open_max_success"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// PolicyConfig is one method group. Methods are full gRPC paths such as
// "/scada.Telemetry/GetWeatherTrend".
type PolicyConfig struct {
	Name      string   `yaml:"name"`
	Exact     []string `yaml:"exact"`
	Prefix    []string `yaml:"prefix"`
	Regex     []string `yaml:"regex"`
	CacheTTL  Duration `yaml:"cache_ttl"`
	Timeout   Duration `yaml:"timeout"`
	RateLimit *struct {
		Rate   int      `yaml:"rate"`
		Window Duration `yaml:"window"`
	} `yaml:"rate_limit"`
}

func defaultConfig() Config {
	return Config{
		Listen:        ":50051",
		LogLevel:      "info",
		ShutdownGrace: Duration(10 * time.Second),
	}
}

// LoadConfig reads and validates a configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over the defaults and validates the result.
func ParseConfig(data []byte) (Config, error) {
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem in cfg at once.
func (c Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen: required"))
	}
	if _, err := cache.CodecByName(c.Cache.Codec); err != nil {
		errs = append(errs, fmt.Errorf("cache.codec: %w", err))
	}
	if c.Cache.L1MaxEntries < 0 {
		errs = append(errs, errors.New("cache.l1_max_entries: must not be negative"))
	}
	if r := c.Cache.Redis; r != nil && r.Addr == "" {
		errs = append(errs, errors.New("cache.redis.addr: required when redis is configured"))
	}
	if rl := c.RateLimit; rl != nil && (rl.RPS <= 0 || rl.Burst <= 0) {
		errs = append(errs, errors.New("rate_limit: rps and burst must be positive"))
	}

	seen := make(map[string]bool, len(c.Policies))
	for i, p := range c.Policies {
		where := fmt.Sprintf("policies[%d]", i)
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("%s.name: required", where))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("%s.name: duplicate %q", where, p.Name))
		}
		seen[p.Name] = true
		if len(p.Exact)+len(p.Prefix)+len(p.Regex) == 0 {
			errs = append(errs, fmt.Errorf("%s: no method matchers", where))
		}
		for _, re := range p.Regex {
			if err := policy.ValidateRegex(re); err != nil {
				errs = append(errs, fmt.Errorf("%s.regex: %w", where, err))
			}
		}
		if rl := p.RateLimit; rl != nil && (rl.Rate <= 0 || rl.Window <= 0) {
			errs = append(errs, fmt.Errorf("%s.rate_limit: rate and window must be positive", where))
		}
	}
	return errors.Join(errs...)
}

// policyGroups converts the configured policies.
func (c Config) policyGroups() []*policy.GroupBuilder {
	groups := make([]*policy.GroupBuilder, 0, len(c.Policies))
	for _, p := range c.Policies {
		g := policy.Group(p.Name)
		for _, m := range p.Exact {
			g.Exact(m)
		}
		for _, m := range p.Prefix {
			g.Prefix(m)
		}
		for _, m := range p.Regex {
			g.Regex(m)
		}
		pol := policy.Policy{CacheTTL: p.CacheTTL.Std(), Timeout: p.Timeout.Std()}
		if p.RateLimit != nil {
			pol.RateLimit = &policy.RateLimitRule{Rate: p.RateLimit.Rate, Window: p.RateLimit.Window.Std()}
		}
		groups = append(groups, g.Policy(pol))
	}
	return groups
}

func (r *RedisConfig) clientConfig() cache.ClientConfig {
	cc := cache.ClientConfig{
		Addr:        r.Addr,
		Username:    r.Username,
		Password:    r.Password,
		DB:          r.DB,
		DialTimeout: r.DialTimeout.Std(),
		OpTimeout:   r.OpTimeout.Std(),
	}
	if r.TLS {
		cc.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if b := r.Reconnect; b != nil {
		cc.Reconnect = &retry.Config{
			MaxAttempts: b.MaxAttempts,
			BaseDelay:   b.BaseDelay.Std(),
			MaxDelay:    b.MaxDelay.Std(),
			Jitter:      b.Jitter,
		}
	}
	if b := r.Breaker; b != nil {
		cc.Breaker = &breaker.Config{
			FailureThreshold:   b.FailureThreshold,
			OpenTimeout:        b.OpenTimeout.Std(),
			HalfOpenMaxSuccess: b.HalfOpenMaxSuccess,
		}
	}
	return cc
}

// serverOptions translates the cache, policy and rate-limit sections. The
// caller adds the logger, source and tracing.
func (c Config) serverOptions() []gs.Option {
	codec, _ := cache.CodecByName(c.Cache.Codec)
	opts := []gs.Option{
		gs.WithCodec(codec),
		gs.WithCoalescing(c.Cache.Coalesce),
		gs.WithDefaultTTL(c.Cache.DefaultTTL.Std()),
		gs.WithFetchTimeout(c.FetchTimeout.Std()),
	}
	if c.Cache.L1MaxEntries > 0 {
		opts = append(opts, gs.WithCacheL1(c.Cache.L1MaxEntries), gs.WithPromoteTTL(c.Cache.PromoteTTL.Std()))
	}
	if c.Cache.Redis != nil {
		opts = append(opts, gs.WithRedis(c.Cache.Redis.clientConfig()))
	}
	if c.RateLimit != nil {
		opts = append(opts, gs.WithRateLimitGlobal(c.RateLimit.RPS, c.RateLimit.Burst))
	}
	if len(c.Policies) > 0 {
		opts = append(opts, gs.WithPolicies(c.policyGroups()...))
	}
	return opts
}
