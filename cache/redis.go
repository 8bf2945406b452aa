package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Keksclan/goSunSquirrel/breaker"
	"github.com/Keksclan/goSunSquirrel/retry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// State is the connection state of a [Client].
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Default client timeouts. Cache operations are kept well below any fetch
// timeout so a hung backend only delays the fetch path by a bounded amount.
const (
	DefaultDialTimeout = time.Second
	DefaultOpTimeout   = 250 * time.Millisecond
)

// ClientConfig configures a Redis [Client].
type ClientConfig struct {
	// Addr is the single host:port endpoint.
	Addr     string
	Username string
	Password string
	DB       int

	// TLS enables TLS when non-nil.
	TLS *tls.Config

	// DialTimeout bounds connection establishment. Zero selects
	// DefaultDialTimeout.
	DialTimeout time.Duration

	// OpTimeout bounds each read and write on the socket. Zero selects
	// DefaultOpTimeout.
	OpTimeout time.Duration

	// Reconnect, when non-nil, re-dials in the background with exponential
	// back-off after the connection is lost. When nil the client makes a
	// single connection attempt and stays disconnected after any failure.
	Reconnect *retry.Config

	// Breaker, when non-nil, short-circuits operations after consecutive
	// failures (including timeouts on a still-open connection).
	Breaker *breaker.Config

	// Logger receives connectivity transitions. Nil disables logging.
	Logger *zap.Logger

	// OnStateChange is called after every state transition.
	OnStateChange func(State)
}

// Client owns the single shared connection to the Redis backend and tracks
// its liveness. Operations issued while the client is not connected fail
// fast with [ErrNotReady]; they never dial or block.
//
// A Client is safe for concurrent use. The underlying go-redis pool
// multiplexes all in-flight operations; no caller-side locking is needed.
type Client struct {
	cfg    ClientConfig
	rdb    *redis.Client
	logger *zap.Logger
	cb     *breaker.Breaker

	state        atomic.Int32
	reconnecting atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Store = (*Client)(nil)

// NewClient creates a Client in the Disconnected state. No connection is
// attempted until [Client.Start] or [Client.Connect].
func NewClient(cfg ClientConfig) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		logger: logger.With(zap.String("addr", cfg.Addr)),
		ctx:    ctx,
		cancel: cancel,
	}
	c.rdb = redis.NewClient(&redis.Options{
		Addr:                  cfg.Addr,
		Username:              cfg.Username,
		Password:              cfg.Password,
		DB:                    cfg.DB,
		TLSConfig:             cfg.TLS,
		DialTimeout:           cfg.DialTimeout,
		ReadTimeout:           cfg.OpTimeout,
		WriteTimeout:          cfg.OpTimeout,
		ContextTimeoutEnabled: true,
		MaxRetries:            -1,
	})
	c.rdb.AddHook(dialWatch{c: c})

	if cfg.Breaker != nil {
		bc := *cfg.Breaker
		next := bc.OnStateChange
		bc.OnStateChange = func(from, to breaker.State) {
			c.logger.Info("cache breaker state changed",
				zap.Stringer("from", from), zap.Stringer("to", to))
			if next != nil {
				next(from, to)
			}
		}
		c.cb = breaker.New(bc)
	}
	return c
}

// Start issues a single connection attempt in the background and returns
// immediately. Failure leaves the client Disconnected (and, with a reconnect
// policy, starts the reconnect loop).
func (c *Client) Start() {
	if !c.track() {
		return
	}
	go func() {
		defer c.wg.Done()
		if err := c.Connect(c.ctx); err != nil {
			c.logger.Warn("cache backend unavailable, serving in pass-through mode", zap.Error(err))
		}
	}()
}

// Connect performs one synchronous connection attempt bounded by the dial
// timeout.
func (c *Client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	c.setState(Connecting, nil)

	ctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.setState(Disconnected, err)
		return err
	}
	c.setState(Connected, nil)
	return nil
}

// State reports the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsReady reports whether the client is connected.
func (c *Client) IsReady() bool {
	return c.State() == Connected
}

// Get issues GET key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := c.admit(); err != nil {
		return nil, false, err
	}
	val, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		c.succeed()
		return val, true, nil
	case errors.Is(err, redis.Nil):
		c.succeed()
		return nil, false, nil
	default:
		c.fail(err)
		return nil, false, err
	}
}

// Set issues SETEX key ttl val, or a plain SET when ttl ≤ 0.
func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := c.admit(); err != nil {
		return err
	}
	var err error
	if ttl > 0 {
		err = c.rdb.SetEx(ctx, key, val, ttl).Err()
	} else {
		err = c.rdb.Set(ctx, key, val, 0).Err()
	}
	if err != nil {
		c.fail(err)
		return err
	}
	c.succeed()
	return nil
}

// Close stops any reconnect loop, closes the connection pool and leaves the
// client Disconnected. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	err := c.rdb.Close()
	c.setState(Disconnected, nil)
	return err
}

func (c *Client) admit() error {
	if !c.IsReady() {
		if c.isClosed() {
			return ErrClosed
		}
		return ErrNotReady
	}
	if c.cb != nil && !c.cb.Allow() {
		return ErrBreakerOpen
	}
	return nil
}

func (c *Client) succeed() {
	if c.cb != nil {
		c.cb.OnSuccess()
	}
}

func (c *Client) fail(err error) {
	if c.cb != nil {
		c.cb.OnFailure()
	}
	if isConnErr(err) {
		c.setState(Disconnected, err)
	}
}

// setState records a transition, logs it and, on entering Disconnected,
// kicks off the reconnect policy.
func (c *Client) setState(s State, cause error) {
	old := State(c.state.Swap(int32(s)))
	if old == s {
		return
	}

	switch s {
	case Connected:
		c.logger.Info("cache backend connected")
	case Disconnected:
		if cause != nil {
			c.logger.Warn("cache backend disconnected", zap.Stringer("from", old), zap.Error(cause))
		} else {
			c.logger.Info("cache backend disconnected", zap.Stringer("from", old))
		}
	default:
		c.logger.Debug("cache backend state changed", zap.Stringer("from", old), zap.Stringer("to", s))
	}
	if c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(s)
	}
	if s == Disconnected {
		c.reconnect()
	}
}

// reconnect runs at most one background loop that retries Connect according
// to cfg.Reconnect.
func (c *Client) reconnect() {
	if c.cfg.Reconnect == nil || !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	if !c.track() {
		c.reconnecting.Store(false)
		return
	}

	go func() {
		defer c.wg.Done()

		if err := c.reconnectLoop(); err != nil {
			c.reconnecting.Store(false)
			if c.ctx.Err() == nil {
				c.logger.Warn("cache reconnect gave up, serving in pass-through mode", zap.Error(err))
			}
			return
		}
		c.reconnecting.Store(false)

		// A disconnect seen while this loop still held the flag could not
		// start a new one.
		if c.State() == Disconnected && !c.isClosed() {
			c.reconnect()
		}
	}()
}

func (c *Client) reconnectLoop() error {
	cfg := *c.cfg.Reconnect
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Debug("cache reconnect attempt failed",
			zap.Int("attempt", attempt), zap.Duration("next_in", delay), zap.Error(err))
	}
	if err := retry.Sleep(c.ctx, retry.Delay(cfg, 0)); err != nil {
		return err
	}
	_, err := retry.Do(c.ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.Connect(ctx)
	})
	return err
}

// track registers a background goroutine unless the client is closed.
func (c *Client) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// isConnErr reports whether err means the connection itself is gone, as
// opposed to a slow reply or a command-level error.
func isConnErr(err error) bool {
	if errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && !opErr.Timeout()
}

// dialWatch is a go-redis hook that marks the client disconnected whenever
// the pool fails to dial.
type dialWatch struct {
	c *Client
}

func (h dialWatch) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil && h.c.State() == Connected {
			h.c.setState(Disconnected, err)
		}
		return conn, err
	}
}

func (h dialWatch) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return next
}

func (h dialWatch) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}
