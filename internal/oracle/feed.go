package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"droc_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	feedPingInterval = 30 * time.Second
	feedReadTimeout  = 60 * time.Second
	feedMaxRetries   = 10
)

// subscribeMessage is sent once per connection:
// {"type":"subscribe","refs":["SOL-USDC"]}
type subscribeMessage struct {
	Type string   `json:"type"`
	Refs []string `json:"refs"`
}

// Feed keeps a websocket subscription to a price stream and writes every
// update into a Cache. It reconnects with exponential backoff; a circuit
// breaker stops hammering a source that keeps failing.
type Feed struct {
	url       string
	refs      []string
	precision int
	backoff   infra.Backoff

	cache   *Cache
	breaker *infra.CircuitBreaker
	metrics *infra.Metrics
	logger  *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	writeMu   sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// FeedConfig configures a Feed.
type FeedConfig struct {
	URL       string
	Refs      []string
	Precision int
	Backoff   infra.Backoff // zero value uses infra.DefaultBackoff
}

func NewFeed(cfg FeedConfig, cache *Cache, metrics *infra.Metrics, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff = infra.DefaultBackoff
	}
	logger = logger.With(slog.String("component", "oracle_feed"))

	bcfg := infra.DefaultCircuitBreakerConfig("oracle_feed")
	bcfg.Logger = logger
	bcfg.Metrics = metrics

	return &Feed{
		url:       cfg.URL,
		refs:      cfg.Refs,
		precision: cfg.Precision,
		backoff:   cfg.Backoff,
		cache:     cache,
		breaker:   infra.NewCircuitBreaker(bcfg),
		metrics:   metrics,
		logger:    logger,
	}
}

// Connect starts the connection loop in the background.
func (f *Feed) Connect(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go f.connectionLoop(ctx)
}

func (f *Feed) connectionLoop(ctx context.Context) {
	defer f.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Oracle feed panic recovered", slog.Any("panic", r))
		}
	}()

	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Oracle feed loop stopped")
			return
		default:
		}

		var err error
		if !f.breaker.Allow() {
			err = fmt.Errorf("circuit open")
		} else if err = f.connect(ctx); err != nil {
			f.breaker.RecordFailure()
			f.metrics.RecordOracleFailure()
		}

		if err != nil {
			delay := f.backoff.Delay(retryCount)
			f.logger.Warn("Oracle feed connection failed",
				slog.Any("error", err),
				slog.Int("retry", retryCount),
				slog.Duration("delay", delay))
			retryCount++
			if retryCount > feedMaxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retryCount = 0
		f.breaker.RecordSuccess()
		f.readLoop(ctx)
	}
}

func (f *Feed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()

	msg, err := json.Marshal(subscribeMessage{Type: "subscribe", Refs: f.refs})
	if err != nil {
		f.closeConnection()
		return err
	}
	if err := f.write(websocket.TextMessage, msg); err != nil {
		f.closeConnection()
		return fmt.Errorf("subscribe failed: %w", err)
	}

	f.logger.Info("Oracle feed connected", slog.String("url", f.url), slog.Int("refs", len(f.refs)))
	return nil
}

func (f *Feed) write(messageType int, data []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return conn.WriteMessage(messageType, data)
}

func (f *Feed) readLoop(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)

	// close the socket on shutdown so ReadMessage unblocks
	go func() {
		ticker := time.NewTicker(feedPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				f.closeConnection()
				return
			case <-ticker.C:
				if err := f.write(websocket.PingMessage, nil); err != nil {
					f.logger.Debug("Oracle feed ping failed", slog.Any("error", err))
				}
			}
		}
	}()

	for {
		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(feedReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.logger.Warn("Oracle feed read error", slog.Any("error", err))
			}
			f.closeConnection()
			return
		}
		f.handleMessage(message)
	}
}

func (f *Feed) handleMessage(message []byte) {
	ref, price, err := decodePrice(message, f.precision)
	if err != nil {
		f.logger.Debug("Oracle feed message ignored", slog.Any("error", err))
		return
	}
	if ref == "" {
		return
	}
	f.cache.Update(ref, price, time.Now())
}

func (f *Feed) closeConnection() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.connected = false
}

// Disconnect stops the loop and closes the socket.
func (f *Feed) Disconnect() {
	if f.cancel != nil {
		f.cancel()
	}
	f.closeConnection()
	f.wg.Wait()
	f.logger.Info("Oracle feed disconnected")
}

// IsConnected returns connection status.
func (f *Feed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}
