package oracle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"droc_go/internal/domain"
	"droc_go/internal/infra"
)

const (
	pollAttempts    = 3
	maxResponseSize = 1 << 16
)

// Poller fetches prices over HTTP on an interval and writes them into a Cache.
// The endpoint is called as GET <url>?ref=<ref> and answers
// {"ref":"...","price":"..."}.
type Poller struct {
	url       string
	refs      []string
	precision int
	interval  time.Duration
	backoff   infra.Backoff

	cache      *Cache
	httpClient *http.Client
	metrics    *infra.Metrics
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// PollerConfig configures a Poller.
type PollerConfig struct {
	URL       string
	Refs      []string
	Precision int
	Interval  time.Duration
	Backoff   infra.Backoff // zero value uses infra.DefaultBackoff
}

func NewPoller(cfg PollerConfig, cache *Cache, metrics *infra.Metrics, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff = infra.DefaultBackoff
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Poller{
		url:        cfg.URL,
		refs:       cfg.Refs,
		precision:  cfg.Precision,
		interval:   cfg.Interval,
		backoff:    cfg.Backoff,
		cache:      cache,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		metrics:    metrics,
		logger:     logger.With(slog.String("component", "oracle_poller")),
	}
}

// Start fetches once immediately, then polls until ctx ends or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.PollOnce(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Oracle polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Info("Oracle polling stopped")
				return
			case <-ticker.C:
				p.PollOnce(ctx)
			}
		}
	}()
}

// Stop cancels polling and waits for the loop to exit.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

// PollOnce refreshes every configured ref. Failures leave the cached value
// in place to age out.
func (p *Poller) PollOnce(ctx context.Context) {
	for _, ref := range p.refs {
		if err := p.fetch(ctx, ref); err != nil {
			p.metrics.RecordOracleFailure()
			p.logger.Warn("Oracle fetch failed", slog.String("ref", ref), slog.Any("error", err))
		}
	}
}

// fetch retries doFetch with exponential backoff.
func (p *Poller) fetch(ctx context.Context, ref string) error {
	var lastErr error
	for i := 0; i < pollAttempts; i++ {
		if i > 0 {
			delay := p.backoff.Delay(i - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := p.doFetch(ctx, ref)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			return err
		}
	}
	return lastErr
}

func (p *Poller) doFetch(ctx context.Context, ref string) error {
	u, err := url.Parse(p.url)
	if err != nil {
		return domain.NewFatalNetworkError("oracle_poll", err)
	}
	q := u.Query()
	q.Set("ref", ref)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.NewFatalNetworkError("oracle_poll", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError("oracle_poll", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return domain.NewNetworkError("oracle_poll", err)
		}
		return domain.NewFatalNetworkError("oracle_poll", err)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return domain.NewNetworkError("oracle_poll", err)
	}

	gotRef, price, err := decodePrice(body, p.precision)
	if err != nil {
		return err
	}
	if gotRef != "" && gotRef != ref {
		return fmt.Errorf("response for %q, asked %q", gotRef, ref)
	}

	p.cache.Update(ref, price, time.Now())
	p.logger.Debug("Oracle price updated", slog.String("ref", ref), slog.Int64("price", int64(price)))
	return nil
}
