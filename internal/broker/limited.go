package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amirphl/split-trader/internal/cache"
	"github.com/amirphl/split-trader/internal/config"
	"github.com/amirphl/split-trader/internal/utils"
)

const maxBackoff = 5 * time.Minute

// Limited wraps a Broker with a fixed delay between calls, bounded retries
// for reads and a short-lived price cache. Order submissions are never
// retried: a lost acknowledgement could otherwise place the order twice.
type Limited struct {
	next       Broker
	delay      time.Duration
	attempts   int
	retryDelay time.Duration
	prices     *cache.TTL[string, float64]

	mu       sync.Mutex
	lastCall time.Time
	clock    utils.Clock
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewLimited(next Broker, cfg config.BrokerConfig, clock utils.Clock) *Limited {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &Limited{
		next:       next,
		delay:      cfg.CallDelay.D(),
		attempts:   attempts,
		retryDelay: cfg.RetryDelay.D(),
		prices:     cache.NewTTL[string, float64](cfg.PriceCacheTTL.D(), 256, clock),
		clock:      clock,
		sleep:      sleepCtx,
	}
}

func (l *Limited) Name() string { return l.next.Name() }

func (l *Limited) GetHoldings(ctx context.Context, symbol string) (Holding, error) {
	var h Holding
	err := l.retry(ctx, "GetHoldings "+symbol, func() error {
		var err error
		h, err = l.next.GetHoldings(ctx, symbol)
		return err
	})
	return h, err
}

func (l *Limited) GetBalance(ctx context.Context) (Balance, error) {
	var b Balance
	err := l.retry(ctx, "GetBalance", func() error {
		var err error
		b, err = l.next.GetBalance(ctx)
		return err
	})
	return b, err
}

func (l *Limited) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return l.prices.GetOrLoad(symbol, func() (float64, error) {
		var p float64
		err := l.retry(ctx, "GetCurrentPrice "+symbol, func() error {
			var err error
			p, err = l.next.GetCurrentPrice(ctx, symbol)
			return err
		})
		return p, err
	})
}

func (l *Limited) SubmitLimitBuy(ctx context.Context, symbol string, qty int64, price float64) (OrderAck, error) {
	if err := l.wait(ctx); err != nil {
		return OrderAck{}, err
	}
	return l.next.SubmitLimitBuy(ctx, symbol, qty, price)
}

func (l *Limited) SubmitLimitSell(ctx context.Context, symbol string, qty int64, price float64) (OrderAck, error) {
	if err := l.wait(ctx); err != nil {
		return OrderAck{}, err
	}
	return l.next.SubmitLimitSell(ctx, symbol, qty, price)
}

// InvalidatePrice drops the cached price of symbol.
func (l *Limited) InvalidatePrice(symbol string) { l.prices.Delete(symbol) }

// wait enforces the minimum spacing between broker calls.
func (l *Limited) wait(ctx context.Context) error {
	l.mu.Lock()
	next := l.lastCall.Add(l.delay)
	now := l.clock.Now()
	if next.Before(now) {
		next = now
	}
	l.lastCall = next
	l.mu.Unlock()

	if d := next.Sub(now); d > 0 {
		return l.sleep(ctx, d)
	}
	return ctx.Err()
}

// retry runs fn up to l.attempts times with exponential backoff capped at
// five minutes.
func (l *Limited) retry(ctx context.Context, op string, fn func() error) error {
	backoff := l.retryDelay
	var lastErr error
	for i := 1; i <= l.attempts; i++ {
		if err := l.wait(ctx); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrUnknownSymbol) {
			return err
		}
		if i == l.attempts {
			break
		}
		utils.GetLogger().Printf("Broker | %s %s attempt %d/%d failed: %v. Backing off for %v", l.next.Name(), op, i, l.attempts, err, backoff)
		if err := l.sleep(ctx, backoff); err != nil {
			return err
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
	return fmt.Errorf("%s: all %d attempts failed: %w", op, l.attempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
