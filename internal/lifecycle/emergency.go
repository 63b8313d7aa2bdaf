package lifecycle

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/amirphl/split-trader/internal/journal"
	"github.com/amirphl/split-trader/internal/metrics"
)

// EmergencyStopCheck latches a process-wide halt when the portfolio loss
// floor or a stop-loss frequency cap is breached. Once latched it keeps
// returning ErrHalted until ClearEmergencyStop is called.
func (c *Controller) EmergencyStopCheck(ctx context.Context) error {
	c.mu.Lock()
	halted, reason := c.halted, c.haltReason
	c.mu.Unlock()
	if halted {
		return fmt.Errorf("%w: %s", ErrHalted, reason)
	}
	if c.cfg.Emergency.Disabled {
		return nil
	}

	reason = c.breach(ctx)
	if reason == "" {
		return nil
	}

	c.mu.Lock()
	c.halted, c.haltReason = true, reason
	c.mu.Unlock()
	metrics.SetHalted(true)

	log.Printf("Lifecycle | EMERGENCY STOP: %s", reason)
	journal.Record(ctx, c.Journal, journal.NewEvent(c.clock.Now(), journal.TypeEmergency, "", reason, nil))
	msg := fmt.Sprintf("EMERGENCY STOP: %s. All trading halted until cleared.", reason)
	if c.Notifier != nil {
		if err := c.Notifier.SendWithRetry(msg); err != nil {
			log.Printf("Lifecycle | Emergency notification failed: %v", err)
		}
	}
	return fmt.Errorf("%w: %s", ErrHalted, reason)
}

func (c *Controller) breach(ctx context.Context) string {
	em := c.cfg.Emergency

	bal, err := c.broker.GetBalance(ctx)
	if err != nil {
		log.Printf("Lifecycle | Balance unavailable, portfolio loss not checked: %v", err)
	} else {
		metrics.SetEquity(bal.TotalEquity)
		c.mu.Lock()
		if c.initialEquity <= 0 && bal.TotalEquity > 0 {
			c.initialEquity = bal.TotalEquity
			log.Printf("Lifecycle | Initial equity taken from broker: %.2f", c.initialEquity)
		}
		initial := c.initialEquity
		c.mu.Unlock()
		if initial > 0 {
			if loss := (initial - bal.TotalEquity) / initial; loss > em.MaxPortfolioLoss {
				return fmt.Sprintf("portfolio loss %.2f%% exceeds %.2f%% (equity %.2f vs initial %.2f)",
					loss*100, em.MaxPortfolioLoss*100, bal.TotalEquity, initial)
			}
		}
	}

	now := c.clock.Now()
	c.mu.Lock()
	cleared := c.clearedAt
	c.mu.Unlock()
	today := later(time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), cleared)
	window := later(now.Add(-em.Window.D()), cleared)

	daily, recent := c.stopLossCounts(today, window)
	if em.DailyStopLimit > 0 && daily >= em.DailyStopLimit {
		return fmt.Sprintf("%d stop-losses today (limit %d)", daily, em.DailyStopLimit)
	}
	if em.ConsecutiveStops > 0 && recent >= em.ConsecutiveStops {
		return fmt.Sprintf("%d stop-losses in the last %s (limit %d)", recent, em.Window.D(), em.ConsecutiveStops)
	}
	return ""
}

// stopLossCounts counts stop-loss events across all ledgers since each
// cutoff. Events come from the persisted sell history so they survive a
// restart.
func (c *Controller) stopLossCounts(today, window time.Time) (daily, recent int) {
	for _, l := range c.book.Snapshot() {
		daily += len(l.StopLossEvents(today))
		recent += len(l.StopLossEvents(window))
	}
	return daily, recent
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

// ClearEmergencyStop releases the halt. Stop-loss events before this moment
// no longer count toward the caps.
func (c *Controller) ClearEmergencyStop() {
	c.mu.Lock()
	was := c.halted
	c.halted, c.haltReason = false, ""
	c.clearedAt = c.clock.Now()
	c.mu.Unlock()
	metrics.SetHalted(false)
	if was {
		log.Printf("Lifecycle | Emergency stop cleared by operator")
		c.notify("Emergency stop cleared, trading resumes next cycle")
	}
}

// Halted reports whether the emergency stop is latched and why.
func (c *Controller) Halted() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted, c.haltReason
}
