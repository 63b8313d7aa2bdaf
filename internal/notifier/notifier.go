// Package notifier
package notifier

import (
	"fmt"
	"log"
	"time"
)

// Notifier sends operator alerts. Delivery is best effort: callers log a
// failed send and carry on.
type Notifier interface {
	Send(msg string) error
	SendWithRetry(msg string) error
	RetryWithNotification(action func() error, description string) error
}

// retrier implements the retrying half of Notifier on top of a Send func.
type retrier struct {
	send     func(string) error
	attempts int
	delay    time.Duration
	sleep    func(time.Duration)
}

func (r retrier) SendWithRetry(msg string) error {
	var err error
	for i := 1; i <= r.attempts; i++ {
		if err = r.send(msg); err == nil {
			return nil
		}
		log.Printf("Notifier | Send attempt %d/%d failed: %v", i, r.attempts, err)
		if i < r.attempts {
			r.sleep(r.delay)
		}
	}
	return fmt.Errorf("notification not delivered after %d attempts: %w", r.attempts, err)
}

// RetryWithNotification runs action up to attempts times and alerts the
// operator when it still fails.
func (r retrier) RetryWithNotification(action func() error, description string) error {
	var err error
	for i := 1; i <= r.attempts; i++ {
		if err = action(); err == nil {
			return nil
		}
		log.Printf("Notifier | %s attempt %d/%d failed: %v", description, i, r.attempts, err)
		if i < r.attempts {
			r.sleep(r.delay)
		}
	}
	if sendErr := r.SendWithRetry(fmt.Sprintf("%s failed after %d attempts: %v", description, r.attempts, err)); sendErr != nil {
		log.Printf("Notifier | Could not report failure of %s: %v", description, sendErr)
	}
	return err
}

// LogNotifier writes alerts to the standard logger. It is used when no
// Telegram credentials are configured.
type LogNotifier struct {
	retrier
}

func NewLogNotifier() *LogNotifier {
	n := &LogNotifier{}
	n.retrier = retrier{send: n.Send, attempts: 1, sleep: time.Sleep}
	return n
}

func (n *LogNotifier) Send(msg string) error {
	log.Printf("Notifier | %s", msg)
	return nil
}

// Multi fans an alert out to several notifiers. Send fails only when every
// notifier failed.
type Multi []Notifier

func (m Multi) Send(msg string) error {
	return m.each(func(n Notifier) error { return n.Send(msg) })
}

func (m Multi) SendWithRetry(msg string) error {
	return m.each(func(n Notifier) error { return n.SendWithRetry(msg) })
}

func (m Multi) RetryWithNotification(action func() error, description string) error {
	if len(m) == 0 {
		return action()
	}
	return m[0].RetryWithNotification(action, description)
}

func (m Multi) each(fn func(Notifier) error) error {
	var last error
	ok := 0
	for _, n := range m {
		if err := fn(n); err != nil {
			last = err
			continue
		}
		ok++
	}
	if ok == 0 && last != nil {
		return last
	}
	return nil
}
