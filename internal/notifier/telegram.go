package notifier

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/amirphl/split-trader/internal/config"
)

type TelegramNotifier struct {
	retrier
	Token  string
	ChatID string

	apiBase string
	client  *http.Client
}

func NewTelegramNotifier(cfg config.NotifyConfig) *TelegramNotifier {
	t := &TelegramNotifier{
		Token:   cfg.TelegramToken,
		ChatID:  cfg.TelegramChatID,
		apiBase: "https://api.telegram.org",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 1
	}
	t.retrier = retrier{send: t.Send, attempts: attempts, delay: cfg.Delay.D(), sleep: time.Sleep}
	return t
}

func (t *TelegramNotifier) Send(message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.Token)
	resp, err := t.client.PostForm(apiURL, url.Values{
		"chat_id": {t.ChatID},
		"text":    {message},
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send failed: %s", resp.Status)
	}
	return nil
}

// New picks the Telegram notifier when credentials are configured and the
// log notifier otherwise. Alerts are always logged.
func New(cfg config.NotifyConfig) Notifier {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == "" {
		return NewLogNotifier()
	}
	return Multi{NewTelegramNotifier(cfg), NewLogNotifier()}
}
