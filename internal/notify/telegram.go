// Package notify delivers fire-and-forget text notifications to a Telegram
// chat. Delivery failures are logged and never propagate into the trading
// path.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/RenZ1z/copytrade-base/internal/logger"
)

type Telegram struct {
	endpoint   string
	chatID     string
	httpClient *http.Client
	log        *logger.Logger
}

func NewTelegram(botToken, chatID string, log *logger.Logger) *Telegram {
	return &Telegram{
		endpoint:   fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", botToken),
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Send posts the message asynchronously. The caller never blocks on delivery.
func (t *Telegram) Send(text string) {
	go func() {
		payload, err := json.Marshal(map[string]string{
			"chat_id": t.chatID,
			"text":    text,
		})
		if err != nil {
			t.log.WithError(err).Warn("failed to marshal notification")
			return
		}

		resp, err := t.httpClient.Post(t.endpoint, "application/json", bytes.NewReader(payload))
		if err != nil {
			t.log.WithError(err).Warn("notification delivery failed")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.log.WithFields(map[string]interface{}{"status": resp.StatusCode}).Warn("notification rejected")
		}
	}()
}

// Nop is a notifier that drops every message. Used when Telegram is disabled
// and in tests.
type Nop struct{}

func (Nop) Send(string) {}
