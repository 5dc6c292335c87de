// services/notifier.go
package services

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"
)

// Notifier delivers user-facing messages after ledger/verification state
// changes. Delivery is fire-and-forget: a failed notification must never roll
// back the write that triggered it.
type Notifier interface {
	Notify(userID, kind, title, body string) error
}

// LogNotifier writes notifications to the process log. Used when no push
// webhook is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(userID, kind, title, body string) error {
	log.Printf("🔔 [NOTIFY] user=%s kind=%s title=%q body=%q", userID, kind, title, body)
	return nil
}

// WebhookNotifier POSTs notifications to an external push-delivery service.
type WebhookNotifier struct {
	URL        string
	Token      string
	HTTPClient *http.Client
}

// NewNotifierFromEnv returns a WebhookNotifier when PUSH_WEBHOOK_URL is set,
// otherwise a LogNotifier.
func NewNotifierFromEnv() Notifier {
	url := os.Getenv("PUSH_WEBHOOK_URL")
	if url == "" {
		log.Println("⚠️  PUSH_WEBHOOK_URL not set, notifications go to the log only")
		return LogNotifier{}
	}
	return &WebhookNotifier{
		URL:   url,
		Token: os.Getenv("PUSH_WEBHOOK_TOKEN"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (n *WebhookNotifier) Notify(userID, kind, title, body string) error {
	payload, err := json.Marshal(map[string]string{
		"user_id": userID,
		"kind":    kind,
		"title":   title,
		"body":    body,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest("POST", n.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.Token != "" {
		req.Header.Set("X-Service-Token", n.Token)
	}

	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// notifyAsync dispatches without blocking the caller. Errors are logged and
// swallowed so ledger writes cannot be affected by delivery failures.
func notifyAsync(n Notifier, userID, kind, title, body string) {
	if n == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("⚠️ [NOTIFY] panic delivering %s to %s: %v", kind, userID, r)
			}
		}()
		if err := n.Notify(userID, kind, title, body); err != nil {
			log.Printf("⚠️ [NOTIFY] failed delivering %s to %s: %v", kind, userID, err)
		}
	}()
}
