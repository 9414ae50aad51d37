// Package notify fans session notifications out to Web-Push subscribers and
// an optional Slack webhook. Delivery failures are logged and swallowed.
package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const vapidFile = "vapid.json"

// Manager holds the VAPID key pair and the live subscriptions, keyed by
// endpoint. Subscriptions are not persisted; browsers re-subscribe on
// reconnect.
type Manager struct {
	mu     sync.Mutex
	logger *slog.Logger
	keys   vapidKeys
	subs   map[string]*webpush.Subscription
	slack  *SlackNotifier
}

type vapidKeys struct {
	PrivateKey string `json:"privateKey"`
	PublicKey  string `json:"publicKey"`
}

// NewManager loads the VAPID key pair from dataDir, minting one on first run.
func NewManager(dataDir string, slackWebhookURL string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	keys, err := ensureVAPIDKeys(filepath.Join(dataDir, vapidFile))
	if err != nil {
		return nil, err
	}
	m := &Manager{
		logger: logger,
		keys:   keys,
		subs:   make(map[string]*webpush.Subscription),
	}
	if slackWebhookURL != "" {
		m.slack = NewSlackNotifier(slackWebhookURL, logger)
	}
	return m, nil
}

// VAPIDPublicKey returns the public key browsers subscribe with.
func (m *Manager) VAPIDPublicKey() string {
	return m.keys.PublicKey
}

// DecodeSubscription parses a push subscription from a request body.
func DecodeSubscription(r io.Reader) (*webpush.Subscription, error) {
	var sub webpush.Subscription
	if err := json.NewDecoder(r).Decode(&sub); err != nil {
		return nil, err
	}
	if sub.Endpoint == "" {
		return nil, fmt.Errorf("subscription missing endpoint")
	}
	return &sub, nil
}

// Subscribe registers a subscription. Endpoints are unique, so re-subscribing
// just refreshes the stored keys.
func (m *Manager) Subscribe(sub *webpush.Subscription) {
	m.mu.Lock()
	m.subs[sub.Endpoint] = sub
	total := len(m.subs)
	m.mu.Unlock()
	m.logger.Info("push subscriber registered", "total", total)
}

// Unsubscribe drops the subscription with the given endpoint.
func (m *Manager) Unsubscribe(endpoint string) {
	m.mu.Lock()
	delete(m.subs, endpoint)
	m.mu.Unlock()
}

// SessionIdle announces a session finishing its work.
func (m *Manager) SessionIdle(sessionID, name, agent string) {
	payload, _ := json.Marshal(map[string]any{
		"type":      "session_idle",
		"sessionId": sessionID,
		"name":      name,
		"agent":     agent,
	})
	m.send(payload)
	if m.slack != nil {
		m.slack.Post(fmt.Sprintf("%s (%s) is idle", name, agent))
	}
}

// AgentNotification forwards a notification hook event.
func (m *Manager) AgentNotification(sessionID, message, level string) {
	payload, _ := json.Marshal(map[string]any{
		"type":      "agent_notification",
		"sessionId": sessionID,
		"message":   message,
		"level":     level,
	})
	m.send(payload)
	if m.slack != nil && message != "" {
		m.slack.Post(message)
	}
}

// send delivers a payload to every subscriber and prunes endpoints the push
// service reports as gone (expired or revoked by the browser).
func (m *Manager) send(payload []byte) {
	m.mu.Lock()
	subs := make([]*webpush.Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	var gone []string
	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, sub, &webpush.Options{
			VAPIDPublicKey:  m.keys.PublicKey,
			VAPIDPrivateKey: m.keys.PrivateKey,
			Subscriber:      "mailto:bridge@localhost",
		})
		if err != nil {
			m.logger.Debug("push delivery failed", "err", err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			gone = append(gone, sub.Endpoint)
		}
		resp.Body.Close()
	}

	if len(gone) > 0 {
		m.mu.Lock()
		for _, endpoint := range gone {
			delete(m.subs, endpoint)
		}
		m.mu.Unlock()
		m.logger.Debug("pruned dead push subscriptions", "count", len(gone))
	}
}

// ensureVAPIDKeys returns the key pair stored at path, minting and persisting
// a fresh one when none is readable.
func ensureVAPIDKeys(path string) (vapidKeys, error) {
	if data, err := os.ReadFile(path); err == nil {
		var keys vapidKeys
		if json.Unmarshal(data, &keys) == nil && keys.PrivateKey != "" && keys.PublicKey != "" {
			return keys, nil
		}
		// Unreadable or truncated key file: fall through and re-mint.
	}

	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return vapidKeys{}, fmt.Errorf("generating VAPID keys: %w", err)
	}
	keys := vapidKeys{PrivateKey: private, PublicKey: public}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return vapidKeys{}, fmt.Errorf("creating key dir: %w", err)
	}
	data, _ := json.MarshalIndent(keys, "", "  ")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return vapidKeys{}, fmt.Errorf("saving VAPID keys: %w", err)
	}
	return keys, nil
}
