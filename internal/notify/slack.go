package notify

import (
	"log/slog"

	"github.com/slack-go/slack"
)

// SlackNotifier posts bridge notifications to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	logger     *slog.Logger
}

// NewSlackNotifier creates a notifier for the given webhook URL.
func NewSlackNotifier(webhookURL string, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlackNotifier{webhookURL: webhookURL, logger: logger}
}

// Post sends a message. Failures are logged and swallowed.
func (n *SlackNotifier) Post(text string) {
	err := slack.PostWebhook(n.webhookURL, &slack.WebhookMessage{Text: text})
	if err != nil {
		n.logger.Debug("slack post failed", "err", err)
	}
}
