package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"

	"github.com/scalytics/skytext/internal/tracestore"
)

// FailureNotifier is told about runs that ended with the fallback reply.
type FailureNotifier interface {
	NotifyFailure(ctx context.Context, t *tracestore.Trace, failed tracestore.Event) error
}

// SlackNotifier posts failed runs to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier returns a notifier for webhookURL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, client: &http.Client{Timeout: 5 * time.Second}}
}

func (n *SlackNotifier) NotifyFailure(ctx context.Context, t *tracestore.Trace, failed tracestore.Event) error {
	msg := &slack.WebhookMessage{
		Text: fmt.Sprintf(":warning: skytext run %s failed at %s: %s", t.TraceID, failed.Step, failed.Error),
	}
	if err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg); err != nil {
		return fmt.Errorf("post slack alert: %w", err)
	}
	return nil
}
