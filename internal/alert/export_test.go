package alert

import "time"

// SetRetryDelays shortens the webhook backoff for tests.
func (w *WebhookNotifier) SetRetryDelays(d ...time.Duration) {
	w.delays = d
}
