package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotVisible is returned by PollLatest when the wanted entry did not become
// visible within the allowed attempts.
var ErrNotVisible = errors.New("ledger entry not yet visible")

// PollLatest re-reads the latest entry under key until accept returns true.
// Ledger visibility is eventual, so a caller that needs to observe its own
// publish must poll rather than read once.
func PollLatest(ctx context.Context, c Client, key string, accept func(payload []byte, ref string) bool, attempts int, delay time.Duration) ([]byte, string, error) {
	if attempts <= 0 {
		attempts = 1
	}
	for i := 1; i <= attempts; i++ {
		payload, ref, err := c.FetchLatest(ctx, key)
		switch {
		case err == nil && accept(payload, ref):
			return payload, ref, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, "", err
		}
		if i == attempts {
			break
		}
		if err := sleepContext(ctx, delay); err != nil {
			return nil, "", &TransientError{Op: "poll", Err: err}
		}
	}
	return nil, "", fmt.Errorf("key %q after %d attempts: %w", key, attempts, ErrNotVisible)
}
