// Package alert delivers integrity alerts raised by the periodic sweep to
// operators over signed webhooks and email.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/ArthaIntegrity/internal/verify"
	"go.uber.org/zap"
)

// Kind classifies an alert.
type Kind string

const (
	// KindMismatch means a committed record no longer matches its ledger digest.
	KindMismatch Kind = "integrity.mismatch"
	// KindUnavailable means a record's ledger entry has been unreachable for
	// several consecutive sweeps.
	KindUnavailable Kind = "integrity.ledger_unavailable"
)

// Alert is what notifiers deliver.
type Alert struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	RecordID   string    `json:"record_id"`
	RecordType string    `json:"record_type,omitempty"`
	Verdict    string    `json:"verdict"`
	LedgerRef  string    `json:"ledger_ref,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// FromResult builds the alert for a verification result.
func FromResult(res *verify.Result) Alert {
	a := Alert{
		ID:         uuid.NewString(),
		Kind:       KindUnavailable,
		RecordID:   res.RecordID,
		RecordType: string(res.RecordType),
		Verdict:    string(res.Verdict),
		DetectedAt: res.CheckedAt,
	}
	if res.Verdict == verify.VerdictMismatch {
		a.Kind = KindMismatch
	}
	if a.DetectedAt.IsZero() {
		a.DetectedAt = time.Now().UTC()
	}
	// Report the check that drove the folded verdict.
	for _, c := range []*verify.Check{res.Commit, res.Followup} {
		if c != nil && c.Verdict == res.Verdict {
			a.LedgerRef = c.LedgerRef
			a.Reason = c.Reason
			break
		}
	}
	return a
}

// Notifier delivers one alert on one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(channel string, success bool)

// Dispatcher fans an alert out to every configured notifier.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	onMetrics MetricsRecorder
	logger    *zap.Logger
}

// NewDispatcher creates a Dispatcher. With no notifiers alerts are only logged.
func NewDispatcher(logger *zap.Logger, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{notifiers: notifiers, timeout: time.Minute, logger: logger}
}

// SetMetricsRecorder configures the metrics callback.
func (d *Dispatcher) SetMetricsRecorder(fn MetricsRecorder) {
	d.onMetrics = fn
}

// Dispatch logs the alert and delivers it to all notifiers concurrently,
// waiting for them to finish. Its signature matches sweep.AlertFunc.
func (d *Dispatcher) Dispatch(ctx context.Context, res *verify.Result) {
	a := FromResult(res)
	d.logger.Error("integrity alert",
		zap.String("alert_id", a.ID),
		zap.String("kind", string(a.Kind)),
		zap.String("record_id", a.RecordID),
		zap.String("record_type", a.RecordType),
		zap.String("verdict", a.Verdict),
		zap.String("reason", a.Reason),
	)
	if len(d.notifiers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, n := range d.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			err := n.Notify(ctx, a)
			if d.onMetrics != nil {
				d.onMetrics(n.Name(), err == nil)
			}
			if err != nil {
				d.logger.Warn("alert delivery failed",
					zap.String("channel", n.Name()),
					zap.String("alert_id", a.ID),
					zap.Error(err),
				)
			}
		}(n)
	}
	wg.Wait()
}
