// Package commitment owns the per-record commitment state and its forward-only
// transitions NOT_COMMITTED -> COMMITTED -> FOLLOWUP_COMMITTED.
//
// Every transition publishes a ledger envelope before anything is persisted,
// so a stored digest always has a ledger reference behind it. Transitions on
// the same record are serialized by a Locker and guarded by a version
// compare-and-set in the Store.
package commitment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
	"github.com/jmerrifield20/ArthaIntegrity/internal/ledger"
	"go.uber.org/zap"
)

// persistTimeout bounds the store write that follows a successful publish.
// The write is detached from caller cancellation once the ledger has
// accepted the entry.
const persistTimeout = 10 * time.Second

// Defaults for re-reading an entry this process published but failed to
// persist. Ledger reads are eventually consistent with publishes.
const (
	defaultVisibilityAttempts = 5
	defaultVisibilityDelay    = 200 * time.Millisecond
)

// Machine drives commitment transitions.
type Machine struct {
	store  Store
	ledger ledger.Client
	locker Locker
	logger *zap.Logger
	now    func() time.Time

	// unpersisted maps a ledger key to the digest hex published under it
	// whose store write then failed.
	unpersistedMu sync.Mutex
	unpersisted   map[string]string
	pollAttempts  int
	pollDelay     time.Duration
}

// NewMachine creates a Machine. client is normally a *ledger.Retrying.
func NewMachine(store Store, client ledger.Client, locker Locker, logger *zap.Logger) *Machine {
	return &Machine{
		store:  store,
		ledger: client,
		locker: locker,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },

		unpersisted:  make(map[string]string),
		pollAttempts: defaultVisibilityAttempts,
		pollDelay:    defaultVisibilityDelay,
	}
}

// SetVisibilityPolling configures how long a retry waits for an entry that an
// earlier attempt published but could not persist.
func (m *Machine) SetVisibilityPolling(attempts int, delay time.Duration) {
	if attempts > 0 {
		m.pollAttempts = attempts
	}
	if delay > 0 {
		m.pollDelay = delay
	}
}

// Get returns the commitment for id. An unseen record is reported as
// NOT_COMMITTED with an empty record type.
func (m *Machine) Get(ctx context.Context, id string) (*Record, error) {
	r, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return &Record{RecordID: id, Status: StatusNotCommitted}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load commitment %s: %w", id, err)
	}
	return r, nil
}

// Commit publishes d as the integrity snapshot of record id and moves it to
// COMMITTED. A record that has already left NOT_COMMITTED yields
// *AlreadyCommittedError carrying the stored state.
func (m *Machine) Commit(ctx context.Context, id string, rt digest.RecordType, d digest.Digest, meta map[string]string) (*Record, error) {
	if id == "" {
		return nil, &digest.InvalidRecordError{RecordType: rt, Field: "record_id", Reason: "is required"}
	}
	if !rt.Valid() {
		return nil, &digest.InvalidRecordError{RecordType: rt, Reason: "unknown record type"}
	}
	if d.IsZero() {
		return nil, &digest.InvalidRecordError{RecordType: rt, Reason: "digest is empty"}
	}

	unlock, err := m.locker.Lock(ctx, id)
	if err != nil {
		return nil, &CommitFailedError{RecordID: id, Step: StepLock, Err: err}
	}
	defer unlock()

	rec, err := m.store.Create(ctx, newRecord(id, rt))
	if err != nil {
		return nil, &CommitFailedError{RecordID: id, Step: StepLoad, Err: err}
	}
	if rec.Status != StatusNotCommitted {
		return nil, &AlreadyCommittedError{Existing: rec}
	}
	if rec.RecordType != rt {
		return nil, &digest.InvalidRecordError{
			RecordType: rt,
			Field:      "record_type",
			Reason:     fmt.Sprintf("record %s is tracked as %s", id, rec.RecordType),
		}
	}

	env := &ledger.Envelope{
		Kind:        ledger.KindCommit,
		RecordID:    id,
		RecordType:  rt,
		Digest:      d.Hex(),
		CommittedAt: m.now(),
		Metadata:    meta,
	}
	key := ledger.CommitKey(rt, id)
	ref, at, err := m.publish(ctx, key, env)
	if err != nil {
		return nil, err
	}

	rec.Status = StatusCommitted
	rec.Digest = &d
	rec.LedgerRef = ref
	rec.CommittedAt = &at
	if err := m.persist(ctx, key, env.Digest, rec); err != nil {
		return nil, err
	}

	m.logger.Info("record committed",
		zap.String("record_id", id),
		zap.String("record_type", string(rt)),
		zap.String("ledger_ref", ref),
		zap.String("digest", d.Hex()),
	)
	return rec, nil
}

// CommitFollowup publishes the followup digest of a committed loan and moves
// it to FOLLOWUP_COMMITTED.
func (m *Machine) CommitFollowup(ctx context.Context, id string, d digest.Digest, meta map[string]string) (*Record, error) {
	if d.IsZero() {
		return nil, &digest.InvalidRecordError{RecordType: digest.RecordTypeLoan, Reason: "followup digest is empty"}
	}

	unlock, err := m.locker.Lock(ctx, id)
	if err != nil {
		return nil, &CommitFailedError{RecordID: id, Step: StepLock, Err: err}
	}
	defer unlock()

	rec, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, &InvalidTransitionError{RecordID: id, From: StatusNotCommitted, To: StatusFollowupCommitted}
	}
	if err != nil {
		return nil, &CommitFailedError{RecordID: id, Step: StepLoad, Err: err}
	}
	if rec.RecordType != digest.RecordTypeLoan || rec.Status != StatusCommitted {
		return nil, &InvalidTransitionError{
			RecordID:   id,
			RecordType: rec.RecordType,
			From:       rec.Status,
			To:         StatusFollowupCommitted,
		}
	}

	env := &ledger.Envelope{
		Kind:        ledger.KindFollowup,
		RecordID:    id,
		RecordType:  rec.RecordType,
		Digest:      d.Hex(),
		CommittedAt: m.now(),
		Metadata:    meta,
	}
	key := ledger.FollowupKey(id)
	ref, at, err := m.publish(ctx, key, env)
	if err != nil {
		return nil, err
	}

	rec.Status = StatusFollowupCommitted
	rec.FollowupDigest = &d
	rec.FollowupLedgerRef = ref
	rec.FollowupCommittedAt = &at
	if err := m.persist(ctx, key, env.Digest, rec); err != nil {
		return nil, err
	}

	m.logger.Info("followup committed",
		zap.String("record_id", id),
		zap.String("ledger_ref", ref),
		zap.String("digest", d.Hex()),
	)
	return rec, nil
}

// publish writes env under key, or adopts an identical entry left on the
// ledger by an earlier attempt whose local write failed. It returns the ledger
// ref and the commit time recorded in the published envelope.
//
// When this process itself published the same digest under key and then
// failed to persist, the entry is polled for until visible; publishing again
// would put a second envelope on the ledger.
func (m *Machine) publish(ctx context.Context, key string, env *ledger.Envelope) (string, time.Time, error) {
	if m.wasUnpersisted(key, env.Digest) {
		ref, at, err := m.awaitOrphan(ctx, key, env)
		if err != nil {
			m.logger.Error("earlier ledger entry not visible; refusing to publish again",
				zap.String("record_id", env.RecordID),
				zap.String("key", key),
				zap.Error(err),
			)
			return "", time.Time{}, &CommitFailedError{RecordID: env.RecordID, Step: StepPublish, Err: err}
		}
		m.logger.Warn("adopting ledger entry from an earlier attempt",
			zap.String("record_id", env.RecordID),
			zap.String("key", key),
			zap.String("ledger_ref", ref),
		)
		return ref, at, nil
	}
	if ref, at, ok := m.findOrphan(ctx, key, env); ok {
		m.logger.Warn("adopting ledger entry from an earlier attempt",
			zap.String("record_id", env.RecordID),
			zap.String("key", key),
			zap.String("ledger_ref", ref),
		)
		return ref, at, nil
	}

	payload, err := ledger.EncodeEnvelope(env)
	if err != nil {
		return "", time.Time{}, &CommitFailedError{RecordID: env.RecordID, Step: StepEncode, Err: err}
	}
	ref, err := m.ledger.Publish(ctx, key, payload)
	if err != nil {
		m.logger.Error("ledger publish failed",
			zap.String("record_id", env.RecordID),
			zap.String("key", key),
			zap.Error(err),
		)
		return "", time.Time{}, &CommitFailedError{RecordID: env.RecordID, Step: StepPublish, Err: err}
	}
	return ref, env.CommittedAt, nil
}

// findOrphan reports whether the latest entry under key is an envelope of the
// same kind, record and digest. Lookup failures are not fatal; the caller
// falls through to a fresh publish.
func (m *Machine) findOrphan(ctx context.Context, key string, want *ledger.Envelope) (string, time.Time, bool) {
	payload, ref, err := m.ledger.FetchLatest(ctx, key)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			m.logger.Debug("orphan lookup failed",
				zap.String("record_id", want.RecordID),
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return "", time.Time{}, false
	}
	got, ok := sameEnvelope(payload, want)
	if !ok {
		return "", time.Time{}, false
	}
	return ref, got.CommittedAt.UTC(), true
}

// awaitOrphan polls key until the entry matching want becomes visible.
func (m *Machine) awaitOrphan(ctx context.Context, key string, want *ledger.Envelope) (string, time.Time, error) {
	var got *ledger.Envelope
	_, ref, err := ledger.PollLatest(ctx, m.ledger, key, func(payload []byte, _ string) bool {
		env, ok := sameEnvelope(payload, want)
		if ok {
			got = env
		}
		return ok
	}, m.pollAttempts, m.pollDelay)
	if err != nil {
		return "", time.Time{}, err
	}
	return ref, got.CommittedAt.UTC(), nil
}

// sameEnvelope decodes payload and reports whether it carries the kind, record
// and digest of want.
func sameEnvelope(payload []byte, want *ledger.Envelope) (*ledger.Envelope, bool) {
	got, err := ledger.DecodeEnvelope(payload)
	if err != nil {
		return nil, false
	}
	if got.Kind != want.Kind || got.RecordID != want.RecordID || got.Digest != want.Digest {
		return nil, false
	}
	return got, true
}

func (m *Machine) wasUnpersisted(key, digestHex string) bool {
	m.unpersistedMu.Lock()
	defer m.unpersistedMu.Unlock()
	return m.unpersisted[key] == digestHex
}

// persist writes rec after its envelope was published under key. A failed
// write is remembered so the next attempt waits for the published entry.
func (m *Machine) persist(ctx context.Context, key, digestHex string, rec *Record) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := m.store.Update(pctx, rec)

	m.unpersistedMu.Lock()
	if err != nil {
		m.unpersisted[key] = digestHex
	} else {
		delete(m.unpersisted, key)
	}
	m.unpersistedMu.Unlock()

	if err != nil {
		m.logger.Error("ledger entry published but commitment not persisted",
			zap.String("record_id", rec.RecordID),
			zap.String("status", string(rec.Status)),
			zap.Error(err),
		)
		return &CommitFailedError{RecordID: rec.RecordID, Step: StepPersist, Err: err}
	}
	return nil
}
