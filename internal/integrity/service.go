// Package integrity wires the digest generator, commitment state machine,
// verification engine and proof builder into the operations exposed to
// operators, journaling each one to the audit log.
package integrity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/ArthaIntegrity/internal/audit"
	"github.com/jmerrifield20/ArthaIntegrity/internal/commitment"
	"github.com/jmerrifield20/ArthaIntegrity/internal/digest"
	"github.com/jmerrifield20/ArthaIntegrity/internal/ledger"
	"github.com/jmerrifield20/ArthaIntegrity/internal/proof"
	"github.com/jmerrifield20/ArthaIntegrity/internal/sor"
	"github.com/jmerrifield20/ArthaIntegrity/internal/verify"
	"go.uber.org/zap"
)

// Outcomes reported to the Observer and journaled for failed commits.
const (
	OutcomeCommitted         = "committed"
	OutcomeAlreadyCommitted  = "already_committed"
	OutcomeInvalidTransition = "invalid_transition"
	OutcomeInvalidRecord     = "invalid_record"
	OutcomeRecordNotFound    = "record_not_found"
	OutcomeLedgerRejected    = "ledger_rejected"
	OutcomeLedgerUnavailable = "ledger_unavailable"
	OutcomeError             = "error"
)

// Observer receives operation outcomes, typically to feed metrics.
type Observer interface {
	CommitObserved(kind ledger.EntryKind, rt digest.RecordType, outcome string)
	VerifyObserved(verdict verify.Verdict)
	AuditObserved(action audit.Action)
}

type actorKey struct{}

// WithActor attaches the operator identity journaled with every action.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the operator identity attached to ctx, or "".
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

// Service runs the integrity operations.
type Service struct {
	records  sor.Reader
	machine  *commitment.Machine
	verifier *verify.Engine
	proofs   *proof.Builder
	journal  audit.Log // nil = no journaling
	observer Observer  // nil = no metrics
	logger   *zap.Logger
}

// NewService creates a Service. journal may be nil to disable journaling.
func NewService(records sor.Reader, machine *commitment.Machine, verifier *verify.Engine, proofs *proof.Builder, journal audit.Log, logger *zap.Logger) *Service {
	return &Service{
		records:  records,
		machine:  machine,
		verifier: verifier,
		proofs:   proofs,
		journal:  journal,
		logger:   logger,
	}
}

// SetObserver configures the outcome observer.
func (s *Service) SetObserver(o Observer) {
	s.observer = o
}

// Commit reads record id from the system of record, digests it and commits
// the digest to the ledger.
func (s *Service) Commit(ctx context.Context, id string, rt digest.RecordType) (*commitment.Record, error) {
	d, err := s.digestRecord(ctx, id, rt)
	if err != nil {
		s.commitFailed(ctx, ledger.KindCommit, id, rt, err)
		return nil, err
	}

	rec, err := s.machine.Commit(ctx, id, rt, d, envelopeMetadata())
	if err != nil {
		s.commitFailed(ctx, ledger.KindCommit, id, rt, err)
		return nil, err
	}

	s.observeCommit(ledger.KindCommit, rt, OutcomeCommitted)
	s.appendAudit(ctx, audit.Event{
		Action:     audit.ActionCommit,
		RecordID:   id,
		RecordType: string(rt),
		Outcome:    string(rec.Status),
		LedgerRef:  rec.LedgerRef,
		Data:       map[string]string{"digest": d.Hex()},
	})
	return rec, nil
}

// CommitFollowup digests the repayment of loan id and commits it to the
// ledger. The loan must be COMMITTED.
func (s *Service) CommitFollowup(ctx context.Context, id string) (*commitment.Record, error) {
	current, err := s.machine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != commitment.StatusCommitted || current.RecordType != digest.RecordTypeLoan {
		err := &commitment.InvalidTransitionError{
			RecordID:   id,
			RecordType: current.RecordType,
			From:       current.Status,
			To:         commitment.StatusFollowupCommitted,
		}
		s.commitFailed(ctx, ledger.KindFollowup, id, current.RecordType, err)
		return nil, err
	}

	fields, err := s.records.ReadFollowup(ctx, id)
	if err != nil {
		err = fmt.Errorf("read repayment of %s: %w", id, err)
		s.commitFailed(ctx, ledger.KindFollowup, id, digest.RecordTypeLoan, err)
		return nil, err
	}
	d, err := digest.ComputeFollowup(fields)
	if err != nil {
		s.commitFailed(ctx, ledger.KindFollowup, id, digest.RecordTypeLoan, err)
		return nil, err
	}

	rec, err := s.machine.CommitFollowup(ctx, id, d, envelopeMetadata())
	if err != nil {
		s.commitFailed(ctx, ledger.KindFollowup, id, digest.RecordTypeLoan, err)
		return nil, err
	}

	s.observeCommit(ledger.KindFollowup, digest.RecordTypeLoan, OutcomeCommitted)
	s.appendAudit(ctx, audit.Event{
		Action:     audit.ActionFollowup,
		RecordID:   id,
		RecordType: string(digest.RecordTypeLoan),
		Outcome:    string(rec.Status),
		LedgerRef:  rec.FollowupLedgerRef,
		Data:       map[string]string{"digest": d.Hex()},
	})
	return rec, nil
}

// Verify checks record id against its ledger commitment. Checks of records
// that were never committed are not journaled.
func (s *Service) Verify(ctx context.Context, id string) (*verify.Result, error) {
	res, err := s.verifier.Verify(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.observer != nil {
		s.observer.VerifyObserved(res.Verdict)
	}
	if res.Verdict == verify.VerdictNotCommitted {
		return res, nil
	}
	ev := audit.Event{
		Action:     audit.ActionVerify,
		RecordID:   id,
		RecordType: string(res.RecordType),
		Outcome:    string(res.Verdict),
		Data:       res,
	}
	if res.Commit != nil {
		ev.LedgerRef = res.Commit.LedgerRef
	}
	s.appendAudit(ctx, ev)
	return res, nil
}

// Proof returns the certificate data of record id.
func (s *Service) Proof(ctx context.Context, id string) (*proof.Payload, error) {
	p, err := s.proofs.Build(ctx, id)
	if err != nil {
		return nil, err
	}
	s.appendAudit(ctx, audit.Event{
		Action:     audit.ActionProof,
		RecordID:   id,
		RecordType: string(p.RecordType),
		Outcome:    string(p.Status),
		LedgerRef:  p.LedgerRef,
		Data:       p,
	})
	return p, nil
}

// Status returns the commitment state of record id.
func (s *Service) Status(ctx context.Context, id string) (*commitment.Record, error) {
	return s.machine.Get(ctx, id)
}

// Preview returns the canonical encoding and digest of record id as it
// currently stands in the system of record, without committing anything.
func (s *Service) Preview(ctx context.Context, id string, rt digest.RecordType) ([]byte, digest.Digest, error) {
	fields, err := s.records.ReadRecord(ctx, id, rt)
	if err != nil {
		return nil, digest.Digest{}, fmt.Errorf("read %s %s: %w", rt, id, err)
	}
	canonical, err := digest.Canonical(rt, fields)
	if err != nil {
		return nil, digest.Digest{}, err
	}
	d, err := digest.Compute(rt, fields)
	if err != nil {
		return nil, digest.Digest{}, err
	}
	return canonical, d, nil
}

func (s *Service) digestRecord(ctx context.Context, id string, rt digest.RecordType) (digest.Digest, error) {
	if !rt.Valid() {
		return digest.Digest{}, &digest.InvalidRecordError{RecordType: rt, Reason: "unknown record type"}
	}
	fields, err := s.records.ReadRecord(ctx, id, rt)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("read %s %s: %w", rt, id, err)
	}
	return digest.Compute(rt, fields)
}

func (s *Service) commitFailed(ctx context.Context, kind ledger.EntryKind, id string, rt digest.RecordType, err error) {
	outcome := Classify(err)
	s.observeCommit(kind, rt, outcome)

	ev := audit.Event{
		Action:     audit.ActionCommitFailed,
		RecordID:   id,
		RecordType: string(rt),
		Outcome:    outcome,
		Data:       map[string]string{"kind": string(kind), "error": err.Error()},
	}
	var already *commitment.AlreadyCommittedError
	if errors.As(err, &already) {
		ev.LedgerRef = already.Existing.LedgerRef
	}
	s.appendAudit(ctx, ev)
}

func (s *Service) observeCommit(kind ledger.EntryKind, rt digest.RecordType, outcome string) {
	if s.observer != nil {
		s.observer.CommitObserved(kind, rt, outcome)
	}
}

// appendAudit journals ev. A journal failure never fails the operation.
func (s *Service) appendAudit(ctx context.Context, ev audit.Event) {
	if s.journal == nil {
		return
	}
	if ev.Actor == "" {
		ev.Actor = ActorFrom(ctx)
	}
	if _, err := s.journal.Append(context.WithoutCancel(ctx), ev); err != nil {
		s.logger.Error("audit append failed (non-fatal)",
			zap.String("action", string(ev.Action)),
			zap.String("record_id", ev.RecordID),
			zap.Error(err),
		)
		return
	}
	if s.observer != nil {
		s.observer.AuditObserved(ev.Action)
	}
}

// Classify maps an operation error to its outcome label.
func Classify(err error) string {
	var (
		already    *commitment.AlreadyCommittedError
		transition *commitment.InvalidTransitionError
		invalid    *digest.InvalidRecordError
	)
	switch {
	case err == nil:
		return OutcomeCommitted
	case errors.As(err, &already):
		return OutcomeAlreadyCommitted
	case errors.As(err, &transition):
		return OutcomeInvalidTransition
	case errors.As(err, &invalid):
		return OutcomeInvalidRecord
	case errors.Is(err, sor.ErrRecordNotFound):
		return OutcomeRecordNotFound
	case errors.Is(err, ledger.ErrRejected):
		return OutcomeLedgerRejected
	case errors.Is(err, ledger.ErrTransient):
		return OutcomeLedgerUnavailable
	}
	return OutcomeError
}

// envelopeMetadata is published alongside every digest. It must never carry
// record contents.
func envelopeMetadata() map[string]string {
	return map[string]string{"schema": digest.SchemaVersion}
}
