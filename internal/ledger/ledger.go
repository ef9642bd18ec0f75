// Package ledger abstracts publish and fetch operations against a permissioned
// append-only ledger exposed as key-addressable streams.
//
// Three implementations of Client are provided:
//   - MultiChainClient: JSON-RPC against a MultiChain node.
//   - MemoryLedger: in-process hash-chained store, for tests and development.
//   - Retrying: a decorator adding bounded exponential backoff for transient failures.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Client is the contract the rest of the core uses to talk to the ledger.
type Client interface {
	// Publish appends payload under key and returns the ledger reference once
	// the node has accepted it. Acceptance does not imply confirmation.
	Publish(ctx context.Context, key string, payload []byte) (string, error)

	// FetchLatest returns the most recent entry published under key. Right after
	// a Publish it may still return the previous entry.
	FetchLatest(ctx context.Context, key string) ([]byte, string, error)

	// FetchByRef returns the payload of the entry identified by ref.
	FetchByRef(ctx context.Context, ref string) ([]byte, error)
}

var (
	// ErrNotFound is returned when no entry exists for a key or reference.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrTransient matches every failure that may succeed on retry
	// (connection refused, timeout, node warming up).
	ErrTransient = errors.New("ledger temporarily unavailable")

	// ErrRejected matches semantic rejections by the node. These are never retried.
	ErrRejected = errors.New("ledger rejected request")
)

// TransientError wraps a failure that is worth retrying.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("ledger %s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransient) true for every TransientError.
func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// RejectedError is a semantic rejection: malformed payload, unauthorized key,
// unknown stream.
type RejectedError struct {
	Op      string
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger %s: rejected (code %d): %s", e.Op, e.Code, e.Message)
}

// Is makes errors.Is(err, ErrRejected) true for every RejectedError.
func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// ExhaustedError is returned by Retrying once every attempt failed transiently.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("ledger %s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// IsTransient reports whether err is an availability failure rather than a
// rejection or a missing entry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
