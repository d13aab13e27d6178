package idempotency

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds how long a key is remembered.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a reserved key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Outcome describes what a reservation found.
type Outcome int

const (
	// OutcomeReserved means the caller owns the key and should run the request.
	OutcomeReserved Outcome = iota
	// OutcomeReplay means a finished response is stored under the key.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

// Record is the stored state of one key.
type Record struct {
	Fingerprint    string    `json:"fingerprint"`
	Status         Status    `json:"status"`
	ResponseStatus int       `json:"responseStatus,omitempty"`
	ContentType    string    `json:"contentType,omitempty"`
	ResponseBody   []byte    `json:"responseBody,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store persists reservations and finished responses.
type Store interface {
	// Reserve stores pending under key unless the key is already held.
	Reserve(ctx context.Context, key string, pending Record, ttl time.Duration) (Outcome, Record, error)
	Complete(ctx context.Context, key string, record Record, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

func classify(existing Record, fingerprint string) (Outcome, Record, error) {
	if existing.Fingerprint != fingerprint {
		return OutcomeInFlight, existing, ErrFingerprintMismatch
	}
	if existing.Status == StatusCompleted {
		return OutcomeReplay, existing, nil
	}
	return OutcomeInFlight, existing, nil
}
