// Package fraud scores transactions for fraud risk.
//
// A Service owns the one trained classifier of the process. Each transaction
// is turned into a feature vector, scored, and mapped to a binary decision:
// probabilities above 0.5 are blocked, everything else is approved. Every
// scoring call yields an Assessment that is written to an audit Store and
// handed to Publishers off the request path.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/fraudgate/internal/pagination"
)

// Decision is the verdict on a transaction.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionBlock   Decision = "block"
)

// BlockThreshold is the probability above which a transaction is blocked.
const BlockThreshold = 0.5

// Decide maps a fraud probability to a decision. A probability of exactly
// BlockThreshold is approved.
func Decide(p float64) Decision {
	if p > BlockThreshold {
		return DecisionBlock
	}
	return DecisionApprove
}

var (
	// ErrNotReady is returned by Score until InitializeModel has succeeded.
	ErrNotReady           = errors.New("fraud: model not ready")
	// ErrNotFound is returned when an assessment does not exist.
	ErrNotFound           = errors.New("fraud: assessment not found")
	// ErrAlreadyInitialized is returned when InitializeModel runs twice.
	ErrAlreadyInitialized = errors.New("fraud: model already initialized")
)

// StartupTrainingError means the model could not be built at start-up. The
// process must not serve traffic after it.
type StartupTrainingError struct {
	Err error
}

func (e *StartupTrainingError) Error() string {
	return fmt.Sprintf("startup training failed: %v", e.Err)
}

func (e *StartupTrainingError) Unwrap() error { return e.Err }

// Assessment is the record of one scoring call.
type Assessment struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	TransactionType string    `json:"transactionType"`
	Amount          float64   `json:"amount"`
	Probability     float64   `json:"probability"`
	Decision        Decision  `json:"decision"`
	ModelID         string    `json:"modelId"`
	Features        []float64 `json:"features"`
	EvaluatedAt     time.Time `json:"evaluatedAt"`
}

// clone returns a deep copy so stored records never alias caller memory.
func (a *Assessment) clone() *Assessment {
	c := *a
	c.Features = append([]float64(nil), a.Features...)
	return &c
}

// Store persists assessments as an audit trail.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	Get(ctx context.Context, id string) (*Assessment, error)
	// ListByUser returns up to limit assessments for a user, newest first,
	// starting strictly after cursor when it is non-nil.
	ListByUser(ctx context.Context, userID string, cursor *pagination.Cursor, limit int) ([]*Assessment, error)
}

// Publisher receives every assessment after it has been scored.
type Publisher interface {
	Publish(ctx context.Context, a *Assessment) error
}
