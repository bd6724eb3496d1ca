// Package events publishes fraud decisions to Kafka for downstream
// consumers (case management, analytics).
package events

import (
	"time"

	"github.com/mbd888/fraudgate/internal/fraud"
)

// TypeDecision is the event type of a scored transaction.
const TypeDecision = "fraud.decision"

// DecisionEvent is the message body written for every assessment. Feature
// vectors stay in the audit store and are not published.
type DecisionEvent struct {
	Type            string         `json:"type"`
	AssessmentID    string         `json:"assessmentId"`
	UserID          string         `json:"userId"`
	TransactionType string         `json:"transactionType"`
	Amount          float64        `json:"amount"`
	Probability     float64        `json:"probability"`
	Decision        fraud.Decision `json:"decision"`
	ModelID         string         `json:"modelId"`
	EvaluatedAt     time.Time      `json:"evaluatedAt"`
}

// NewDecisionEvent builds the event for an assessment.
func NewDecisionEvent(a *fraud.Assessment) DecisionEvent {
	return DecisionEvent{
		Type:            TypeDecision,
		AssessmentID:    a.ID,
		UserID:          a.UserID,
		TransactionType: a.TransactionType,
		Amount:          a.Amount,
		Probability:     a.Probability,
		Decision:        a.Decision,
		ModelID:         a.ModelID,
		EvaluatedAt:     a.EvaluatedAt,
	}
}
