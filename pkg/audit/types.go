// Package audit records authorization decisions for compliance review.
//
// Decisions are written asynchronously through a buffered recorder so the
// request path never blocks on the audit store; a full buffer drops the
// event and counts the drop rather than stalling requests.
package audit

import "time"

// Outcome classifies a recorded decision.
type Outcome string

const (
	OutcomeAllowed         Outcome = "allowed"
	OutcomeDenied          Outcome = "denied"
	OutcomeUnauthenticated Outcome = "unauthenticated"
	OutcomeStoreError      Outcome = "store_error"
)

// DecisionEvent is one authorization decision.
type DecisionEvent struct {
	ID             int64     `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	PrincipalID    int64     `json:"principal_id,omitempty"`
	Username       string    `json:"username,omitempty"`
	PermissionCode string    `json:"permission_code,omitempty"`
	Outcome        Outcome   `json:"outcome"`
	Reason         string    `json:"reason,omitempty"`
	RequestID      string    `json:"request_id,omitempty"`
	Method         string    `json:"method,omitempty"`
	Path           string    `json:"path,omitempty"`
}
