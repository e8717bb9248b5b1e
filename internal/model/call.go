package model

import (
	"time"

	"github.com/ppiankov/rpcwarden/internal/jsonrpc"
)

// Status is a call's position in the lifecycle state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusValidated Status = "validated"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusFailed
}

// Call is one intercepted request with its verdicts and outcome.
type Call struct {
	ID               string             `json:"id"`
	ReceivedAt       time.Time          `json:"received_at"`
	Request          jsonrpc.Request    `json:"request"`
	Sender           string             `json:"sender,omitempty"`
	SenderVerified   bool               `json:"sender_verified,omitempty"`
	Risk             RiskVerdict        `json:"risk"`
	Reputation       *ReputationVerdict `json:"reputation,omitempty"`
	Decision         Decision           `json:"decision"`
	Status           Status             `json:"status"`
	Held             bool               `json:"held"`
	Response         *jsonrpc.Response  `json:"response,omitempty"`
	Error            string             `json:"error,omitempty"`
	ProcessingTimeMs int64              `json:"processing_time_ms"`
	ApprovedAt       *time.Time         `json:"approved_at,omitempty"`
}

// Clone returns a copy safe to hand out of a lock.
func (c *Call) Clone() *Call {
	cp := *c
	if c.Reputation != nil {
		rep := *c.Reputation
		rep.Warnings = append([]string(nil), c.Reputation.Warnings...)
		cp.Reputation = &rep
	}
	if c.Response != nil {
		resp := *c.Response
		cp.Response = &resp
	}
	if c.ApprovedAt != nil {
		at := *c.ApprovedAt
		cp.ApprovedAt = &at
	}
	return &cp
}
