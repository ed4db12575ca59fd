package events

import (
	"time"
)

// Type names a state change the engine announces. Dependent systems
// (notifications, dashboards) consume these; the engine only produces.
type Type string

const (
	TypeDonationSubmitted Type = "donation_submitted"
	TypeDonorVerified     Type = "donor_verified"
	TypeDonationRejected  Type = "donation_rejected"
	TypeDonationCompleted Type = "donation_completed"
	TypeRequestSubmitted  Type = "request_submitted"
	TypeRequestScored     Type = "request_scored"
	TypeRequestNoMatch    Type = "request_no_match"
	TypeMatchCreated      Type = "match_created"
	TypeMatchApproved     Type = "match_approved"
	TypeMatchRejected     Type = "match_rejected"
)

// Event is emitted from domain logic to capture state changes. IDs travel
// as strings so the wire format stays stable for consumers. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Organ      string `json:"organ,omitempty"`
	DonorID    string `json:"donor_id,omitempty"`
	DonationID string `json:"donation_id,omitempty"`
	PatientID  string `json:"patient_id,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
	MatchID    string `json:"match_id,omitempty"`

	// Actor is who drove the transition, e.g. the approving admin.
	Actor  string `json:"actor,omitempty"`
	Reason string `json:"reason,omitempty"`
}
