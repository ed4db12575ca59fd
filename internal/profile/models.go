package profile

import (
	"time"

	"organlink/pkg/domain"
)

// DonationStatus is the lifecycle state of one donor submission. Only the
// admin gate drives transitions.
type DonationStatus string

const (
	DonationPending  DonationStatus = "pending"
	DonationVerified DonationStatus = "verified"
	DonationRejected DonationStatus = "rejected"
	DonationDonated  DonationStatus = "donated"
)

// CanTransitionTo encodes the donation state machine:
// Pending -> Verified | Rejected, Verified -> Donated. Rejected and Donated
// are terminal.
func (s DonationStatus) CanTransitionTo(next DonationStatus) bool {
	switch s {
	case DonationPending:
		return next == DonationVerified || next == DonationRejected
	case DonationVerified:
		return next == DonationDonated
	default:
		return false
	}
}

func (s DonationStatus) IsValid() bool {
	switch s {
	case DonationPending, DonationVerified, DonationRejected, DonationDonated:
		return true
	}
	return false
}

// RequestStatus is the lifecycle state of one patient organ request.
type RequestStatus string

const (
	RequestSubmitted      RequestStatus = "submitted"
	RequestScored         RequestStatus = "scored"
	RequestMatchRequested RequestStatus = "match_requested"
	RequestNoMatch        RequestStatus = "no_match"
)

// IsOpen reports whether the request can still be (re-)ranked. NoMatch is
// revisited whenever a new donor is verified.
func (s RequestStatus) IsOpen() bool {
	return s == RequestSubmitted || s == RequestScored || s == RequestNoMatch
}

// DonorRecord is one donor submission for one organ. Owned by the profile
// store; immutable once Donated. A donor may hold one record per organ.
type DonorRecord struct {
	ID         domain.DonationID
	DonorID    domain.DonorID
	Organ      domain.Organ
	BloodGroup domain.BloodGroup
	Lat        float64
	Lon        float64
	Tests      map[string]string
	Status     DonationStatus
	Remarks    string

	SubmittedAt time.Time
	// VerifiedAt is zero until an admin verifies the submission.
	VerifiedAt time.Time
	UpdatedAt  time.Time
}

// BestMatch is the denormalized snapshot of the top-ranked donor for a
// request. It is a derived cache: authoritative truth is always a fresh
// ranking against current verified donors.
type BestMatch struct {
	DonorID    domain.DonorID
	DonationID domain.DonationID
	Score      float64
	ComputedAt time.Time
}

// PatientRequest is one patient's request for one organ. Mutated only by
// the ranker (score snapshot) and the lifecycle manager (status); the
// patient files a new request rather than editing a submitted one.
type PatientRequest struct {
	ID         domain.RequestID
	PatientID  domain.PatientID
	Organ      domain.Organ
	BloodGroup domain.BloodGroup
	Lat        float64
	Lon        float64
	Tests      map[string]string
	Consent    bool
	Status     RequestStatus

	// MatchScore and BestMatch are nil until a ranking has run.
	MatchScore *float64
	BestMatch  *BestMatch
	// ScoringError holds the reason the last scoring attempt failed; the
	// request stays Submitted and is retried on the next ranking trigger.
	ScoringError string

	SubmittedAt time.Time
	UpdatedAt   time.Time
}
