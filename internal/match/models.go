package match

import (
	"time"

	"organlink/pkg/domain"
)

// Status is the lifecycle of one Match. Both approved and rejected are
// terminal for the instance; rejected matches are retained for audit and a
// patient may file a fresh match request afterwards.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Match links exactly one donor and one patient for exactly one organ.
type Match struct {
	ID domain.MatchID

	DonorID    domain.DonorID
	DonationID domain.DonationID
	PatientID  domain.PatientID
	RequestID  domain.RequestID
	Organ      domain.Organ

	Status  Status
	Remarks string

	CreatedAt time.Time
	UpdatedAt time.Time
}
