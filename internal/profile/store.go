package profile

import (
	"context"
	"time"

	"organlink/pkg/domain"
)

// Stores are interface-driven so the engine can run against in-memory
// implementations in tests and PostgreSQL in deployment. Stores are pure
// I/O; state-machine rules live in the services. Conditional updates return
// sentinel.ErrInvalidState when the current state does not match, which is
// what makes service-level transitions race-safe.

type DonorStore interface {
	Save(ctx context.Context, record DonorRecord) error
	FindByID(ctx context.Context, id domain.DonationID) (DonorRecord, error)
	FindByDonorAndOrgan(ctx context.Context, donorID domain.DonorID, organ domain.Organ) (DonorRecord, error)
	ListByOrganAndStatus(ctx context.Context, organ domain.Organ, status DonationStatus) ([]DonorRecord, error)
	ListByStatus(ctx context.Context, status DonationStatus) ([]DonorRecord, error)
	// UpdateStatus transitions a record from one status to another,
	// failing with sentinel.ErrInvalidState when the stored status is not
	// `from`. verifiedAt is recorded when `to` is DonationVerified.
	UpdateStatus(ctx context.Context, id domain.DonationID, from, to DonationStatus, remarks string, verifiedAt time.Time) (DonorRecord, error)
}

type PatientStore interface {
	Save(ctx context.Context, request PatientRequest) error
	FindByID(ctx context.Context, id domain.RequestID) (PatientRequest, error)
	// FindOpenByPatientAndOrgan returns the patient's open request for the
	// organ, or sentinel.ErrNotFound. Backs idempotent resubmission.
	FindOpenByPatientAndOrgan(ctx context.Context, patientID domain.PatientID, organ domain.Organ) (PatientRequest, error)
	ListOpenByOrgan(ctx context.Context, organ domain.Organ) ([]PatientRequest, error)
	// UpdateScore writes the score snapshot, status, and clears any
	// scoring error in a single step; the request must currently be in one
	// of `from`. score and best are nil together for an empty ranking.
	UpdateScore(ctx context.Context, id domain.RequestID, score *float64, best *BestMatch, to RequestStatus, from ...RequestStatus) error
	// SetScoringError records the failure reason without changing status.
	SetScoringError(ctx context.Context, id domain.RequestID, reason string) error
	// UpdateStatus transitions the request when its current status is one
	// of `from`; sentinel.ErrInvalidState otherwise.
	UpdateStatus(ctx context.Context, id domain.RequestID, to RequestStatus, from ...RequestStatus) error
}
