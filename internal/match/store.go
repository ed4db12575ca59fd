package match

import (
	"context"

	"organlink/pkg/domain"
)

// Store persists matches. Pure I/O; the arbiter owns the rules. Matches
// are never deleted: terminal rows stay for audit.
type Store interface {
	Create(ctx context.Context, m Match) error
	FindByID(ctx context.Context, id domain.MatchID) (Match, error)
	// FindApproved returns the approved match for a (donor, organ) key or
	// sentinel.ErrNotFound. The uniqueness of that row is the arbiter's
	// core invariant, backed in PostgreSQL by a partial unique index.
	FindApproved(ctx context.Context, donorID domain.DonorID, organ domain.Organ) (Match, error)
	ListPendingByDonorAndOrgan(ctx context.Context, donorID domain.DonorID, organ domain.Organ) ([]Match, error)
	// FindPendingByRequestAndDonor backs idempotent match requests.
	FindPendingByRequestAndDonor(ctx context.Context, requestID domain.RequestID, donorID domain.DonorID) (Match, error)
	ListApprovedByOrgan(ctx context.Context, organ domain.Organ) ([]Match, error)
	// UpdateStatus transitions a match from one status to another, failing
	// with sentinel.ErrInvalidState when the stored status is not `from`.
	UpdateStatus(ctx context.Context, id domain.MatchID, from, to Status, remarks string) (Match, error)
}

// TxRunner runs fn atomically. The PostgreSQL implementation wraps a SQL
// transaction carried in context; the in-memory one serializes callers.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
