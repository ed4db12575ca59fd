package profile

import (
	"context"
	"errors"
	"time"

	"organlink/pkg/domain"
	"organlink/pkg/platform/sentinel"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 100 * time.Millisecond
)

// RetryingDonorStore wraps a DonorStore and retries read operations that
// fail with a transient store fault. Retrying lives at this call boundary
// on purpose: the scorer and ranker never retry internally. Writes are not
// retried; a replayed write after an ambiguous failure could double-apply.
type RetryingDonorStore struct {
	DonorStore
	attempts int
	backoff  time.Duration
}

func NewRetryingDonorStore(inner DonorStore) *RetryingDonorStore {
	return &RetryingDonorStore{
		DonorStore: inner,
		attempts:   defaultRetryAttempts,
		backoff:    defaultRetryBackoff,
	}
}

func (s *RetryingDonorStore) FindByID(ctx context.Context, id domain.DonationID) (DonorRecord, error) {
	var record DonorRecord
	err := retry(ctx, s.attempts, s.backoff, func() error {
		var err error
		record, err = s.DonorStore.FindByID(ctx, id)
		return err
	})
	return record, err
}

func (s *RetryingDonorStore) FindByDonorAndOrgan(ctx context.Context, donorID domain.DonorID, organ domain.Organ) (DonorRecord, error) {
	var record DonorRecord
	err := retry(ctx, s.attempts, s.backoff, func() error {
		var err error
		record, err = s.DonorStore.FindByDonorAndOrgan(ctx, donorID, organ)
		return err
	})
	return record, err
}

func (s *RetryingDonorStore) ListByOrganAndStatus(ctx context.Context, organ domain.Organ, status DonationStatus) ([]DonorRecord, error) {
	var records []DonorRecord
	err := retry(ctx, s.attempts, s.backoff, func() error {
		var err error
		records, err = s.DonorStore.ListByOrganAndStatus(ctx, organ, status)
		return err
	})
	return records, err
}

// retry runs fn up to attempts times, backing off between tries. Only
// transient faults are retried; domain facts (not found, conflict) and
// context cancellation surface immediately.
func retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = fn()
		if err == nil || !errors.Is(err, sentinel.ErrUnavailable) {
			return err
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff * time.Duration(i+1)):
			}
		}
	}
	return err
}
