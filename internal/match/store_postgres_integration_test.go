//go:build integration

package match_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"organlink/internal/match"
	platformpg "organlink/internal/platform/postgres"
	"organlink/pkg/domain"
	"organlink/pkg/platform/sentinel"
	"organlink/pkg/testutil/containers"
)

type PostgresMatchSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *match.PostgresStore
	tx       *platformpg.TxRunner
}

func TestPostgresMatchSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresMatchSuite))
}

func (s *PostgresMatchSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(s.postgres.ApplySchema(context.Background(), match.Schema))
	s.store = match.NewPostgresStore(s.postgres.DB)
	s.tx = platformpg.NewTxRunner(s.postgres.DB)
}

func (s *PostgresMatchSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "matches"))
}

func newPendingMatch(donorID domain.DonorID) match.Match {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return match.Match{
		ID:         domain.NewMatchID(),
		DonorID:    donorID,
		DonationID: domain.NewDonationID(),
		PatientID:  domain.PatientID(uuid.New()),
		RequestID:  domain.NewRequestID(),
		Organ:      domain.OrganKidney,
		Status:     match.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *PostgresMatchSuite) TestCreateAndFindRoundTrip() {
	ctx := context.Background()
	m := newPendingMatch(domain.DonorID(uuid.New()))
	s.Require().NoError(s.store.Create(ctx, m))

	found, err := s.store.FindByID(ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(m.DonorID, found.DonorID)
	s.Equal(match.StatusPending, found.Status)

	pending, err := s.store.FindPendingByRequestAndDonor(ctx, m.RequestID, m.DonorID)
	s.Require().NoError(err)
	s.Equal(m.ID, pending.ID)
}

// TestPartialIndexAllowsOneApprovedPerDonorOrgan drives the uniqueness
// invariant at the database level, below any application locking.
func (s *PostgresMatchSuite) TestPartialIndexAllowsOneApprovedPerDonorOrgan() {
	ctx := context.Background()
	donorID := domain.DonorID(uuid.New())

	const competitors = 20
	ids := make([]domain.MatchID, 0, competitors)
	for i := 0; i < competitors; i++ {
		m := newPendingMatch(donorID)
		s.Require().NoError(s.store.Create(ctx, m))
		ids = append(ids, m.ID)
	}

	var wg sync.WaitGroup
	var approvals, conflicts atomic.Int32
	for _, id := range ids {
		wg.Add(1)
		go func(id domain.MatchID) {
			defer wg.Done()
			_, err := s.store.UpdateStatus(ctx, id, match.StatusPending, match.StatusApproved, "")
			switch {
			case err == nil:
				approvals.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}(id)
	}
	wg.Wait()

	s.Equal(int32(1), approvals.Load(), "the partial unique index admits exactly one approved row")
	s.Equal(int32(competitors-1), conflicts.Load())

	approved, err := s.store.ListApprovedByOrgan(ctx, domain.OrganKidney)
	s.Require().NoError(err)
	s.Len(approved, 1)
}

func (s *PostgresMatchSuite) TestRejectedRowsAreRetained() {
	ctx := context.Background()
	m := newPendingMatch(domain.DonorID(uuid.New()))
	s.Require().NoError(s.store.Create(ctx, m))

	rejected, err := s.store.UpdateStatus(ctx, m.ID, match.StatusPending, match.StatusRejected, "withdrawn")
	s.Require().NoError(err)
	s.Equal("withdrawn", rejected.Remarks)

	found, err := s.store.FindByID(ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(match.StatusRejected, found.Status)
}

func (s *PostgresMatchSuite) TestTxRunnerRollsBackOnError() {
	ctx := context.Background()
	m := newPendingMatch(domain.DonorID(uuid.New()))

	txErr := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Create(ctx, m); err != nil {
			return err
		}
		return errors.New("boom")
	})
	s.Require().Error(txErr)

	_, err := s.store.FindByID(ctx, m.ID)
	s.ErrorIs(err, sentinel.ErrNotFound, "failed transactions leave no partial state")
}

func (s *PostgresMatchSuite) TestTxRunnerCommits() {
	ctx := context.Background()
	m := newPendingMatch(domain.DonorID(uuid.New()))

	s.Require().NoError(s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.Create(ctx, m)
	}))

	found, err := s.store.FindByID(ctx, m.ID)
	s.Require().NoError(err)
	s.Equal(m.ID, found.ID)
}
