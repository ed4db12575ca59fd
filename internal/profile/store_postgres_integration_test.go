//go:build integration

package profile_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"organlink/internal/profile"
	"organlink/pkg/domain"
	"organlink/pkg/platform/sentinel"
	"organlink/pkg/testutil/containers"
)

type PostgresProfileSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	donors   *profile.PostgresDonorStore
	patients *profile.PostgresPatientStore
}

func TestPostgresProfileSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresProfileSuite))
}

func (s *PostgresProfileSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(s.postgres.ApplySchema(context.Background(), profile.Schema))
	s.donors = profile.NewPostgresDonorStore(s.postgres.DB)
	s.patients = profile.NewPostgresPatientStore(s.postgres.DB)
}

func (s *PostgresProfileSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "donor_records", "patient_requests"))
}

func (s *PostgresProfileSuite) newDonorRecord() profile.DonorRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return profile.DonorRecord{
		ID:          domain.NewDonationID(),
		DonorID:     domain.DonorID(uuid.New()),
		Organ:       domain.OrganKidney,
		BloodGroup:  domain.BloodOPos,
		Lat:         12.9716,
		Lon:         77.5946,
		Tests:       map[string]string{"hla": "a2"},
		Status:      profile.DonationPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
}

func (s *PostgresProfileSuite) TestDonorSaveAndFindRoundTrip() {
	ctx := context.Background()
	record := s.newDonorRecord()
	s.Require().NoError(s.donors.Save(ctx, record))

	found, err := s.donors.FindByID(ctx, record.ID)
	s.Require().NoError(err)
	s.Equal(record.DonorID, found.DonorID)
	s.Equal(record.BloodGroup, found.BloodGroup)
	s.Equal(record.Tests, found.Tests)
	s.Equal(profile.DonationPending, found.Status)

	byKey, err := s.donors.FindByDonorAndOrgan(ctx, record.DonorID, record.Organ)
	s.Require().NoError(err)
	s.Equal(record.ID, byKey.ID)
}

func (s *PostgresProfileSuite) TestDonorDuplicateKeyConflicts() {
	ctx := context.Background()
	record := s.newDonorRecord()
	s.Require().NoError(s.donors.Save(ctx, record))

	dup := s.newDonorRecord()
	dup.DonorID = record.DonorID
	err := s.donors.Save(ctx, dup)
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresProfileSuite) TestDonorUpdateStatusIsConditional() {
	ctx := context.Background()
	record := s.newDonorRecord()
	s.Require().NoError(s.donors.Save(ctx, record))

	verified, err := s.donors.UpdateStatus(ctx, record.ID,
		profile.DonationPending, profile.DonationVerified, "clear", time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(profile.DonationVerified, verified.Status)
	s.False(verified.VerifiedAt.IsZero())

	// Same transition again: stored state no longer matches.
	_, err = s.donors.UpdateStatus(ctx, record.ID,
		profile.DonationPending, profile.DonationVerified, "", time.Now().UTC())
	s.ErrorIs(err, sentinel.ErrInvalidState)

	_, err = s.donors.UpdateStatus(ctx, domain.NewDonationID(),
		profile.DonationPending, profile.DonationVerified, "", time.Now().UTC())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresProfileSuite) TestPatientScoreSnapshotRoundTrip() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	request := profile.PatientRequest{
		ID:          domain.NewRequestID(),
		PatientID:   domain.PatientID(uuid.New()),
		Organ:       domain.OrganKidney,
		BloodGroup:  domain.BloodAPos,
		Lat:         12.9716,
		Lon:         77.5946,
		Consent:     true,
		Status:      profile.RequestSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	s.Require().NoError(s.patients.Save(ctx, request))

	score := 0.87
	best := &profile.BestMatch{
		DonorID:    domain.DonorID(uuid.New()),
		DonationID: domain.NewDonationID(),
		Score:      score,
		ComputedAt: now,
	}
	s.Require().NoError(s.patients.UpdateScore(ctx, request.ID, &score, best,
		profile.RequestScored, profile.RequestSubmitted, profile.RequestScored, profile.RequestNoMatch))

	stored, err := s.patients.FindByID(ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(profile.RequestScored, stored.Status)
	s.Require().NotNil(stored.MatchScore)
	s.InDelta(score, *stored.MatchScore, 1e-9)
	s.Require().NotNil(stored.BestMatch)
	s.Equal(best.DonorID, stored.BestMatch.DonorID)
}

func (s *PostgresProfileSuite) TestPatientScoreWriteSkipsConfirmedRequests() {
	ctx := context.Background()
	now := time.Now().UTC()
	request := profile.PatientRequest{
		ID:          domain.NewRequestID(),
		PatientID:   domain.PatientID(uuid.New()),
		Organ:       domain.OrganKidney,
		BloodGroup:  domain.BloodAPos,
		Consent:     true,
		Status:      profile.RequestSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	s.Require().NoError(s.patients.Save(ctx, request))
	s.Require().NoError(s.patients.UpdateStatus(ctx, request.ID,
		profile.RequestMatchRequested, profile.RequestSubmitted))

	score := 0.5
	err := s.patients.UpdateScore(ctx, request.ID, &score, nil,
		profile.RequestScored, profile.RequestSubmitted, profile.RequestScored, profile.RequestNoMatch)
	s.ErrorIs(err, sentinel.ErrInvalidState, "a confirmed request never loses its snapshot to a late ranking")
}
