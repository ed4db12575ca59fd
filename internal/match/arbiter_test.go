package match

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"organlink/internal/events"
	"organlink/internal/identity"
	"organlink/internal/platform/keylock"
	"organlink/internal/profile"
	"organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type ArbiterSuite struct {
	suite.Suite
	ctx      context.Context
	matches  *InMemoryStore
	donors   *profile.InMemoryDonorStore
	patients *profile.InMemoryPatientStore
	sink     *events.MemorySink
	arbiter  *Arbiter

	admin identity.Identity
}

func TestArbiterSuite(t *testing.T) {
	suite.Run(t, new(ArbiterSuite))
}

func (s *ArbiterSuite) SetupTest() {
	s.ctx = context.Background()
	s.matches = NewInMemoryStore()
	s.donors = profile.NewInMemoryDonorStore()
	s.patients = profile.NewInMemoryPatientStore()
	s.sink = events.NewMemorySink()

	arbiter, err := NewArbiter(s.matches, s.donors, s.patients,
		NewInMemoryTxRunner(), keylock.NewInProcess(),
		WithPublisher(events.NewSinkPublisher(s.sink)),
	)
	s.Require().NoError(err)
	s.arbiter = arbiter

	s.admin = identity.Identity{Subject: uuid.New(), Role: identity.RoleAdmin}
}

func (s *ArbiterSuite) addVerifiedDonation(blood domain.BloodGroup) profile.DonorRecord {
	record := profile.DonorRecord{
		ID:          domain.NewDonationID(),
		DonorID:     domain.DonorID(uuid.New()),
		Organ:       domain.OrganKidney,
		BloodGroup:  blood,
		Lat:         12.9716,
		Lon:         77.5946,
		Status:      profile.DonationVerified,
		SubmittedAt: testNow.Add(-72 * time.Hour),
		VerifiedAt:  testNow.Add(-24 * time.Hour),
		UpdatedAt:   testNow,
	}
	s.Require().NoError(s.donors.Save(s.ctx, record))
	return record
}

func (s *ArbiterSuite) addScoredRequest(blood domain.BloodGroup, best profile.DonorRecord) profile.PatientRequest {
	request := profile.PatientRequest{
		ID:          domain.NewRequestID(),
		PatientID:   domain.PatientID(uuid.New()),
		Organ:       domain.OrganKidney,
		BloodGroup:  blood,
		Lat:         12.9716,
		Lon:         77.5946,
		Consent:     true,
		Status:      profile.RequestSubmitted,
		SubmittedAt: testNow,
		UpdatedAt:   testNow,
	}
	s.Require().NoError(s.patients.Save(s.ctx, request))

	score := 0.9
	snapshot := &profile.BestMatch{
		DonorID:    best.DonorID,
		DonationID: best.ID,
		Score:      score,
		ComputedAt: testNow,
	}
	s.Require().NoError(s.patients.UpdateScore(s.ctx, request.ID, &score, snapshot,
		profile.RequestScored, profile.RequestSubmitted))

	stored, err := s.patients.FindByID(s.ctx, request.ID)
	s.Require().NoError(err)
	return stored
}

func (s *ArbiterSuite) patientFor(request profile.PatientRequest) identity.Identity {
	return identity.Identity{Subject: uuid.UUID(request.PatientID), Role: identity.RolePatient}
}

func (s *ArbiterSuite) createMatch(request profile.PatientRequest, donation profile.DonorRecord) Match {
	m, err := s.arbiter.CreateMatch(s.ctx, s.patientFor(request), request.ID, donation.ID)
	s.Require().NoError(err)
	return m
}

func (s *ArbiterSuite) TestCreateMatchHappyPath() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)

	m := s.createMatch(request, donation)
	s.Equal(StatusPending, m.Status)
	s.Equal(donation.DonorID, m.DonorID)
	s.Equal(request.PatientID, m.PatientID)

	stored, err := s.patients.FindByID(s.ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(profile.RequestMatchRequested, stored.Status)

	recorded := s.sink.Events()
	s.Require().Len(recorded, 1)
	s.Equal(events.TypeMatchCreated, recorded[0].Type)
}

func (s *ArbiterSuite) TestCreateMatchDefaultsToBestDonor() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)

	m, err := s.arbiter.CreateMatch(s.ctx, s.patientFor(request), request.ID, domain.DonationID{})
	s.Require().NoError(err)
	s.Equal(donation.ID, m.DonationID)
}

func (s *ArbiterSuite) TestCreateMatchIsIdempotent() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)

	first := s.createMatch(request, donation)
	second, err := s.arbiter.CreateMatch(s.ctx, s.patientFor(request), request.ID, donation.ID)
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
}

func (s *ArbiterSuite) TestCreateMatchRejectsForeignPatient() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)

	stranger := identity.Identity{Subject: uuid.New(), Role: identity.RolePatient}
	_, err := s.arbiter.CreateMatch(s.ctx, stranger, request.ID, donation.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ArbiterSuite) TestCreateMatchRequiresVerifiedDonation() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)

	_, err := s.donors.UpdateStatus(s.ctx, donation.ID, profile.DonationVerified, profile.DonationDonated, "", time.Time{})
	s.Require().NoError(err)

	_, err = s.arbiter.CreateMatch(s.ctx, s.patientFor(request), request.ID, donation.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ArbiterSuite) TestCreateMatchRejectsIncompatibleBlood() {
	donation := s.addVerifiedDonation(domain.BloodABPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)

	_, err := s.arbiter.CreateMatch(s.ctx, s.patientFor(request), request.ID, donation.ID)
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ArbiterSuite) TestApproveHappyPath() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)
	m := s.createMatch(request, donation)

	approved, err := s.arbiter.Approve(s.ctx, s.admin, m.ID, "cleared by board")
	s.Require().NoError(err)
	s.Equal(StatusApproved, approved.Status)
	s.Equal("cleared by board", approved.Remarks)

	stored, err := s.patients.FindByID(s.ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(profile.RequestMatchRequested, stored.Status, "the winning request stays confirmed")
}

func (s *ArbiterSuite) TestApproveRequiresAdmin() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)
	m := s.createMatch(request, donation)

	_, err := s.arbiter.Approve(s.ctx, s.patientFor(request), m.ID, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ArbiterSuite) TestApproveIsIdempotent() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)
	m := s.createMatch(request, donation)

	first, err := s.arbiter.Approve(s.ctx, s.admin, m.ID, "")
	s.Require().NoError(err)
	second, err := s.arbiter.Approve(s.ctx, s.admin, m.ID, "")
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)
	s.Equal(StatusApproved, second.Status)

	// The no-op repeat announces nothing.
	var approvals int
	for _, event := range s.sink.Events() {
		if event.Type == events.TypeMatchApproved {
			approvals++
		}
	}
	s.Equal(1, approvals)
}

func (s *ArbiterSuite) TestRejectIsIdempotent() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)
	m := s.createMatch(request, donation)

	_, err := s.arbiter.Reject(s.ctx, s.admin, m.ID, "not suitable")
	s.Require().NoError(err)
	repeat, err := s.arbiter.Reject(s.ctx, s.admin, m.ID, "not suitable")
	s.Require().NoError(err)
	s.Equal(StatusRejected, repeat.Status)

	var rejections int
	for _, event := range s.sink.Events() {
		if event.Type == events.TypeMatchRejected {
			rejections++
		}
	}
	s.Equal(1, rejections)
}

func (s *ArbiterSuite) TestApproveAutoRejectsCompetingMatches() {
	donation := s.addVerifiedDonation(domain.BloodONeg)
	winner := s.addScoredRequest(domain.BloodAPos, donation)
	loserA := s.addScoredRequest(domain.BloodBPos, donation)
	loserB := s.addScoredRequest(domain.BloodABPos, donation)

	winnerMatch := s.createMatch(winner, donation)
	loserMatchA := s.createMatch(loserA, donation)
	loserMatchB := s.createMatch(loserB, donation)

	_, err := s.arbiter.Approve(s.ctx, s.admin, winnerMatch.ID, "")
	s.Require().NoError(err)

	for _, loserID := range []domain.MatchID{loserMatchA.ID, loserMatchB.ID} {
		m, err := s.matches.FindByID(s.ctx, loserID)
		s.Require().NoError(err)
		s.Equal(StatusRejected, m.Status)
	}
	for _, requestID := range []domain.RequestID{loserA.ID, loserB.ID} {
		request, err := s.patients.FindByID(s.ctx, requestID)
		s.Require().NoError(err)
		s.Equal(profile.RequestScored, request.Status, "losing requests return to the scored pool")
	}

	var rejections int
	for _, event := range s.sink.Events() {
		if event.Type == events.TypeMatchRejected {
			rejections++
		}
	}
	s.Equal(2, rejections)
}

func (s *ArbiterSuite) TestSecondApprovalForDonorConflicts() {
	donation := s.addVerifiedDonation(domain.BloodONeg)
	first := s.addScoredRequest(domain.BloodAPos, donation)
	second := s.addScoredRequest(domain.BloodBPos, donation)

	firstMatch := s.createMatch(first, donation)
	secondMatch := s.createMatch(second, donation)

	_, err := s.arbiter.Approve(s.ctx, s.admin, firstMatch.ID, "")
	s.Require().NoError(err)

	_, err = s.arbiter.Approve(s.ctx, s.admin, secondMatch.ID, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ArbiterSuite) TestConcurrentApprovalsExactlyOneWins() {
	const competitors = 8
	donation := s.addVerifiedDonation(domain.BloodONeg)

	matchIDs := make([]domain.MatchID, 0, competitors)
	for range competitors {
		request := s.addScoredRequest(domain.BloodABPos, donation)
		matchIDs = append(matchIDs, s.createMatch(request, donation).ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for _, id := range matchIDs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.arbiter.Approve(s.ctx, s.admin, id, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts++
			default:
				s.Failf("unexpected approval error", "%v", err)
			}
		}()
	}
	wg.Wait()

	s.Equal(1, succeeded, "exactly one approval may win")
	s.Equal(competitors-1, conflicts)

	approved, err := s.matches.ListApprovedByOrgan(s.ctx, domain.OrganKidney)
	s.Require().NoError(err)
	s.Require().Len(approved, 1)
	s.Equal(donation.DonorID, approved[0].DonorID)
}

func (s *ArbiterSuite) TestRejectReleasesRequest() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)
	m := s.createMatch(request, donation)

	rejected, err := s.arbiter.Reject(s.ctx, s.admin, m.ID, "donor withdrew")
	s.Require().NoError(err)
	s.Equal(StatusRejected, rejected.Status)

	stored, err := s.patients.FindByID(s.ctx, request.ID)
	s.Require().NoError(err)
	s.Equal(profile.RequestScored, stored.Status)
}

func (s *ArbiterSuite) TestRejectedMatchAllowsNewMatchForSameRequest() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	other := s.addVerifiedDonation(domain.BloodONeg)
	request := s.addScoredRequest(domain.BloodAPos, donation)

	m := s.createMatch(request, donation)
	_, err := s.arbiter.Reject(s.ctx, s.admin, m.ID, "")
	s.Require().NoError(err)

	fresh, err := s.arbiter.CreateMatch(s.ctx, s.patientFor(request), request.ID, other.ID)
	s.Require().NoError(err)
	s.NotEqual(m.ID, fresh.ID)
	s.Equal(StatusPending, fresh.Status)
}

func (s *ArbiterSuite) TestApproveRejectedMatchConflicts() {
	donation := s.addVerifiedDonation(domain.BloodOPos)
	request := s.addScoredRequest(domain.BloodAPos, donation)
	m := s.createMatch(request, donation)

	_, err := s.arbiter.Reject(s.ctx, s.admin, m.ID, "")
	s.Require().NoError(err)

	_, err = s.arbiter.Approve(s.ctx, s.admin, m.ID, "")
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ArbiterSuite) TestGetMatchNotFound() {
	_, err := s.arbiter.GetMatch(s.ctx, domain.NewMatchID())
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
