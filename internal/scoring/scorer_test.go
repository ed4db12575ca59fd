package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"organlink/internal/profile"
	"organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testScorer() *Scorer {
	return NewAt(DefaultConfig(), func() time.Time { return testNow })
}

func baseRequest() profile.PatientRequest {
	return profile.PatientRequest{
		ID:         domain.NewRequestID(),
		Organ:      domain.OrganKidney,
		BloodGroup: domain.BloodAPos,
		Lat:        12.9716,
		Lon:        77.5946,
		Tests:      map[string]string{"hla": "a2", "crossmatch": "negative"},
	}
}

func baseDonor() profile.DonorRecord {
	return profile.DonorRecord{
		ID:         domain.NewDonationID(),
		DonorID:    domain.DonorID(domain.NewDonationID()),
		Organ:      domain.OrganKidney,
		BloodGroup: domain.BloodAPos,
		Lat:        12.9716,
		Lon:        77.5946,
		Tests:      map[string]string{"hla": "a2", "crossmatch": "negative"},
		Status:     profile.DonationVerified,
		VerifiedAt: testNow.Add(-24 * time.Hour),
	}
}

func TestScorePerfectDonor(t *testing.T) {
	score, err := testScorer().Score(baseRequest(), baseDonor())
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-9)
}

func TestScorePartialBloodMatch(t *testing.T) {
	donor := baseDonor()
	donor.BloodGroup = domain.BloodOPos

	score, err := testScorer().Score(baseRequest(), donor)
	require.NoError(t, err)
	// 0.40*0.8 + 0.30*1 + 0.15*1 + 0.15*1 with a full weight sum.
	assert.InDelta(t, 0.92, score, 1e-9)
}

func TestScoreRecencyDecay(t *testing.T) {
	donor := baseDonor()
	// Halfway through the decay window: 30d fresh, 365d stale, age 197.5d.
	donor.VerifiedAt = testNow.Add(-197*24*time.Hour - 12*time.Hour)

	score, err := testScorer().Score(baseRequest(), donor)
	require.NoError(t, err)
	// 0.40 + 0.30 + 0.15 + 0.15*0.5
	assert.InDelta(t, 0.925, score, 1e-9)
}

func TestScoreRenormalizesMissingSubScores(t *testing.T) {
	t.Run("request without tests", func(t *testing.T) {
		request := baseRequest()
		request.Tests = nil

		score, err := testScorer().Score(request, baseDonor())
		require.NoError(t, err)
		assert.InDelta(t, 1.0, score, 1e-9, "missing tests must not drag a perfect donor down")
	})

	t.Run("donor never verified", func(t *testing.T) {
		donor := baseDonor()
		donor.VerifiedAt = time.Time{}

		score, err := testScorer().Score(baseRequest(), donor)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, score, 1e-9)
	})
}

func TestScoreDistanceMonotonic(t *testing.T) {
	scorer := testScorer()
	request := baseRequest()

	near := baseDonor()
	far := baseDonor()
	far.Lon = request.Lon + 3 // a few hundred km east

	nearScore, err := scorer.Score(request, near)
	require.NoError(t, err)
	farScore, err := scorer.Score(request, far)
	require.NoError(t, err)
	assert.Greater(t, nearScore, farScore)
}

func TestScoreTestOverlapFraction(t *testing.T) {
	donor := baseDonor()
	donor.Tests = map[string]string{"hla": "a2"}

	score, err := testScorer().Score(baseRequest(), donor)
	require.NoError(t, err)
	// Tests sub-score is 1/2: 0.40 + 0.30 + 0.15*0.5 + 0.15
	assert.InDelta(t, 0.925, score, 1e-9)
}

func TestScoreInputContracts(t *testing.T) {
	scorer := testScorer()

	t.Run("organ mismatch", func(t *testing.T) {
		donor := baseDonor()
		donor.Organ = domain.OrganLiver
		_, err := scorer.Score(baseRequest(), donor)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("incompatible blood", func(t *testing.T) {
		donor := baseDonor()
		donor.BloodGroup = domain.BloodABPos
		_, err := scorer.Score(baseRequest(), donor)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("coordinates out of range", func(t *testing.T) {
		donor := baseDonor()
		donor.Lat = 123
		_, err := scorer.Score(baseRequest(), donor)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestLessOrdering(t *testing.T) {
	older := baseDonor()
	older.VerifiedAt = testNow.Add(-48 * time.Hour)
	newer := baseDonor()
	newer.VerifiedAt = testNow.Add(-24 * time.Hour)

	t.Run("higher score wins", func(t *testing.T) {
		assert.True(t, Less(0.9, 0.8, older, newer))
		assert.False(t, Less(0.8, 0.9, newer, older))
	})

	t.Run("score tie falls back to recency", func(t *testing.T) {
		assert.True(t, Less(0.9, 0.9, newer, older))
		assert.False(t, Less(0.9, 0.9, older, newer))
	})

	t.Run("full tie falls back to donor ID", func(t *testing.T) {
		a := baseDonor()
		b := baseDonor()
		b.VerifiedAt = a.VerifiedAt
		if a.DonorID.String() > b.DonorID.String() {
			a, b = b, a
		}
		assert.True(t, Less(0.9, 0.9, a, b))
		assert.False(t, Less(0.9, 0.9, b, a))
	})
}
