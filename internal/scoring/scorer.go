// Package scoring computes the compatibility score between one patient
// request and one donor record. The scorer is pure: same inputs and clock
// reading always produce the same score.
package scoring

import (
	"fmt"
	"math"
	"time"

	"organlink/internal/profile"
	dErrors "organlink/pkg/domain-errors"
)

// Config holds the constants of the compatibility formula. The weights are
// a deployment decision; these defaults are the documented reference
// values, and the scorer renormalizes over whichever sub-scores have valid
// data so missing fields degrade the score gracefully instead of zeroing it.
type Config struct {
	BloodWeight   float64
	DistWeight    float64
	TestsWeight   float64
	RecencyWeight float64

	// PartialBloodScore is awarded to medically compatible but
	// non-identical groups (e.g. an O donor for an A recipient).
	PartialBloodScore float64

	// Distance scores 1.0 within NearRadiusKM and decays linearly to 0 at
	// MaxDistanceKM.
	NearRadiusKM  float64
	MaxDistanceKM float64

	// Verification recency scores 1.0 within FreshWindow and decays
	// linearly to 0 at StaleWindow, so stale medical data ranks lower.
	FreshWindow time.Duration
	StaleWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		BloodWeight:       0.40,
		DistWeight:        0.30,
		TestsWeight:       0.15,
		RecencyWeight:     0.15,
		PartialBloodScore: 0.8,
		NearRadiusKM:      25,
		MaxDistanceKM:     500,
		FreshWindow:       30 * 24 * time.Hour,
		StaleWindow:       365 * 24 * time.Hour,
	}
}

// Scorer evaluates one (request, donor) pair. It assumes the caller has
// already filtered donors by organ and blood compatibility; both are still
// validated as input contracts.
type Scorer struct {
	config Config
	// now is injectable for deterministic tests.
	now func() time.Time
}

func New(config Config) *Scorer {
	return &Scorer{config: config, now: time.Now}
}

// NewAt pins the scorer's clock. Rankings recomputed at the same instant
// against the same donor pool are byte-identical.
func NewAt(config Config, now func() time.Time) *Scorer {
	return &Scorer{config: config, now: now}
}

// Score returns the compatibility score in [0,1]. Mismatched organs,
// incompatible blood groups, and malformed coordinates are input-contract
// violations, not scoring outcomes.
func (s *Scorer) Score(request profile.PatientRequest, donor profile.DonorRecord) (float64, error) {
	if request.Organ != donor.Organ {
		return 0, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("organ mismatch: request %s vs donor %s", request.Organ, donor.Organ))
	}
	if !donor.BloodGroup.CanDonateTo(request.BloodGroup) {
		return 0, dErrors.New(dErrors.CodeInvalidInput,
			fmt.Sprintf("incompatible blood groups: donor %s to recipient %s", donor.BloodGroup, request.BloodGroup))
	}
	if err := validateCoordinates(request.Lat, request.Lon); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "request coordinates")
	}
	if err := validateCoordinates(donor.Lat, donor.Lon); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInvalidInput, "donor coordinates")
	}

	type sub struct {
		weight float64
		value  float64
		valid  bool
	}

	blood := sub{weight: s.config.BloodWeight, valid: true}
	if donor.BloodGroup == request.BloodGroup {
		blood.value = 1.0
	} else {
		blood.value = s.config.PartialBloodScore
	}

	dist := sub{
		weight: s.config.DistWeight,
		value:  s.distanceScore(haversineKM(request.Lat, request.Lon, donor.Lat, donor.Lon)),
		valid:  true,
	}

	tests := sub{weight: s.config.TestsWeight}
	if len(request.Tests) > 0 {
		tests.valid = true
		tests.value = testOverlap(request.Tests, donor.Tests)
	}

	recency := sub{weight: s.config.RecencyWeight}
	if !donor.VerifiedAt.IsZero() {
		recency.valid = true
		recency.value = s.recencyScore(s.now().Sub(donor.VerifiedAt))
	}

	var weighted, totalWeight float64
	for _, part := range []sub{blood, dist, tests, recency} {
		if !part.valid {
			continue
		}
		weighted += part.weight * part.value
		totalWeight += part.weight
	}
	if totalWeight == 0 {
		return 0, nil
	}
	return clamp01(weighted / totalWeight), nil
}

// distanceScore saturates at 1.0 inside the near radius and decays
// linearly to 0 at the maximum distance. Monotonically non-increasing in
// distance, so a closer donor never scores lower than a farther one.
func (s *Scorer) distanceScore(km float64) float64 {
	switch {
	case km <= s.config.NearRadiusKM:
		return 1.0
	case km >= s.config.MaxDistanceKM:
		return 0.0
	default:
		return 1.0 - (km-s.config.NearRadiusKM)/(s.config.MaxDistanceKM-s.config.NearRadiusKM)
	}
}

func (s *Scorer) recencyScore(age time.Duration) float64 {
	switch {
	case age <= s.config.FreshWindow:
		return 1.0
	case age >= s.config.StaleWindow:
		return 0.0
	default:
		return 1.0 - float64(age-s.config.FreshWindow)/float64(s.config.StaleWindow-s.config.FreshWindow)
	}
}

// testOverlap rewards data completeness: the fraction of patient-supplied
// test labels present on the donor. Clinical equivalence of the values is
// out of scope.
func testOverlap(patientTests, donorTests map[string]string) float64 {
	if len(patientTests) == 0 {
		return 0
	}
	var present int
	for label := range patientTests {
		if _, ok := donorTests[label]; ok {
			present++
		}
	}
	return float64(present) / float64(len(patientTests))
}

const earthRadiusKM = 6371.0

// haversineKM is the great-circle distance between two coordinates.
func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func validateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return fmt.Errorf("coordinates out of range: lat=%v lon=%v", lat, lon)
	}
	return nil
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// scoreTolerance bounds floating-point ties; within it, ordering falls back
// to verification recency and then donor ID.
const scoreTolerance = 1e-9

// Less is the ranking order: higher score first, then more recently
// verified, then lexicographically smaller donor ID for determinism.
func Less(scoreI, scoreJ float64, donorI, donorJ profile.DonorRecord) bool {
	if math.Abs(scoreI-scoreJ) > scoreTolerance {
		return scoreI > scoreJ
	}
	if !donorI.VerifiedAt.Equal(donorJ.VerifiedAt) {
		return donorI.VerifiedAt.After(donorJ.VerifiedAt)
	}
	return donorI.DonorID.String() < donorJ.DonorID.String()
}
