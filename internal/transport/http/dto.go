package httptransport

import (
	"time"

	"github.com/asaskevich/govalidator"

	"organlink/internal/match"
	"organlink/internal/profile"
	"organlink/internal/ranking"
	dErrors "organlink/pkg/domain-errors"
)

// Inbound DTOs are validated with govalidator struct tags before any
// identifier parsing or domain logic runs.

type submitDonationRequest struct {
	DonorID    string            `json:"donor_id" valid:"-"`
	Organ      string            `json:"organ" valid:"required"`
	BloodGroup string            `json:"blood_group" valid:"required"`
	Lat        float64           `json:"lat" valid:"-"`
	Lon        float64           `json:"lon" valid:"-"`
	Tests      map[string]string `json:"tests" valid:"-"`
}

func (r *submitDonationRequest) validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	return validateCoordinates(r.Lat, r.Lon)
}

type submitPatientRequest struct {
	PatientID  string            `json:"patient_id" valid:"-"`
	Organ      string            `json:"organ" valid:"required"`
	BloodGroup string            `json:"blood_group" valid:"required"`
	Lat        float64           `json:"lat" valid:"-"`
	Lon        float64           `json:"lon" valid:"-"`
	Tests      map[string]string `json:"tests" valid:"-"`
	Consent    bool              `json:"consent" valid:"-"`
}

func (r *submitPatientRequest) validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	return validateCoordinates(r.Lat, r.Lon)
}

type donationStatusRequest struct {
	Status  string `json:"status" valid:"required,in(verified|rejected|donated)"`
	Remarks string `json:"remarks" valid:"-"`
}

type createMatchRequest struct {
	DonationID string `json:"donation_id" valid:"-"`
}

type matchDecisionRequest struct {
	Remarks string `json:"remarks" valid:"-"`
}

func validateStruct(s any) error {
	if ok, err := govalidator.ValidateStruct(s); !ok {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid request body")
	}
	return nil
}

// govalidator's range validator takes string parameters only, so coordinate
// bounds are checked in code.
func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return dErrors.New(dErrors.CodeInvalidInput, "lat must be within [-90, 90]")
	}
	if lon < -180 || lon > 180 {
		return dErrors.New(dErrors.CodeInvalidInput, "lon must be within [-180, 180]")
	}
	return nil
}

type donationResponse struct {
	ID          string            `json:"id"`
	DonorID     string            `json:"donor_id"`
	Organ       string            `json:"organ"`
	BloodGroup  string            `json:"blood_group"`
	Lat         float64           `json:"lat"`
	Lon         float64           `json:"lon"`
	Tests       map[string]string `json:"tests,omitempty"`
	Status      string            `json:"status"`
	Remarks     string            `json:"remarks,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
	VerifiedAt  *time.Time        `json:"verified_at,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toDonationResponse(record profile.DonorRecord) donationResponse {
	resp := donationResponse{
		ID:          record.ID.String(),
		DonorID:     record.DonorID.String(),
		Organ:       record.Organ.String(),
		BloodGroup:  record.BloodGroup.String(),
		Lat:         record.Lat,
		Lon:         record.Lon,
		Tests:       record.Tests,
		Status:      string(record.Status),
		Remarks:     record.Remarks,
		SubmittedAt: record.SubmittedAt,
		UpdatedAt:   record.UpdatedAt,
	}
	if !record.VerifiedAt.IsZero() {
		verifiedAt := record.VerifiedAt
		resp.VerifiedAt = &verifiedAt
	}
	return resp
}

type bestMatchResponse struct {
	DonorID    string    `json:"donor_id"`
	DonationID string    `json:"donation_id"`
	Score      float64   `json:"score"`
	ComputedAt time.Time `json:"computed_at"`
}

type requestResponse struct {
	ID           string             `json:"id"`
	PatientID    string             `json:"patient_id"`
	Organ        string             `json:"organ"`
	BloodGroup   string             `json:"blood_group"`
	Status       string             `json:"status"`
	MatchScore   *float64           `json:"match_score,omitempty"`
	BestMatch    *bestMatchResponse `json:"best_match,omitempty"`
	ScoringError string             `json:"scoring_error,omitempty"`
	SubmittedAt  time.Time          `json:"submitted_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func toRequestResponse(request profile.PatientRequest) requestResponse {
	resp := requestResponse{
		ID:           request.ID.String(),
		PatientID:    request.PatientID.String(),
		Organ:        request.Organ.String(),
		BloodGroup:   request.BloodGroup.String(),
		Status:       string(request.Status),
		MatchScore:   request.MatchScore,
		ScoringError: request.ScoringError,
		SubmittedAt:  request.SubmittedAt,
		UpdatedAt:    request.UpdatedAt,
	}
	if request.BestMatch != nil {
		resp.BestMatch = &bestMatchResponse{
			DonorID:    request.BestMatch.DonorID.String(),
			DonationID: request.BestMatch.DonationID.String(),
			Score:      request.BestMatch.Score,
			ComputedAt: request.BestMatch.ComputedAt,
		}
	}
	return resp
}

type rankedDonorResponse struct {
	DonorID    string  `json:"donor_id"`
	DonationID string  `json:"donation_id"`
	BloodGroup string  `json:"blood_group"`
	Score      float64 `json:"score"`
}

func toRankingResponse(ranked []ranking.RankedDonor) []rankedDonorResponse {
	out := make([]rankedDonorResponse, len(ranked))
	for i, row := range ranked {
		out[i] = rankedDonorResponse{
			DonorID:    row.Donor.DonorID.String(),
			DonationID: row.Donor.ID.String(),
			BloodGroup: row.Donor.BloodGroup.String(),
			Score:      row.Score,
		}
	}
	return out
}

type matchResponse struct {
	ID         string    `json:"id"`
	DonorID    string    `json:"donor_id"`
	DonationID string    `json:"donation_id"`
	PatientID  string    `json:"patient_id"`
	RequestID  string    `json:"request_id"`
	Organ      string    `json:"organ"`
	Status     string    `json:"status"`
	Remarks    string    `json:"remarks,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toMatchResponse(m match.Match) matchResponse {
	return matchResponse{
		ID:         m.ID.String(),
		DonorID:    m.DonorID.String(),
		DonationID: m.DonationID.String(),
		PatientID:  m.PatientID.String(),
		RequestID:  m.RequestID.String(),
		Organ:      m.Organ.String(),
		Status:     string(m.Status),
		Remarks:    m.Remarks,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}
