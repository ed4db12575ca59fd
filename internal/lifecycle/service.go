// Package lifecycle owns the state machines for donor submissions and
// patient organ requests. Only the admin gate drives donation transitions;
// patients interact solely by filing submissions and requests.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"organlink/internal/events"
	"organlink/internal/identity"
	"organlink/internal/platform/metrics"
	"organlink/internal/profile"
	"organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
	"organlink/pkg/platform/sentinel"
)

// Ranker is the slice of the ranking service the lifecycle needs: scoring
// a fresh request and revisiting open requests when the donor pool changes.
type Ranker interface {
	ScoreRequest(ctx context.Context, requestID domain.RequestID) error
	RerankOpenRequests(ctx context.Context, organ domain.Organ) error
}

type Service struct {
	donors   profile.DonorStore
	patients profile.PatientStore
	ranker   Ranker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	events   events.Publisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) { s.events = publisher }
}

func New(donors profile.DonorStore, patients profile.PatientStore, ranker Ranker, opts ...Option) (*Service, error) {
	if donors == nil {
		return nil, fmt.Errorf("donor store is required")
	}
	if patients == nil {
		return nil, fmt.Errorf("patient store is required")
	}
	if ranker == nil {
		return nil, fmt.Errorf("ranker is required")
	}
	svc := &Service{
		donors:   donors,
		patients: patients,
		ranker:   ranker,
		logger:   slog.Default(),
		events:   events.NopPublisher{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// SubmitDonationInput is one donor's offer of one organ.
type SubmitDonationInput struct {
	DonorID    domain.DonorID
	Organ      domain.Organ
	BloodGroup domain.BloodGroup
	Lat        float64
	Lon        float64
	Tests      map[string]string
}

// SubmitDonation files a donor submission in Pending state for the admin
// verification queue. One record per (donor, organ); a duplicate submission
// returns the existing record.
func (s *Service) SubmitDonation(ctx context.Context, input SubmitDonationInput) (profile.DonorRecord, error) {
	if !input.Organ.IsValid() {
		return profile.DonorRecord{}, dErrors.New(dErrors.CodeInvalidInput, "unknown organ")
	}
	if !input.BloodGroup.IsValid() {
		return profile.DonorRecord{}, dErrors.New(dErrors.CodeInvalidInput, "unknown blood group")
	}
	if input.DonorID.IsNil() {
		return profile.DonorRecord{}, dErrors.New(dErrors.CodeInvalidInput, "donor_id is required")
	}

	if existing, err := s.donors.FindByDonorAndOrgan(ctx, input.DonorID, input.Organ); err == nil {
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return profile.DonorRecord{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "check existing donation")
	}

	now := time.Now()
	record := profile.DonorRecord{
		ID:          domain.NewDonationID(),
		DonorID:     input.DonorID,
		Organ:       input.Organ,
		BloodGroup:  input.BloodGroup,
		Lat:         input.Lat,
		Lon:         input.Lon,
		Tests:       input.Tests,
		Status:      profile.DonationPending,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := s.donors.Save(ctx, record); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			// Raced another submission for the same (donor, organ).
			if existing, findErr := s.donors.FindByDonorAndOrgan(ctx, input.DonorID, input.Organ); findErr == nil {
				return existing, nil
			}
			return profile.DonorRecord{}, dErrors.New(dErrors.CodeConflict, "donation already exists for this donor and organ")
		}
		return profile.DonorRecord{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "save donation")
	}

	_ = s.events.Emit(ctx, events.Event{
		Type:       events.TypeDonationSubmitted,
		Organ:      record.Organ.String(),
		DonorID:    record.DonorID.String(),
		DonationID: record.ID.String(),
	})
	return record, nil
}

// ListDonations returns donation records in the given status, most
// commonly the pending verification queue. Admin-only.
func (s *Service) ListDonations(ctx context.Context, actor identity.Identity, status profile.DonationStatus) ([]profile.DonorRecord, error) {
	if !actor.IsAdmin() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only admins may list donations")
	}
	records, err := s.donors.ListByStatus(ctx, status)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list donations")
	}
	return records, nil
}

// SetDonationStatus drives the donation state machine. Admin-only; any
// other caller gets a forbidden error before any state is touched. Invalid
// transitions fail closed. Verification triggers re-ranking of open
// requests for the organ so waiting patients see the new donor.
func (s *Service) SetDonationStatus(ctx context.Context, actor identity.Identity, donationID domain.DonationID, status profile.DonationStatus, remarks string) (profile.DonorRecord, error) {
	if !actor.IsAdmin() {
		return profile.DonorRecord{}, dErrors.New(dErrors.CodeForbidden, "only admins may change donation status")
	}
	if !status.IsValid() || status == profile.DonationPending {
		return profile.DonorRecord{}, dErrors.New(dErrors.CodeInvalidInput, "invalid target status")
	}

	current, err := s.donors.FindByID(ctx, donationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return profile.DonorRecord{}, dErrors.New(dErrors.CodeNotFound, "donation not found")
		}
		return profile.DonorRecord{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "find donation")
	}
	if !current.Status.CanTransitionTo(status) {
		return profile.DonorRecord{}, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("cannot transition donation from %s to %s", current.Status, status))
	}

	updated, err := s.donors.UpdateStatus(ctx, donationID, current.Status, status, remarks, time.Now())
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Raced another admin; the stored state moved under us.
			return profile.DonorRecord{}, dErrors.New(dErrors.CodeConflict, "donation status changed concurrently")
		}
		return profile.DonorRecord{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "update donation status")
	}

	s.emitDonationEvent(ctx, updated, actor, remarks)

	if status == profile.DonationVerified && s.metrics != nil {
		s.metrics.DonationsVerified.Inc()
	}
	// Verification grows the candidate pool, completion shrinks it; either
	// way open requests for the organ need a fresh look.
	if status == profile.DonationVerified || status == profile.DonationDonated {
		if err := s.ranker.RerankOpenRequests(ctx, updated.Organ); err != nil {
			// The transition already committed; ranking will be retried on
			// the next trigger.
			s.logger.WarnContext(ctx, "re-ranking after donation transition failed",
				"organ", updated.Organ.String(), "error", err)
		}
	}
	return updated, nil
}

func (s *Service) emitDonationEvent(ctx context.Context, record profile.DonorRecord, actor identity.Identity, remarks string) {
	var eventType events.Type
	switch record.Status {
	case profile.DonationVerified:
		eventType = events.TypeDonorVerified
	case profile.DonationRejected:
		eventType = events.TypeDonationRejected
	case profile.DonationDonated:
		eventType = events.TypeDonationCompleted
	default:
		return
	}
	_ = s.events.Emit(ctx, events.Event{
		Type:       eventType,
		Organ:      record.Organ.String(),
		DonorID:    record.DonorID.String(),
		DonationID: record.ID.String(),
		Actor:      actor.Subject.String(),
		Reason:     remarks,
	})
}

// SubmitRequestInput is one patient's request for one organ.
type SubmitRequestInput struct {
	PatientID  domain.PatientID
	Organ      domain.Organ
	BloodGroup domain.BloodGroup
	Lat        float64
	Lon        float64
	Tests      map[string]string
	Consent    bool
}

// SubmitPatientRequest files the request and triggers scoring. Submitting
// an identical request while one is still open returns the open request
// instead of creating a second one, so a double submission can never lead
// to two approved matches against the same donor. Scoring failure is not a
// submission failure: the request stays Submitted with the reason attached.
func (s *Service) SubmitPatientRequest(ctx context.Context, input SubmitRequestInput) (profile.PatientRequest, error) {
	if !input.Organ.IsValid() {
		return profile.PatientRequest{}, dErrors.New(dErrors.CodeInvalidInput, "unknown organ")
	}
	if !input.BloodGroup.IsValid() {
		return profile.PatientRequest{}, dErrors.New(dErrors.CodeInvalidInput, "unknown blood group")
	}
	if input.PatientID.IsNil() {
		return profile.PatientRequest{}, dErrors.New(dErrors.CodeInvalidInput, "patient_id is required")
	}
	if !input.Consent {
		return profile.PatientRequest{}, dErrors.New(dErrors.CodeBadRequest, "consent is required to file an organ request")
	}

	if existing, err := s.patients.FindOpenByPatientAndOrgan(ctx, input.PatientID, input.Organ); err == nil {
		return existing, nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return profile.PatientRequest{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "check existing request")
	}

	now := time.Now()
	request := profile.PatientRequest{
		ID:          domain.NewRequestID(),
		PatientID:   input.PatientID,
		Organ:       input.Organ,
		BloodGroup:  input.BloodGroup,
		Lat:         input.Lat,
		Lon:         input.Lon,
		Tests:       input.Tests,
		Consent:     input.Consent,
		Status:      profile.RequestSubmitted,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := s.patients.Save(ctx, request); err != nil {
		return profile.PatientRequest{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "save patient request")
	}

	_ = s.events.Emit(ctx, events.Event{
		Type:      events.TypeRequestSubmitted,
		Organ:     request.Organ.String(),
		PatientID: request.PatientID.String(),
		RequestID: request.ID.String(),
	})

	if err := s.ranker.ScoreRequest(ctx, request.ID); err != nil {
		s.logger.WarnContext(ctx, "initial scoring failed; request stays submitted",
			"request_id", request.ID.String(), "error", err)
	}

	// Return the stored state so the caller sees the outcome of scoring.
	stored, err := s.patients.FindByID(ctx, request.ID)
	if err != nil {
		return request, nil
	}
	return stored, nil
}

// GetRequest exposes a patient request for the transport layer.
func (s *Service) GetRequest(ctx context.Context, requestID domain.RequestID) (profile.PatientRequest, error) {
	request, err := s.patients.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return profile.PatientRequest{}, dErrors.New(dErrors.CodeNotFound, "patient request not found")
		}
		return profile.PatientRequest{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "find patient request")
	}
	return request, nil
}
