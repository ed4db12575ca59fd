// Package ranking queries eligible donors for a patient request, scores
// them, and produces an ordered ranking with the head distinguished as the
// best match.
package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"organlink/internal/events"
	"organlink/internal/platform/metrics"
	"organlink/internal/profile"
	"organlink/internal/scoring"
	"organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
	"organlink/pkg/platform/sentinel"
)

var tracer = otel.Tracer("organlink/ranking")

// RankedDonor is one row of a ranking.
type RankedDonor struct {
	Donor profile.DonorRecord
	Score float64
}

// Availability reports which donors are already claimed by an approved
// match for an organ. Claimed donors never appear in a ranking.
type Availability interface {
	ClaimedDonors(ctx context.Context, organ domain.Organ) (map[domain.DonorID]struct{}, error)
}

type Service struct {
	donors       profile.DonorStore
	patients     profile.PatientStore
	scorer       *scoring.Scorer
	availability Availability
	logger       *slog.Logger
	metrics      *metrics.Metrics
	events       events.Publisher
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

// WithAvailability excludes donors that already have an approved match.
func WithAvailability(availability Availability) Option {
	return func(s *Service) { s.availability = availability }
}

func New(donors profile.DonorStore, patients profile.PatientStore, scorer *scoring.Scorer, opts ...Option) (*Service, error) {
	if donors == nil {
		return nil, fmt.Errorf("donor store is required")
	}
	if patients == nil {
		return nil, fmt.Errorf("patient store is required")
	}
	if scorer == nil {
		return nil, fmt.Errorf("scorer is required")
	}
	svc := &Service{
		donors:   donors,
		patients: patients,
		scorer:   scorer,
		logger:   slog.Default(),
		events:   events.NopPublisher{},
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Rank computes the ordered ranking for a request against the current pool
// of verified donors. Blood-incompatible donors are excluded entirely, not
// just scored low. An empty pool is a normal "no match yet" outcome, nil
// error. Rank is idempotent: re-running against an unchanged pool yields
// the identical order and scores.
func (s *Service) Rank(ctx context.Context, request profile.PatientRequest) ([]RankedDonor, error) {
	ctx, span := tracer.Start(ctx, "ranking.Rank")
	defer span.End()

	donors, err := s.donors.ListByOrganAndStatus(ctx, request.Organ, profile.DonationVerified)
	if err != nil {
		return nil, dErrors.Wrap(err, storeErrorCode(err), "list verified donors")
	}

	claimed := map[domain.DonorID]struct{}{}
	if s.availability != nil {
		claimed, err = s.availability.ClaimedDonors(ctx, request.Organ)
		if err != nil {
			return nil, dErrors.Wrap(err, storeErrorCode(err), "list claimed donors")
		}
	}

	eligible := donors[:0:0]
	for _, donor := range donors {
		if _, taken := claimed[donor.DonorID]; taken {
			continue
		}
		if donor.BloodGroup.CanDonateTo(request.BloodGroup) {
			eligible = append(eligible, donor)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	ranked := make([]RankedDonor, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	for i, donor := range eligible {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, err := s.scorer.Score(request, donor)
			if err != nil {
				return fmt.Errorf("score donor %s: %w", donor.DonorID, err)
			}
			ranked[i] = RankedDonor{Donor: donor, Score: score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return scoring.Less(ranked[i].Score, ranked[j].Score, ranked[i].Donor, ranked[j].Donor)
	})
	return ranked, nil
}

// BestMatch returns the top-ranked donor for a request, or nil when no
// eligible donor exists.
func (s *Service) BestMatch(ctx context.Context, request profile.PatientRequest) (*RankedDonor, error) {
	ranked, err := s.Rank(ctx, request)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, nil
	}
	best := ranked[0]
	return &best, nil
}

// RankRequest loads the request, computes its ranking, and persists the
// score snapshot. The snapshot write is conditional on the request still
// being open, so a ranking racing an approval never corrupts a request
// whose match was confirmed; the write is all-or-nothing, so cancellation
// mid-flight leaves no half-written score/bestMatch pair. Scoring failures
// leave the request Submitted with the reason attached for the next
// trigger to retry.
func (s *Service) RankRequest(ctx context.Context, requestID domain.RequestID) ([]RankedDonor, error) {
	ctx, span := tracer.Start(ctx, "ranking.RankRequest")
	defer span.End()
	start := time.Now()

	request, err := s.patients.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "patient request not found")
		}
		return nil, dErrors.Wrap(err, storeErrorCode(err), "find patient request")
	}

	ranked, err := s.Rank(ctx, request)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			// Bad data, not a transient fault: record the reason and leave
			// the request Submitted for the next ranking trigger.
			if setErr := s.patients.SetScoringError(ctx, requestID, err.Error()); setErr != nil {
				s.logger.ErrorContext(ctx, "failed to record scoring error",
					"request_id", requestID.String(), "error", setErr)
			}
		}
		if s.metrics != nil {
			s.metrics.RankingFailures.Inc()
		}
		return nil, err
	}

	if !request.Status.IsOpen() {
		// A confirmed request keeps its persisted snapshot; the fresh
		// ranking is still returned to the caller.
		return ranked, nil
	}

	open := []profile.RequestStatus{profile.RequestSubmitted, profile.RequestScored, profile.RequestNoMatch}
	if len(ranked) == 0 {
		err = s.patients.UpdateScore(ctx, requestID, nil, nil, profile.RequestNoMatch, open...)
	} else {
		best := ranked[0]
		score := best.Score
		snapshot := &profile.BestMatch{
			DonorID:    best.Donor.DonorID,
			DonationID: best.Donor.ID,
			Score:      best.Score,
			ComputedAt: time.Now(),
		}
		err = s.patients.UpdateScore(ctx, requestID, &score, snapshot, profile.RequestScored, open...)
	}
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// Lost the race against an approval; the fresh snapshot is
			// irrelevant for a confirmed request.
			return ranked, nil
		}
		if s.metrics != nil {
			s.metrics.RankingFailures.Inc()
		}
		return nil, dErrors.Wrap(err, storeErrorCode(err), "persist ranking snapshot")
	}

	if s.metrics != nil {
		s.metrics.RankingsComputed.Inc()
		s.metrics.RankingDuration.Observe(time.Since(start).Seconds())
	}
	eventType := events.TypeRequestScored
	if len(ranked) == 0 {
		eventType = events.TypeRequestNoMatch
	}
	_ = s.events.Emit(ctx, events.Event{
		Type:      eventType,
		Organ:     request.Organ.String(),
		PatientID: request.PatientID.String(),
		RequestID: request.ID.String(),
	})
	return ranked, nil
}

// ScoreRequest is RankRequest without the ranking payload, for callers
// that only need the side effect of a fresh score snapshot.
func (s *Service) ScoreRequest(ctx context.Context, requestID domain.RequestID) error {
	_, err := s.RankRequest(ctx, requestID)
	return err
}

// RerankOpenRequests re-scores every open request for an organ. Triggered
// when a new donor is verified or a donor becomes unavailable after an
// approval; NoMatch requests are revisited here.
func (s *Service) RerankOpenRequests(ctx context.Context, organ domain.Organ) error {
	requests, err := s.patients.ListOpenByOrgan(ctx, organ)
	if err != nil {
		return dErrors.Wrap(err, storeErrorCode(err), "list open requests")
	}
	var firstErr error
	for _, request := range requests {
		if _, err := s.RankRequest(ctx, request.ID); err != nil {
			s.logger.WarnContext(ctx, "re-ranking failed",
				"request_id", request.ID.String(), "organ", organ.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// storeErrorCode distinguishes transient store faults from internal bugs.
func storeErrorCode(err error) dErrors.Code {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.CodeUnavailable
	}
	return dErrors.CodeInternal
}
