// Package match owns match instances and the arbitration rules around
// approval. The arbiter is the only writer of match state; for a given
// (donor, organ) pair at most one match is ever approved.
package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"organlink/internal/events"
	"organlink/internal/identity"
	"organlink/internal/platform/keylock"
	"organlink/internal/platform/metrics"
	"organlink/internal/profile"
	"organlink/pkg/domain"
	dErrors "organlink/pkg/domain-errors"
	"organlink/pkg/platform/sentinel"
)

var tracer = otel.Tracer("organlink/match")

// Reranker is the slice of the ranking service the arbiter needs: once a
// donor is claimed by an approval, open requests for the organ must be
// revisited without that donor.
type Reranker interface {
	RerankOpenRequests(ctx context.Context, organ domain.Organ) error
}

// Arbiter decides match creation, approval, and rejection. All
// invariant-critical writes happen under a per-(donor, organ) lock and a
// store transaction; everything observable (events, metrics, re-ranking)
// happens after commit.
type Arbiter struct {
	matches  Store
	donors   profile.DonorStore
	patients profile.PatientStore
	tx       TxRunner
	locker   keylock.Locker
	reranker Reranker
	logger   *slog.Logger
	metrics  *metrics.Metrics
	events   events.Publisher
}

type Option func(*Arbiter)

func WithLogger(logger *slog.Logger) Option {
	return func(a *Arbiter) { a.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Arbiter) { a.metrics = m }
}

func WithPublisher(publisher events.Publisher) Option {
	return func(a *Arbiter) { a.events = publisher }
}

func WithReranker(reranker Reranker) Option {
	return func(a *Arbiter) { a.reranker = reranker }
}

func NewArbiter(matches Store, donors profile.DonorStore, patients profile.PatientStore, tx TxRunner, locker keylock.Locker, opts ...Option) (*Arbiter, error) {
	if matches == nil {
		return nil, fmt.Errorf("match store is required")
	}
	if donors == nil {
		return nil, fmt.Errorf("donor store is required")
	}
	if patients == nil {
		return nil, fmt.Errorf("patient store is required")
	}
	if tx == nil {
		return nil, fmt.Errorf("tx runner is required")
	}
	if locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	arb := &Arbiter{
		matches:  matches,
		donors:   donors,
		patients: patients,
		tx:       tx,
		locker:   locker,
		logger:   slog.Default(),
		events:   events.NopPublisher{},
	}
	for _, opt := range opts {
		opt(arb)
	}
	return arb, nil
}

func lockKey(donorID domain.DonorID, organ domain.Organ) string {
	return donorID.String() + ":" + organ.String()
}

// CreateMatch files a pending match between an open request and a verified
// donation. Filing is idempotent per (request, donor): repeating the call
// returns the existing pending match. The caller must be the requesting
// patient or an admin.
func (a *Arbiter) CreateMatch(ctx context.Context, actor identity.Identity, requestID domain.RequestID, donationID domain.DonationID) (Match, error) {
	request, err := a.patients.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Match{}, dErrors.New(dErrors.CodeNotFound, "patient request not found")
		}
		return Match{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "find patient request")
	}
	if !actor.IsAdmin() && domain.PatientID(actor.Subject) != request.PatientID {
		return Match{}, dErrors.New(dErrors.CodeForbidden, "only the requesting patient or an admin may request a match")
	}

	// Default to the ranked best donor when no donation is named.
	if donationID.IsNil() {
		if request.BestMatch == nil {
			return Match{}, dErrors.New(dErrors.CodeConflict, "request has no ranked donor to match against")
		}
		donationID = request.BestMatch.DonationID
	}

	donation, err := a.donors.FindByID(ctx, donationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Match{}, dErrors.New(dErrors.CodeNotFound, "donation not found")
		}
		return Match{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "find donation")
	}
	if donation.Organ != request.Organ {
		return Match{}, dErrors.New(dErrors.CodeInvalidInput, "donation organ does not match the request")
	}
	if donation.Status != profile.DonationVerified {
		return Match{}, dErrors.New(dErrors.CodeConflict, "donation is not verified")
	}
	if !donation.BloodGroup.CanDonateTo(request.BloodGroup) {
		return Match{}, dErrors.New(dErrors.CodeConflict, "donor blood group is not compatible with the patient")
	}

	switch request.Status {
	case profile.RequestScored:
		// Normal path.
	case profile.RequestMatchRequested:
		// Repeat call; surface the pending match if it is ours.
		if existing, findErr := a.matches.FindPendingByRequestAndDonor(ctx, requestID, donation.DonorID); findErr == nil {
			return existing, nil
		}
		return Match{}, dErrors.New(dErrors.CodeConflict, "request already has a match in flight")
	default:
		return Match{}, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("cannot request a match while the request is %s", request.Status))
	}

	unlock, err := a.locker.Lock(ctx, lockKey(donation.DonorID, donation.Organ))
	if err != nil {
		return Match{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "acquire donor lock")
	}
	defer unlock()

	var created Match
	txErr := a.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := a.matches.FindApproved(ctx, donation.DonorID, donation.Organ); err == nil {
			return dErrors.New(dErrors.CodeConflict, "donor already has an approved match for this organ")
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "check approved matches")
		}
		if existing, err := a.matches.FindPendingByRequestAndDonor(ctx, requestID, donation.DonorID); err == nil {
			created = existing
			return nil
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "check pending matches")
		}

		now := time.Now()
		created = Match{
			ID:         domain.NewMatchID(),
			DonorID:    donation.DonorID,
			DonationID: donation.ID,
			PatientID:  request.PatientID,
			RequestID:  request.ID,
			Organ:      request.Organ,
			Status:     StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := a.matches.Create(ctx, created); err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "create match")
		}
		if err := a.patients.UpdateStatus(ctx, request.ID, profile.RequestMatchRequested, profile.RequestScored); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.New(dErrors.CodeConflict, "request status changed concurrently")
			}
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "update request status")
		}
		return nil
	})
	if txErr != nil {
		return Match{}, txErr
	}

	if a.metrics != nil {
		a.metrics.MatchesCreated.Inc()
	}
	_ = a.events.Emit(ctx, events.Event{
		Type:       events.TypeMatchCreated,
		Organ:      created.Organ.String(),
		DonorID:    created.DonorID.String(),
		DonationID: created.DonationID.String(),
		PatientID:  created.PatientID.String(),
		RequestID:  created.RequestID.String(),
		MatchID:    created.ID.String(),
		Actor:      actor.Subject.String(),
	})
	return created, nil
}

// Approve finalizes a pending match. Admin-only. Under the donor lock the
// target transitions to approved and every other pending match for the same
// (donor, organ) is auto-rejected, with the losing requests returned to the
// scored pool. Approving an already approved match is a no-op.
func (a *Arbiter) Approve(ctx context.Context, actor identity.Identity, matchID domain.MatchID, remarks string) (Match, error) {
	ctx, span := tracer.Start(ctx, "match.Approve")
	defer span.End()

	if !actor.IsAdmin() {
		return Match{}, dErrors.New(dErrors.CodeForbidden, "only admins may approve matches")
	}

	target, err := a.findMatch(ctx, matchID)
	if err != nil {
		return Match{}, err
	}

	unlock, err := a.locker.Lock(ctx, lockKey(target.DonorID, target.Organ))
	if err != nil {
		return Match{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "acquire donor lock")
	}
	defer unlock()

	var (
		approved     Match
		losers       []Match
		transitioned bool
	)
	txErr := a.tx.RunInTx(ctx, func(ctx context.Context) error {
		losers = nil
		transitioned = false
		current, err := a.matches.FindByID(ctx, matchID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "re-read match")
		}
		switch current.Status {
		case StatusApproved:
			approved = current
			return nil
		case StatusRejected:
			return dErrors.New(dErrors.CodeConflict, "match was already rejected")
		}

		if winner, err := a.matches.FindApproved(ctx, current.DonorID, current.Organ); err == nil {
			if a.metrics != nil {
				a.metrics.ApprovalConflicts.Inc()
			}
			return dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("donor already has an approved match %s for this organ", winner.ID))
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "check approved matches")
		}

		donation, err := a.donors.FindByID(ctx, current.DonationID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "find donation")
		}
		if donation.Status != profile.DonationVerified {
			return dErrors.New(dErrors.CodeConflict, "donation is no longer available")
		}

		approved, err = a.matches.UpdateStatus(ctx, matchID, StatusPending, StatusApproved, remarks)
		if err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.New(dErrors.CodeConflict, "match status changed concurrently")
			}
			if errors.Is(err, sentinel.ErrConflict) {
				if a.metrics != nil {
					a.metrics.ApprovalConflicts.Inc()
				}
				return dErrors.New(dErrors.CodeConflict, "donor already has an approved match for this organ")
			}
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "approve match")
		}
		transitioned = true

		pending, err := a.matches.ListPendingByDonorAndOrgan(ctx, current.DonorID, current.Organ)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "list pending matches")
		}
		for _, other := range pending {
			if other.ID == matchID {
				continue
			}
			rejected, err := a.matches.UpdateStatus(ctx, other.ID, StatusPending, StatusRejected, "donor matched to another patient")
			if err != nil {
				if errors.Is(err, sentinel.ErrInvalidState) {
					continue
				}
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "auto-reject competing match")
			}
			// The losing request goes back to the scored pool; ignore a
			// state mismatch, the request may have moved on already.
			if err := a.patients.UpdateStatus(ctx, other.RequestID, profile.RequestScored, profile.RequestMatchRequested); err != nil &&
				!errors.Is(err, sentinel.ErrInvalidState) && !errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.Wrap(err, dErrors.CodeUnavailable, "release losing request")
			}
			losers = append(losers, rejected)
		}
		return nil
	})
	if txErr != nil {
		return Match{}, txErr
	}
	// Re-approving an approved match changed nothing; no effects to announce.
	if !transitioned {
		return approved, nil
	}

	if a.metrics != nil {
		a.metrics.MatchesApproved.Inc()
		for range losers {
			a.metrics.MatchesRejected.Inc()
		}
	}
	_ = a.events.Emit(ctx, events.Event{
		Type:       events.TypeMatchApproved,
		Organ:      approved.Organ.String(),
		DonorID:    approved.DonorID.String(),
		DonationID: approved.DonationID.String(),
		PatientID:  approved.PatientID.String(),
		RequestID:  approved.RequestID.String(),
		MatchID:    approved.ID.String(),
		Actor:      actor.Subject.String(),
		Reason:     remarks,
	})
	for _, loser := range losers {
		_ = a.events.Emit(ctx, events.Event{
			Type:      events.TypeMatchRejected,
			Organ:     loser.Organ.String(),
			DonorID:   loser.DonorID.String(),
			PatientID: loser.PatientID.String(),
			RequestID: loser.RequestID.String(),
			MatchID:   loser.ID.String(),
			Actor:     actor.Subject.String(),
			Reason:    loser.Remarks,
		})
	}

	// The donor is now claimed; open requests for the organ should stop
	// seeing them as a candidate.
	if a.reranker != nil {
		if err := a.reranker.RerankOpenRequests(ctx, approved.Organ); err != nil {
			a.logger.WarnContext(ctx, "re-ranking after approval failed",
				"organ", approved.Organ.String(), "error", err)
		}
	}
	return approved, nil
}

// Reject turns down a pending match and returns its request to the scored
// pool so the patient can be matched again. Admin-only. Rejecting an
// already rejected match is a no-op.
func (a *Arbiter) Reject(ctx context.Context, actor identity.Identity, matchID domain.MatchID, remarks string) (Match, error) {
	if !actor.IsAdmin() {
		return Match{}, dErrors.New(dErrors.CodeForbidden, "only admins may reject matches")
	}

	target, err := a.findMatch(ctx, matchID)
	if err != nil {
		return Match{}, err
	}

	unlock, err := a.locker.Lock(ctx, lockKey(target.DonorID, target.Organ))
	if err != nil {
		return Match{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "acquire donor lock")
	}
	defer unlock()

	var (
		rejected     Match
		transitioned bool
	)
	txErr := a.tx.RunInTx(ctx, func(ctx context.Context) error {
		transitioned = false
		current, err := a.matches.FindByID(ctx, matchID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "re-read match")
		}
		switch current.Status {
		case StatusRejected:
			rejected = current
			return nil
		case StatusApproved:
			return dErrors.New(dErrors.CodeConflict, "match was already approved")
		}

		rejected, err = a.matches.UpdateStatus(ctx, matchID, StatusPending, StatusRejected, remarks)
		if err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.New(dErrors.CodeConflict, "match status changed concurrently")
			}
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "reject match")
		}
		transitioned = true
		if err := a.patients.UpdateStatus(ctx, current.RequestID, profile.RequestScored, profile.RequestMatchRequested); err != nil &&
			!errors.Is(err, sentinel.ErrInvalidState) && !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "release rejected request")
		}
		return nil
	})
	if txErr != nil {
		return Match{}, txErr
	}
	if !transitioned {
		return rejected, nil
	}

	if a.metrics != nil {
		a.metrics.MatchesRejected.Inc()
	}
	_ = a.events.Emit(ctx, events.Event{
		Type:       events.TypeMatchRejected,
		Organ:      rejected.Organ.String(),
		DonorID:    rejected.DonorID.String(),
		DonationID: rejected.DonationID.String(),
		PatientID:  rejected.PatientID.String(),
		RequestID:  rejected.RequestID.String(),
		MatchID:    rejected.ID.String(),
		Actor:      actor.Subject.String(),
		Reason:     remarks,
	})
	return rejected, nil
}

// GetMatch exposes one match for the transport layer.
func (a *Arbiter) GetMatch(ctx context.Context, matchID domain.MatchID) (Match, error) {
	return a.findMatch(ctx, matchID)
}

func (a *Arbiter) findMatch(ctx context.Context, matchID domain.MatchID) (Match, error) {
	m, err := a.matches.FindByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Match{}, dErrors.New(dErrors.CodeNotFound, "match not found")
		}
		return Match{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "find match")
	}
	return m, nil
}
