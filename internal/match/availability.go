package match

import (
	"context"

	"organlink/pkg/domain"
)

// AvailabilityAdapter exposes approved matches as the claimed-donor set the
// ranking side filters on. Lives here rather than in ranking to keep the
// dependency pointed at the match store.
type AvailabilityAdapter struct {
	matches Store
}

func NewAvailabilityAdapter(matches Store) *AvailabilityAdapter {
	return &AvailabilityAdapter{matches: matches}
}

func (a *AvailabilityAdapter) ClaimedDonors(ctx context.Context, organ domain.Organ) (map[domain.DonorID]struct{}, error) {
	approved, err := a.matches.ListApprovedByOrgan(ctx, organ)
	if err != nil {
		return nil, err
	}
	claimed := make(map[domain.DonorID]struct{}, len(approved))
	for _, m := range approved {
		claimed[m.DonorID] = struct{}{}
	}
	return claimed, nil
}
