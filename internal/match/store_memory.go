package match

import (
	"context"
	"sort"
	"sync"
	"time"

	"organlink/pkg/domain"
	"organlink/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu      sync.RWMutex
	matches map[domain.MatchID]Match
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{matches: make(map[domain.MatchID]Match)}
}

func (s *InMemoryStore) Create(_ context.Context, m Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Status == StatusApproved {
		for _, existing := range s.matches {
			if existing.DonorID == m.DonorID && existing.Organ == m.Organ && existing.Status == StatusApproved {
				return sentinel.ErrConflict
			}
		}
	}
	s.matches[m.ID] = m
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id domain.MatchID) (Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.matches[id]; ok {
		return m, nil
	}
	return Match{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) FindApproved(_ context.Context, donorID domain.DonorID, organ domain.Organ) (Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.matches {
		if m.DonorID == donorID && m.Organ == organ && m.Status == StatusApproved {
			return m, nil
		}
	}
	return Match{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListPendingByDonorAndOrgan(_ context.Context, donorID domain.DonorID, organ domain.Organ) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Match
	for _, m := range s.matches {
		if m.DonorID == donorID && m.Organ == organ && m.Status == StatusPending {
			out = append(out, m)
		}
	}
	sortMatches(out)
	return out, nil
}

func (s *InMemoryStore) FindPendingByRequestAndDonor(_ context.Context, requestID domain.RequestID, donorID domain.DonorID) (Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.matches {
		if m.RequestID == requestID && m.DonorID == donorID && m.Status == StatusPending {
			return m, nil
		}
	}
	return Match{}, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListApprovedByOrgan(_ context.Context, organ domain.Organ) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Match
	for _, m := range s.matches {
		if m.Organ == organ && m.Status == StatusApproved {
			out = append(out, m)
		}
	}
	sortMatches(out)
	return out, nil
}

func (s *InMemoryStore) UpdateStatus(_ context.Context, id domain.MatchID, from, to Status, remarks string) (Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return Match{}, sentinel.ErrNotFound
	}
	if m.Status != from {
		return Match{}, sentinel.ErrInvalidState
	}
	if to == StatusApproved {
		for _, existing := range s.matches {
			if existing.ID != id && existing.DonorID == m.DonorID && existing.Organ == m.Organ && existing.Status == StatusApproved {
				return Match{}, sentinel.ErrConflict
			}
		}
	}
	m.Status = to
	if remarks != "" {
		m.Remarks = remarks
	}
	m.UpdatedAt = time.Now()
	s.matches[id] = m
	return m, nil
}

func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].ID.String() < matches[j].ID.String()
	})
}

// InMemoryTxRunner serializes transaction bodies with one mutex. It cannot
// roll back, so the arbiter orders writes with the invariant-critical one
// first; in-memory store operations have no I/O failure modes.
type InMemoryTxRunner struct {
	mu sync.Mutex
}

func NewInMemoryTxRunner() *InMemoryTxRunner {
	return &InMemoryTxRunner{}
}

func (r *InMemoryTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
