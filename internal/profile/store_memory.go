package profile

import (
	"context"
	"sort"
	"sync"
	"time"

	"organlink/pkg/domain"
	"organlink/pkg/platform/sentinel"
)

// In-memory stores keep single-node deployments and tests lightweight. They
// intentionally favor clarity over performance.

type InMemoryDonorStore struct {
	mu      sync.RWMutex
	records map[domain.DonationID]DonorRecord
}

func NewInMemoryDonorStore() *InMemoryDonorStore {
	return &InMemoryDonorStore{records: make(map[domain.DonationID]DonorRecord)}
}

func (s *InMemoryDonorStore) Save(_ context.Context, record DonorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records {
		if existing.DonorID == record.DonorID && existing.Organ == record.Organ && existing.ID != record.ID {
			return sentinel.ErrConflict
		}
	}
	record.Tests = copyTests(record.Tests)
	s.records[record.ID] = record
	return nil
}

func (s *InMemoryDonorStore) FindByID(_ context.Context, id domain.DonationID) (DonorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.records[id]; ok {
		record.Tests = copyTests(record.Tests)
		return record, nil
	}
	return DonorRecord{}, sentinel.ErrNotFound
}

func (s *InMemoryDonorStore) FindByDonorAndOrgan(_ context.Context, donorID domain.DonorID, organ domain.Organ) (DonorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.records {
		if record.DonorID == donorID && record.Organ == organ {
			record.Tests = copyTests(record.Tests)
			return record, nil
		}
	}
	return DonorRecord{}, sentinel.ErrNotFound
}

func (s *InMemoryDonorStore) ListByOrganAndStatus(_ context.Context, organ domain.Organ, status DonationStatus) ([]DonorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DonorRecord
	for _, record := range s.records {
		if record.Organ == organ && record.Status == status {
			record.Tests = copyTests(record.Tests)
			out = append(out, record)
		}
	}
	sortDonorRecords(out)
	return out, nil
}

func (s *InMemoryDonorStore) ListByStatus(_ context.Context, status DonationStatus) ([]DonorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DonorRecord
	for _, record := range s.records {
		if record.Status == status {
			record.Tests = copyTests(record.Tests)
			out = append(out, record)
		}
	}
	sortDonorRecords(out)
	return out, nil
}

func (s *InMemoryDonorStore) UpdateStatus(_ context.Context, id domain.DonationID, from, to DonationStatus, remarks string, verifiedAt time.Time) (DonorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return DonorRecord{}, sentinel.ErrNotFound
	}
	if record.Status != from {
		return DonorRecord{}, sentinel.ErrInvalidState
	}
	record.Status = to
	if remarks != "" {
		record.Remarks = remarks
	}
	if to == DonationVerified {
		record.VerifiedAt = verifiedAt
	}
	record.UpdatedAt = time.Now()
	s.records[id] = record
	return record, nil
}

// sortDonorRecords keeps listings deterministic across map iteration order.
func sortDonorRecords(records []DonorRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID.String() < records[j].ID.String()
	})
}

type InMemoryPatientStore struct {
	mu       sync.RWMutex
	requests map[domain.RequestID]PatientRequest
}

func NewInMemoryPatientStore() *InMemoryPatientStore {
	return &InMemoryPatientStore{requests: make(map[domain.RequestID]PatientRequest)}
}

func (s *InMemoryPatientStore) Save(_ context.Context, request PatientRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[request.ID] = cloneRequest(request)
	return nil
}

func (s *InMemoryPatientStore) FindByID(_ context.Context, id domain.RequestID) (PatientRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if request, ok := s.requests[id]; ok {
		return cloneRequest(request), nil
	}
	return PatientRequest{}, sentinel.ErrNotFound
}

func (s *InMemoryPatientStore) FindOpenByPatientAndOrgan(_ context.Context, patientID domain.PatientID, organ domain.Organ) (PatientRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, request := range s.requests {
		if request.PatientID == patientID && request.Organ == organ && request.Status.IsOpen() {
			return cloneRequest(request), nil
		}
	}
	return PatientRequest{}, sentinel.ErrNotFound
}

func (s *InMemoryPatientStore) ListOpenByOrgan(_ context.Context, organ domain.Organ) ([]PatientRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PatientRequest
	for _, request := range s.requests {
		if request.Organ == organ && request.Status.IsOpen() {
			out = append(out, cloneRequest(request))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *InMemoryPatientStore) UpdateScore(_ context.Context, id domain.RequestID, score *float64, best *BestMatch, to RequestStatus, from ...RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !statusIn(request.Status, from) {
		return sentinel.ErrInvalidState
	}
	request.MatchScore = copyFloat(score)
	request.BestMatch = copyBestMatch(best)
	request.Status = to
	request.ScoringError = ""
	request.UpdatedAt = time.Now()
	s.requests[id] = request
	return nil
}

func (s *InMemoryPatientStore) SetScoringError(_ context.Context, id domain.RequestID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	request.ScoringError = reason
	request.UpdatedAt = time.Now()
	s.requests[id] = request
	return nil
}

func (s *InMemoryPatientStore) UpdateStatus(_ context.Context, id domain.RequestID, to RequestStatus, from ...RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !statusIn(request.Status, from) {
		return sentinel.ErrInvalidState
	}
	request.Status = to
	request.UpdatedAt = time.Now()
	s.requests[id] = request
	return nil
}

func statusIn(status RequestStatus, set []RequestStatus) bool {
	for _, s := range set {
		if status == s {
			return true
		}
	}
	return false
}

func copyTests(tests map[string]string) map[string]string {
	if tests == nil {
		return nil
	}
	out := make(map[string]string, len(tests))
	for k, v := range tests {
		out[k] = v
	}
	return out
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func copyBestMatch(b *BestMatch) *BestMatch {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// cloneRequest severs every reference between the store's copy and the
// caller's, on both the write and the read path. Without it a caller
// mutating a returned snapshot would corrupt store state.
func cloneRequest(request PatientRequest) PatientRequest {
	request.Tests = copyTests(request.Tests)
	request.MatchScore = copyFloat(request.MatchScore)
	request.BestMatch = copyBestMatch(request.BestMatch)
	return request
}
