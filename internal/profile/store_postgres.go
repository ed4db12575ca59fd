package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"organlink/pkg/domain"
	"organlink/pkg/platform/sentinel"
	platformtx "organlink/pkg/platform/tx"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so stores can run inside a
// transaction carried in context.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresDonorStore persists donor records in PostgreSQL. Pure I/O; the
// state machine lives in the lifecycle service.
type PostgresDonorStore struct {
	db *sql.DB
}

func NewPostgresDonorStore(db *sql.DB) *PostgresDonorStore {
	return &PostgresDonorStore{db: db}
}

func (s *PostgresDonorStore) conn(ctx context.Context) dbtx {
	if tx, ok := platformtx.From(ctx); ok {
		return tx
	}
	return s.db
}

const donorColumns = `id, donor_id, organ, blood_group, lat, lon, tests, status, remarks, submitted_at, verified_at, updated_at`

func (s *PostgresDonorStore) Save(ctx context.Context, record DonorRecord) error {
	testsBytes, err := json.Marshal(record.Tests)
	if err != nil {
		return fmt.Errorf("marshal donor tests: %w", err)
	}
	query := `
		INSERT INTO donor_records (` + donorColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.DonorID),
		record.Organ.String(),
		record.BloodGroup.String(),
		record.Lat,
		record.Lon,
		testsBytes,
		string(record.Status),
		record.Remarks,
		record.SubmittedAt,
		nullTime(record.VerifiedAt),
		record.UpdatedAt,
	)
	if err != nil {
		return classifyPGError(err, "save donor record")
	}
	return nil
}

func (s *PostgresDonorStore) FindByID(ctx context.Context, id domain.DonationID) (DonorRecord, error) {
	query := `SELECT ` + donorColumns + ` FROM donor_records WHERE id = $1`
	return scanDonorRecord(s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(id)))
}

func (s *PostgresDonorStore) FindByDonorAndOrgan(ctx context.Context, donorID domain.DonorID, organ domain.Organ) (DonorRecord, error) {
	query := `SELECT ` + donorColumns + ` FROM donor_records WHERE donor_id = $1 AND organ = $2`
	return scanDonorRecord(s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(donorID), organ.String()))
}

func (s *PostgresDonorStore) ListByOrganAndStatus(ctx context.Context, organ domain.Organ, status DonationStatus) ([]DonorRecord, error) {
	query := `SELECT ` + donorColumns + ` FROM donor_records WHERE organ = $1 AND status = $2 ORDER BY id`
	rows, err := s.conn(ctx).QueryContext(ctx, query, organ.String(), string(status))
	if err != nil {
		return nil, classifyPGError(err, "list donor records")
	}
	defer rows.Close()
	return collectDonorRecords(rows)
}

func (s *PostgresDonorStore) ListByStatus(ctx context.Context, status DonationStatus) ([]DonorRecord, error) {
	query := `SELECT ` + donorColumns + ` FROM donor_records WHERE status = $1 ORDER BY id`
	rows, err := s.conn(ctx).QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, classifyPGError(err, "list donor records by status")
	}
	defer rows.Close()
	return collectDonorRecords(rows)
}

func (s *PostgresDonorStore) UpdateStatus(ctx context.Context, id domain.DonationID, from, to DonationStatus, remarks string, verifiedAt time.Time) (DonorRecord, error) {
	query := `
		UPDATE donor_records
		SET status = $3,
		    remarks = CASE WHEN $4 <> '' THEN $4 ELSE remarks END,
		    verified_at = CASE WHEN $3 = 'verified' THEN $5 ELSE verified_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + donorColumns
	record, err := scanDonorRecord(s.conn(ctx).QueryRowContext(ctx, query,
		uuid.UUID(id), string(from), string(to), remarks, nullTime(verifiedAt)))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// Distinguish a missing row from a state mismatch.
			if _, findErr := s.FindByID(ctx, id); findErr == nil {
				return DonorRecord{}, sentinel.ErrInvalidState
			}
			return DonorRecord{}, sentinel.ErrNotFound
		}
		return DonorRecord{}, err
	}
	return record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDonorRecord(row rowScanner) (DonorRecord, error) {
	var (
		record           DonorRecord
		id, donorID      uuid.UUID
		organ, blood     string
		status           string
		testsBytes       []byte
		verifiedAt       sql.NullTime
	)
	err := row.Scan(&id, &donorID, &organ, &blood, &record.Lat, &record.Lon,
		&testsBytes, &status, &record.Remarks, &record.SubmittedAt, &verifiedAt, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DonorRecord{}, sentinel.ErrNotFound
		}
		return DonorRecord{}, classifyPGError(err, "scan donor record")
	}
	record.ID = domain.DonationID(id)
	record.DonorID = domain.DonorID(donorID)
	record.Organ = domain.Organ(organ)
	record.BloodGroup = domain.BloodGroup(blood)
	record.Status = DonationStatus(status)
	if verifiedAt.Valid {
		record.VerifiedAt = verifiedAt.Time
	}
	if len(testsBytes) > 0 {
		if err := json.Unmarshal(testsBytes, &record.Tests); err != nil {
			return DonorRecord{}, fmt.Errorf("unmarshal donor tests: %w", err)
		}
	}
	return record, nil
}

func collectDonorRecords(rows *sql.Rows) ([]DonorRecord, error) {
	var out []DonorRecord
	for rows.Next() {
		record, err := scanDonorRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPGError(err, "iterate donor records")
	}
	return out, nil
}

// PostgresPatientStore persists patient requests in PostgreSQL.
type PostgresPatientStore struct {
	db *sql.DB
}

func NewPostgresPatientStore(db *sql.DB) *PostgresPatientStore {
	return &PostgresPatientStore{db: db}
}

func (s *PostgresPatientStore) conn(ctx context.Context) dbtx {
	if tx, ok := platformtx.From(ctx); ok {
		return tx
	}
	return s.db
}

const patientColumns = `id, patient_id, organ, blood_group, lat, lon, tests, consent, status,
	match_score, best_donor_id, best_donation_id, best_score, best_computed_at,
	scoring_error, submitted_at, updated_at`

func (s *PostgresPatientStore) Save(ctx context.Context, request PatientRequest) error {
	testsBytes, err := json.Marshal(request.Tests)
	if err != nil {
		return fmt.Errorf("marshal request tests: %w", err)
	}
	var (
		bestDonorID    any
		bestDonationID any
		bestScore      any
		bestComputedAt any
	)
	if request.BestMatch != nil {
		bestDonorID = uuid.UUID(request.BestMatch.DonorID)
		bestDonationID = uuid.UUID(request.BestMatch.DonationID)
		bestScore = request.BestMatch.Score
		bestComputedAt = request.BestMatch.ComputedAt
	}
	query := `
		INSERT INTO patient_requests (` + patientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(request.ID),
		uuid.UUID(request.PatientID),
		request.Organ.String(),
		request.BloodGroup.String(),
		request.Lat,
		request.Lon,
		testsBytes,
		request.Consent,
		string(request.Status),
		request.MatchScore,
		bestDonorID,
		bestDonationID,
		bestScore,
		bestComputedAt,
		request.ScoringError,
		request.SubmittedAt,
		request.UpdatedAt,
	)
	if err != nil {
		return classifyPGError(err, "save patient request")
	}
	return nil
}

func (s *PostgresPatientStore) FindByID(ctx context.Context, id domain.RequestID) (PatientRequest, error) {
	query := `SELECT ` + patientColumns + ` FROM patient_requests WHERE id = $1`
	return scanPatientRequest(s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(id)))
}

func (s *PostgresPatientStore) FindOpenByPatientAndOrgan(ctx context.Context, patientID domain.PatientID, organ domain.Organ) (PatientRequest, error) {
	query := `
		SELECT ` + patientColumns + ` FROM patient_requests
		WHERE patient_id = $1 AND organ = $2 AND status = ANY($3)
		ORDER BY submitted_at DESC
		LIMIT 1
	`
	return scanPatientRequest(s.conn(ctx).QueryRowContext(ctx, query,
		uuid.UUID(patientID), organ.String(), pq.Array(openStatuses())))
}

func (s *PostgresPatientStore) ListOpenByOrgan(ctx context.Context, organ domain.Organ) ([]PatientRequest, error) {
	query := `
		SELECT ` + patientColumns + ` FROM patient_requests
		WHERE organ = $1 AND status = ANY($2)
		ORDER BY id
	`
	rows, err := s.conn(ctx).QueryContext(ctx, query, organ.String(), pq.Array(openStatuses()))
	if err != nil {
		return nil, classifyPGError(err, "list open patient requests")
	}
	defer rows.Close()
	var out []PatientRequest
	for rows.Next() {
		request, err := scanPatientRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, request)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPGError(err, "iterate patient requests")
	}
	return out, nil
}

func (s *PostgresPatientStore) UpdateScore(ctx context.Context, id domain.RequestID, score *float64, best *BestMatch, to RequestStatus, from ...RequestStatus) error {
	var (
		bestDonorID    any
		bestDonationID any
		bestScore      any
		bestComputedAt any
	)
	if best != nil {
		bestDonorID = uuid.UUID(best.DonorID)
		bestDonationID = uuid.UUID(best.DonationID)
		bestScore = best.Score
		bestComputedAt = best.ComputedAt
	}
	query := `
		UPDATE patient_requests
		SET match_score = $3, best_donor_id = $4, best_donation_id = $5,
		    best_score = $6, best_computed_at = $7, status = $8,
		    scoring_error = '', updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`
	return s.conditionalUpdate(ctx, id, query,
		uuid.UUID(id), pq.Array(statusStrings(from)), score,
		bestDonorID, bestDonationID, bestScore, bestComputedAt, string(to))
}

func (s *PostgresPatientStore) SetScoringError(ctx context.Context, id domain.RequestID, reason string) error {
	result, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE patient_requests SET scoring_error = $2, updated_at = NOW() WHERE id = $1`,
		uuid.UUID(id), reason)
	if err != nil {
		return classifyPGError(err, "set scoring error")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresPatientStore) UpdateStatus(ctx context.Context, id domain.RequestID, to RequestStatus, from ...RequestStatus) error {
	query := `
		UPDATE patient_requests
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
	`
	return s.conditionalUpdate(ctx, id, query, uuid.UUID(id), pq.Array(statusStrings(from)), string(to))
}

// conditionalUpdate runs a guarded UPDATE and maps "zero rows" onto the
// not-found / invalid-state sentinels.
func (s *PostgresPatientStore) conditionalUpdate(ctx context.Context, id domain.RequestID, query string, args ...any) error {
	result, err := s.conn(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return classifyPGError(err, "update patient request")
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, findErr := s.FindByID(ctx, id); findErr == nil {
			return sentinel.ErrInvalidState
		}
		return sentinel.ErrNotFound
	}
	return nil
}

func scanPatientRequest(row rowScanner) (PatientRequest, error) {
	var (
		request        PatientRequest
		id, patientID  uuid.UUID
		organ, blood   string
		status         string
		testsBytes     []byte
		matchScore     sql.NullFloat64
		bestDonorID    uuid.NullUUID
		bestDonationID uuid.NullUUID
		bestScore      sql.NullFloat64
		bestComputedAt sql.NullTime
	)
	err := row.Scan(&id, &patientID, &organ, &blood, &request.Lat, &request.Lon,
		&testsBytes, &request.Consent, &status,
		&matchScore, &bestDonorID, &bestDonationID, &bestScore, &bestComputedAt,
		&request.ScoringError, &request.SubmittedAt, &request.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PatientRequest{}, sentinel.ErrNotFound
		}
		return PatientRequest{}, classifyPGError(err, "scan patient request")
	}
	request.ID = domain.RequestID(id)
	request.PatientID = domain.PatientID(patientID)
	request.Organ = domain.Organ(organ)
	request.BloodGroup = domain.BloodGroup(blood)
	request.Status = RequestStatus(status)
	if matchScore.Valid {
		request.MatchScore = &matchScore.Float64
	}
	if bestDonorID.Valid && bestDonationID.Valid && bestScore.Valid {
		request.BestMatch = &BestMatch{
			DonorID:    domain.DonorID(bestDonorID.UUID),
			DonationID: domain.DonationID(bestDonationID.UUID),
			Score:      bestScore.Float64,
			ComputedAt: bestComputedAt.Time,
		}
	}
	if len(testsBytes) > 0 {
		if err := json.Unmarshal(testsBytes, &request.Tests); err != nil {
			return PatientRequest{}, fmt.Errorf("unmarshal request tests: %w", err)
		}
	}
	return request, nil
}

func openStatuses() []string {
	return []string{string(RequestSubmitted), string(RequestScored), string(RequestNoMatch)}
}

func statusStrings(statuses []RequestStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// classifyPGError maps driver failures onto sentinels: unique violations
// become ErrConflict, everything else is treated as a transient store fault
// so the retry boundary can act on it.
func classifyPGError(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w: %v", op, sentinel.ErrUnavailable, err)
}
