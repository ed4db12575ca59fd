package match

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"organlink/pkg/domain"
	"organlink/pkg/platform/sentinel"
	platformtx "organlink/pkg/platform/tx"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists matches in PostgreSQL. It runs against the
// transaction carried in context when the arbiter opens one, so the whole
// decision commits or rolls back as a unit.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) conn(ctx context.Context) dbtx {
	if tx, ok := platformtx.From(ctx); ok {
		return tx
	}
	return s.db
}

const matchColumns = `id, donor_id, donation_id, patient_id, request_id, organ, status, remarks, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, m Match) error {
	query := `
		INSERT INTO matches (` + matchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(m.ID),
		uuid.UUID(m.DonorID),
		uuid.UUID(m.DonationID),
		uuid.UUID(m.PatientID),
		uuid.UUID(m.RequestID),
		m.Organ.String(),
		string(m.Status),
		m.Remarks,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if err != nil {
		return classifyMatchError(err, "create match")
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id domain.MatchID) (Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`
	return scanMatch(s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(id)))
}

func (s *PostgresStore) FindApproved(ctx context.Context, donorID domain.DonorID, organ domain.Organ) (Match, error) {
	query := `
		SELECT ` + matchColumns + ` FROM matches
		WHERE donor_id = $1 AND organ = $2 AND status = 'approved'
	`
	return scanMatch(s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(donorID), organ.String()))
}

func (s *PostgresStore) ListPendingByDonorAndOrgan(ctx context.Context, donorID domain.DonorID, organ domain.Organ) ([]Match, error) {
	query := `
		SELECT ` + matchColumns + ` FROM matches
		WHERE donor_id = $1 AND organ = $2 AND status = 'pending'
		ORDER BY id
	`
	rows, err := s.conn(ctx).QueryContext(ctx, query, uuid.UUID(donorID), organ.String())
	if err != nil {
		return nil, classifyMatchError(err, "list pending matches")
	}
	defer rows.Close()
	return collectMatches(rows)
}

func (s *PostgresStore) FindPendingByRequestAndDonor(ctx context.Context, requestID domain.RequestID, donorID domain.DonorID) (Match, error) {
	query := `
		SELECT ` + matchColumns + ` FROM matches
		WHERE request_id = $1 AND donor_id = $2 AND status = 'pending'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanMatch(s.conn(ctx).QueryRowContext(ctx, query, uuid.UUID(requestID), uuid.UUID(donorID)))
}

func (s *PostgresStore) ListApprovedByOrgan(ctx context.Context, organ domain.Organ) ([]Match, error) {
	query := `
		SELECT ` + matchColumns + ` FROM matches
		WHERE organ = $1 AND status = 'approved'
		ORDER BY id
	`
	rows, err := s.conn(ctx).QueryContext(ctx, query, organ.String())
	if err != nil {
		return nil, classifyMatchError(err, "list approved matches")
	}
	defer rows.Close()
	return collectMatches(rows)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id domain.MatchID, from, to Status, remarks string) (Match, error) {
	query := `
		UPDATE matches
		SET status = $3,
		    remarks = CASE WHEN $4 <> '' THEN $4 ELSE remarks END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + matchColumns
	m, err := scanMatch(s.conn(ctx).QueryRowContext(ctx, query,
		uuid.UUID(id), string(from), string(to), remarks))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			if _, findErr := s.FindByID(ctx, id); findErr == nil {
				return Match{}, sentinel.ErrInvalidState
			}
			return Match{}, sentinel.ErrNotFound
		}
		return Match{}, err
	}
	return m, nil
}

type matchRowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row matchRowScanner) (Match, error) {
	var (
		m                         Match
		id, donorID, donationID   uuid.UUID
		patientID, requestID      uuid.UUID
		organ, status             string
	)
	err := row.Scan(&id, &donorID, &donationID, &patientID, &requestID,
		&organ, &status, &m.Remarks, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Match{}, sentinel.ErrNotFound
		}
		return Match{}, classifyMatchError(err, "scan match")
	}
	m.ID = domain.MatchID(id)
	m.DonorID = domain.DonorID(donorID)
	m.DonationID = domain.DonationID(donationID)
	m.PatientID = domain.PatientID(patientID)
	m.RequestID = domain.RequestID(requestID)
	m.Organ = domain.Organ(organ)
	m.Status = Status(status)
	return m, nil
}

func collectMatches(rows *sql.Rows) ([]Match, error) {
	var out []Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyMatchError(err, "iterate matches")
	}
	return out, nil
}

// classifyMatchError maps unique violations, notably the partial index on
// approved (donor, organ) rows, onto ErrConflict and everything else onto
// ErrUnavailable.
func classifyMatchError(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w: %v", op, sentinel.ErrUnavailable, err)
}
