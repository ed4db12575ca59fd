package match

// Schema is the DDL for the matches table. The partial unique index is the
// database-level backstop for the one-approved-match-per-donor-per-organ
// invariant; the arbiter's lock makes the normal path race-free and the
// index makes the abnormal path fail loudly.
const Schema = `
CREATE TABLE IF NOT EXISTS matches (
	id UUID PRIMARY KEY,
	donor_id UUID NOT NULL,
	donation_id UUID NOT NULL,
	patient_id UUID NOT NULL,
	request_id UUID NOT NULL,
	organ TEXT NOT NULL,
	status TEXT NOT NULL,
	remarks TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS matches_one_approved_per_donor_organ
	ON matches (donor_id, organ) WHERE status = 'approved';

CREATE INDEX IF NOT EXISTS matches_donor_organ_status_idx
	ON matches (donor_id, organ, status);
`
