package profile

// Schema is the DDL for the profile tables. Every statement is idempotent;
// the server applies it at startup and the integration tests reuse it.
const Schema = `
CREATE TABLE IF NOT EXISTS donor_records (
	id UUID PRIMARY KEY,
	donor_id UUID NOT NULL,
	organ TEXT NOT NULL,
	blood_group TEXT NOT NULL,
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL,
	tests JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	remarks TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL,
	verified_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (donor_id, organ)
);

CREATE INDEX IF NOT EXISTS donor_records_organ_status_idx
	ON donor_records (organ, status);

CREATE TABLE IF NOT EXISTS patient_requests (
	id UUID PRIMARY KEY,
	patient_id UUID NOT NULL,
	organ TEXT NOT NULL,
	blood_group TEXT NOT NULL,
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL,
	tests JSONB NOT NULL DEFAULT '{}',
	consent BOOLEAN NOT NULL,
	status TEXT NOT NULL,
	match_score DOUBLE PRECISION,
	best_donor_id UUID,
	best_donation_id UUID,
	best_score DOUBLE PRECISION,
	best_computed_at TIMESTAMPTZ,
	scoring_error TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS patient_requests_organ_status_idx
	ON patient_requests (organ, status);
`
