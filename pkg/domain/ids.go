package domain

import (
	"fmt"

	"github.com/google/uuid"

	dErrors "organlink/pkg/domain-errors"
)

// Typed IDs keep donor, patient, request, and match identifiers from being
// mixed up at compile time. Parse functions enforce the invariant that IDs
// are valid, non-nil UUIDs at trust boundaries.

type DonorID uuid.UUID

type PatientID uuid.UUID

// DonationID identifies one donor submission for one organ.
type DonationID uuid.UUID

// RequestID identifies one patient's organ request.
type RequestID uuid.UUID

type MatchID uuid.UUID

func parseUUID(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s is required", kind))
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("invalid %s", kind))
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s must not be the nil UUID", kind))
	}
	return parsed, nil
}

func ParseDonorID(s string) (DonorID, error) {
	parsed, err := parseUUID("donor_id", s)
	return DonorID(parsed), err
}

func ParsePatientID(s string) (PatientID, error) {
	parsed, err := parseUUID("patient_id", s)
	return PatientID(parsed), err
}

func ParseDonationID(s string) (DonationID, error) {
	parsed, err := parseUUID("donation_id", s)
	return DonationID(parsed), err
}

func ParseRequestID(s string) (RequestID, error) {
	parsed, err := parseUUID("request_id", s)
	return RequestID(parsed), err
}

func ParseMatchID(s string) (MatchID, error) {
	parsed, err := parseUUID("match_id", s)
	return MatchID(parsed), err
}

func NewDonationID() DonationID { return DonationID(uuid.New()) }

func NewRequestID() RequestID { return RequestID(uuid.New()) }

func NewMatchID() MatchID { return MatchID(uuid.New()) }

func (id DonorID) String() string    { return uuid.UUID(id).String() }
func (id PatientID) String() string  { return uuid.UUID(id).String() }
func (id DonationID) String() string { return uuid.UUID(id).String() }
func (id RequestID) String() string  { return uuid.UUID(id).String() }
func (id MatchID) String() string    { return uuid.UUID(id).String() }

func (id DonorID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id PatientID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id DonationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id MatchID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
