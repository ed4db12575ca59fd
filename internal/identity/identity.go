// Package identity holds the caller identity model and the single place
// where identifier strings from the surrounding application are normalized
// into typed IDs.
package identity

import (
	"strings"

	"github.com/google/uuid"

	dErrors "organlink/pkg/domain-errors"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDonor   Role = "donor"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RolePatient, RoleDonor, RoleAdmin:
		return Role(s), nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown role: "+s)
}

// Identity is the authenticated caller of an engine operation.
type Identity struct {
	Subject uuid.UUID
	Role    Role
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Normalize maps the identifier shapes seen at the boundary onto a bare
// UUID: plain UUIDs, urn:uuid: prefixes, and role-prefixed forms like
// "donor:<uuid>". Every inbound identifier goes through here instead of
// per-call parsing.
func Normalize(raw string) (uuid.UUID, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "urn:uuid:")
	for _, prefix := range []string{"donor:", "patient:", "admin:", "user:"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			s = rest
			break
		}
	}
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid identifier")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "identifier must not be the nil UUID")
	}
	return parsed, nil
}
