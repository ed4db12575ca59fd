package domain

import (
	"fmt"
	"strings"

	dErrors "organlink/pkg/domain-errors"
)

// BloodGroup is an ABO/Rh blood type. Compatibility between donor and
// recipient follows standard transfusion rules: the recipient must carry
// every ABO antigen the donor has, and an Rh-negative recipient can only
// receive from an Rh-negative donor.
type BloodGroup string

const (
	BloodAPos  BloodGroup = "A+"
	BloodANeg  BloodGroup = "A-"
	BloodBPos  BloodGroup = "B+"
	BloodBNeg  BloodGroup = "B-"
	BloodABPos BloodGroup = "AB+"
	BloodABNeg BloodGroup = "AB-"
	BloodOPos  BloodGroup = "O+"
	BloodONeg  BloodGroup = "O-"
)

var validBloodGroups = map[BloodGroup]bool{
	BloodAPos: true, BloodANeg: true,
	BloodBPos: true, BloodBNeg: true,
	BloodABPos: true, BloodABNeg: true,
	BloodOPos: true, BloodONeg: true,
}

// ParseBloodGroup validates and returns a BloodGroup. Input is upper-cased
// and trimmed so "o+" and " O+ " normalize to O+.
func ParseBloodGroup(s string) (BloodGroup, error) {
	g := BloodGroup(strings.ToUpper(strings.TrimSpace(s)))
	if !validBloodGroups[g] {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown blood group: %q", s))
	}
	return g, nil
}

func (g BloodGroup) String() string {
	return string(g)
}

func (g BloodGroup) IsValid() bool {
	return validBloodGroups[g]
}

func (g BloodGroup) abo() string {
	return strings.TrimRight(string(g), "+-")
}

func (g BloodGroup) rhPositive() bool {
	return strings.HasSuffix(string(g), "+")
}

// CanDonateTo reports whether a donor with group g is medically compatible
// with the recipient group. Incompatible pairs are a hard filter in ranking,
// never just a low score.
func (g BloodGroup) CanDonateTo(recipient BloodGroup) bool {
	if !g.IsValid() || !recipient.IsValid() {
		return false
	}
	if g.rhPositive() && !recipient.rhPositive() {
		return false
	}
	donorABO, recipientABO := g.abo(), recipient.abo()
	switch donorABO {
	case "O":
		return true
	case "AB":
		return recipientABO == "AB"
	default: // A or B
		return recipientABO == donorABO || recipientABO == "AB"
	}
}
