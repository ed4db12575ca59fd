package domain

import (
	"fmt"

	dErrors "organlink/pkg/domain-errors"
)

// Organ constrains which donor and patient records are comparable. Records
// for different organs never meet in scoring or matching.
type Organ string

const (
	OrganKidney Organ = "kidney"
	OrganLiver  Organ = "liver"
	OrganHeart  Organ = "heart"
	OrganCornea Organ = "cornea"
)

var validOrgans = map[Organ]bool{
	OrganKidney: true,
	OrganLiver:  true,
	OrganHeart:  true,
	OrganCornea: true,
}

// ParseOrgan validates and returns an Organ. Unknown values are rejected.
func ParseOrgan(s string) (Organ, error) {
	o := Organ(s)
	if !validOrgans[o] {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown organ: %q", s))
	}
	return o, nil
}

func (o Organ) String() string {
	return string(o)
}

func (o Organ) IsValid() bool {
	return validOrgans[o]
}
