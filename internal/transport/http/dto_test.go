package httptransport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "organlink/pkg/domain-errors"
)

func TestSubmitDonationValidation(t *testing.T) {
	valid := submitDonationRequest{
		Organ:      "kidney",
		BloodGroup: "O-",
		Lat:        12.9716,
		Lon:        77.5946,
	}
	require.NoError(t, valid.validate())

	// Zero coordinates are inside both ranges.
	equator := submitDonationRequest{Organ: "kidney", BloodGroup: "O-"}
	require.NoError(t, equator.validate())

	missing := submitDonationRequest{Organ: "kidney"}
	err := missing.validate()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	badLat := valid
	badLat.Lat = 123
	err = badLat.validate()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))

	badLon := valid
	badLon.Lon = -191
	err = badLon.validate()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestSubmitPatientRequestValidation(t *testing.T) {
	valid := submitPatientRequest{
		Organ:      "liver",
		BloodGroup: "A+",
		Lat:        -33.8688,
		Lon:        151.2093,
		Consent:    true,
	}
	require.NoError(t, valid.validate())

	badLat := valid
	badLat.Lat = 90.0001
	err := badLat.validate()
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
