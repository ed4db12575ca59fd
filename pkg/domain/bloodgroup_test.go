package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "organlink/pkg/domain-errors"
)

func TestParseBloodGroup(t *testing.T) {
	tests := []struct {
		in      string
		want    BloodGroup
		wantErr bool
	}{
		{in: "A+", want: BloodAPos},
		{in: "o-", want: BloodONeg},
		{in: " ab+ ", want: BloodABPos},
		{in: "C+", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBloodGroup(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCanDonateTo(t *testing.T) {
	// Spot checks across the ABO/Rh rules rather than the full grid.
	assert.True(t, BloodONeg.CanDonateTo(BloodABPos), "O- is the universal donor")
	assert.True(t, BloodONeg.CanDonateTo(BloodONeg))
	assert.True(t, BloodOPos.CanDonateTo(BloodAPos))
	assert.False(t, BloodOPos.CanDonateTo(BloodANeg), "Rh+ cannot donate to Rh-")
	assert.True(t, BloodAPos.CanDonateTo(BloodABPos))
	assert.False(t, BloodAPos.CanDonateTo(BloodBPos))
	assert.False(t, BloodABPos.CanDonateTo(BloodAPos), "AB only donates to AB")
	assert.True(t, BloodABNeg.CanDonateTo(BloodABPos))
	assert.False(t, BloodGroup("C+").CanDonateTo(BloodAPos), "invalid groups never match")
	assert.False(t, BloodAPos.CanDonateTo(BloodGroup("")))
}
