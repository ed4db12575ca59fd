package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "organlink/pkg/domain-errors"
)

func TestParseOrgan(t *testing.T) {
	tests := []struct {
		in      string
		want    Organ
		wantErr bool
	}{
		{in: "kidney", want: OrganKidney},
		{in: "liver", want: OrganLiver},
		{in: "heart", want: OrganHeart},
		{in: "cornea", want: OrganCornea},
		{in: "spleen", wantErr: true},
		{in: "Kidney", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOrgan(tt.in)
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
