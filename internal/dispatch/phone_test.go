package dispatch

import (
	"errors"
	"testing"

	"github.com/couchcryptid/storm-impact-alerts/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		region string
		want   string
	}{
		{"US national format", "(201) 555-0123", "US", "+12015550123"},
		{"US digits only", "2015550123", "US", "+12015550123"},
		{"US with country code", "1-201-555-0123", "US", "+12015550123"},
		{"already E.164", "+12015550123", "US", "+12015550123"},
		{"international overrides region", "+44 121 234 5678", "US", "+441212345678"},
		{"lowercase region", "0121 234 5678", "gb", "+441212345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.raw, tt.region)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizePhone_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "12345", "not a number", "+1 000 000 0000"} {
		t.Run(raw, func(t *testing.T) {
			_, err := NormalizePhone(raw, "US")
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidPhone))
		})
	}
}
