package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePhone(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{in: "+1234567890", ok: true},
		{in: "5551234567", ok: true},
		{in: "+91 98765 43210", ok: true},
		{in: "12", ok: true},
		{in: "555", ok: true},
		{in: "+12ab", ok: false},
		{in: "1", ok: false},
		{in: "+0123456789", ok: false},
		{in: "0123456789", ok: false},
		{in: "+1234567890123456", ok: false},
		{in: "555-123-4567", ok: false},
		{in: "", ok: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			err := ValidatePhone(tc.in)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "+5551234567", NormalizePhone("5551234567"))
	assert.Equal(t, "+5551234567", NormalizePhone("+5551234567"))
	assert.Equal(t, "+919876543210", NormalizePhone(" 91 98765 43210 "))
}

func TestMaskPhone(t *testing.T) {
	assert.Equal(t, "*******4567", MaskPhone("+5551234567"))
	assert.Equal(t, "123", MaskPhone("123"))
}
