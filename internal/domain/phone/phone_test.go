package phone_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarvalho-pb/mpesa_checkout-go/internal/domain/phone"
)

func TestValidate_AcceptedFormsNormalizeToSameNumber(t *testing.T) {
	inputs := []string{
		"+254712345678",
		"254712345678",
		"0712345678",
		"712345678",
		" 0712 345 678 ",
		"+254 712 345 678",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, err := phone.Validate(in)
			require.NoError(t, err)
			assert.Equal(t, "+254712345678", got)

			again, err := phone.Validate(got)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestValidate_AcceptsOnePrefix(t *testing.T) {
	got, err := phone.Validate("0112345678")
	require.NoError(t, err)
	assert.Equal(t, "+254112345678", got)
}

func TestValidate_RejectsMalformedNumbers(t *testing.T) {
	inputs := []string{
		"",
		"12345",
		"+254512345678",
		"07123456789",
		"071234567",
		"+255712345678",
		"07123abc78",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := phone.Validate(in)
			require.Error(t, err)

			var vErr *phone.ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, in, vErr.Input)
			assert.Equal(t, "invalid phone", err.Error())
		})
	}
}

func TestNormalize_OnlyRewritesKnownPrefixes(t *testing.T) {
	assert.Equal(t, "+25412345", phone.Normalize("12345"))
	assert.Equal(t, "8123", phone.Normalize("8123"))
	assert.Equal(t, "+44700900123", phone.Normalize("+44 700 900 123"))
}
