package evm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalAddress(t *testing.T) {
	// Checksumming follows EIP-55.
	got, err := CanonicalAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", got)

	// Already canonical input is a fixed point.
	again, err := CanonicalAddress(got)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	for _, bad := range []string{"", "0x123", "not-an-address", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed1234567890"} {
		_, err := CanonicalAddress(bad)
		assert.Error(t, err, bad)
	}
}

func TestSameAddress(t *testing.T) {
	assert.True(t, sameAddress("0xABcD", "0xabcd"))
	assert.False(t, sameAddress("0xABcD", "0xabce"))
}
