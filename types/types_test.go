package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChainRef(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantErr   bool
		namespace string
		reference string
	}{
		{"mainnet", "eip155:1", false, "eip155", "1"},
		{"testnet", "eip155:11155111", false, "eip155", "11155111"},
		{"reference with colon", "cosmos:cosmoshub-4", false, "cosmos", "cosmoshub-4"},
		{"missing reference", "eip155:", true, "", ""},
		{"missing namespace", ":1", true, "", ""},
		{"no separator", "eip155", true, "", ""},
		{"empty", "", true, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseChainRef(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.namespace, ref.Namespace())
			assert.Equal(t, tt.reference, ref.Reference())
			assert.Equal(t, tt.input, ref.String())
		})
	}
}

func TestNewChainRef(t *testing.T) {
	ref := NewChainRef("eip155", "137")
	assert.Equal(t, ChainRef("eip155:137"), ref)
	assert.NoError(t, ref.Validate())
}

func TestCapabilityValid(t *testing.T) {
	assert.True(t, CapabilityBasic.Valid())
	assert.True(t, CapabilityAccounts.Valid())
	assert.True(t, CapabilitySign.Valid())
	assert.True(t, CapabilityTransaction.Valid())
	assert.False(t, Capability("admin").Valid())
	assert.False(t, Capability("").Valid())
}
