package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pushchain/wallet-core/types"
)

type stubClient struct {
	chainRef types.ChainRef
	closed   bool
}

func (c *stubClient) Call(context.Context, string, interface{}) (json.RawMessage, error) {
	return json.RawMessage(`"ok"`), nil
}

func (c *stubClient) Close() error {
	c.closed = true
	return nil
}

func newTestRegistry() (*Registry, *[]*stubClient) {
	registry := NewRegistry(nil, zerolog.Nop())
	var built []*stubClient
	registry.RegisterFactory("eip155", func(chainRef types.ChainRef, _ *Transport) (Client, error) {
		c := &stubClient{chainRef: chainRef}
		built = append(built, c)
		return c, nil
	})
	return registry, &built
}

func TestGetClientBuildsLazilyAndCaches(t *testing.T) {
	registry, built := newTestRegistry()
	assert.Equal(t, 0, registry.CachedCount())

	first, err := registry.GetClient("eip155:1")
	require.NoError(t, err)
	second, err := registry.GetClient("eip155:1")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, *built, 1)
	assert.Equal(t, 1, registry.CachedCount())
}

func TestGetClientSeparatePerChain(t *testing.T) {
	registry, built := newTestRegistry()

	_, err := registry.GetClient("eip155:1")
	require.NoError(t, err)
	_, err = registry.GetClient("eip155:137")
	require.NoError(t, err)

	assert.Len(t, *built, 2)
	assert.Equal(t, 2, registry.CachedCount())
}

func TestGetClientUnknownNamespace(t *testing.T) {
	registry, _ := newTestRegistry()
	_, err := registry.GetClient("solana:mainnet")
	assert.Error(t, err)
}

func TestGetClientInvalidChainRef(t *testing.T) {
	registry, _ := newTestRegistry()
	_, err := registry.GetClient("eip155")
	assert.Error(t, err)
}

func TestInvalidateClosesAndRebuilds(t *testing.T) {
	registry, built := newTestRegistry()

	_, err := registry.GetClient("eip155:1")
	require.NoError(t, err)

	registry.Invalidate("eip155:1")
	assert.True(t, (*built)[0].closed)
	assert.Equal(t, 0, registry.CachedCount())

	_, err = registry.GetClient("eip155:1")
	require.NoError(t, err)
	assert.Len(t, *built, 2)
}

func TestInvalidateOtherChainUntouched(t *testing.T) {
	registry, built := newTestRegistry()

	_, err := registry.GetClient("eip155:1")
	require.NoError(t, err)

	registry.Invalidate("eip155:137")
	assert.False(t, (*built)[0].closed)
	assert.Equal(t, 1, registry.CachedCount())
}

func TestCloseDropsAll(t *testing.T) {
	registry, built := newTestRegistry()
	_, _ = registry.GetClient("eip155:1")
	_, _ = registry.GetClient("eip155:137")

	registry.Close()
	assert.Equal(t, 0, registry.CachedCount())
	for _, c := range *built {
		assert.True(t, c.closed)
	}
}
