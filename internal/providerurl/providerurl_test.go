package providerurl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEndpointFor_Alchemy(t *testing.T) {
	ep, err := EndpointFor("alchemy", 1, "key123")
	require.NoError(t, err)
	require.Equal(t, "wss://eth-mainnet.g.alchemy.com/v2/key123", ep.WSURL)
	require.Equal(t, "https://eth-mainnet.g.alchemy.com/v2/key123", ep.HTTPURL)
}

func TestEndpointFor_UnknownProvider(t *testing.T) {
	_, err := EndpointFor("notaprovider", 1, "key")
	require.Error(t, err)
	var unknown *UnknownProviderError
	require.ErrorAs(t, err, &unknown)
}

func TestEndpointFor_UnsupportedChain(t *testing.T) {
	_, err := EndpointFor("infura", 56, "key")
	require.Error(t, err)
	var unsupported *UnsupportedChainError
	require.ErrorAs(t, err, &unsupported)
}

func TestEndpointFor_Custom(t *testing.T) {
	ep, err := EndpointFor("custom", 1, "wss://my-node.local/ws")
	require.NoError(t, err)
	require.Equal(t, "wss://my-node.local/ws", ep.WSURL)
	require.Empty(t, ep.HTTPURL)
}

func TestEndpointFor_CustomRequiresURL(t *testing.T) {
	_, err := EndpointFor("custom", 1, "")
	require.Error(t, err)
}

func TestFirstAvailable_SkipsUnsupported(t *testing.T) {
	ep, err := FirstAvailable([]string{"infura", "ankr"}, 56, map[string]string{
		"infura": "key1",
		"ankr":   "key2",
	})
	require.NoError(t, err)
	require.Contains(t, ep.WSURL, "bsc")
}

func TestFirstAvailable_AllFail(t *testing.T) {
	_, err := FirstAvailable([]string{"infura"}, 999999, map[string]string{"infura": "key"})
	require.Error(t, err)
}
