// Package providerurl builds upstream WebSocket/HTTP endpoints for a
// named provider, chain, and credential. It makes no network calls: it
// is a pure string-template lookup (spec §4.2).
package providerurl

import "fmt"

// Endpoint is the resolved pair of URLs for a chain.
type Endpoint struct {
	WSURL   string
	HTTPURL string
}

// UnsupportedChainError is returned when a provider has no template for
// the requested chainId.
type UnsupportedChainError struct {
	Provider string
	ChainID  int64
}

func (e *UnsupportedChainError) Error() string {
	return fmt.Sprintf("providerurl: provider %q does not support chain %d", e.Provider, e.ChainID)
}

// UnknownProviderError is returned for a provider name not in the
// built-in registry.
type UnknownProviderError struct {
	Provider string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("providerurl: unknown provider %q", e.Provider)
}

// subdomain maps a provider+chainId pair to the host subdomain the
// provider uses for that network. Extend this table to add chains.
var subdomain = map[string]map[int64]string{
	"alchemy": {
		1:     "eth-mainnet",
		137:   "polygon-mainnet",
		8453:  "base-mainnet",
		42161: "arb-mainnet",
		10:    "opt-mainnet",
	},
	"infura": {
		1:     "mainnet",
		137:   "polygon-mainnet",
		42161: "arbitrum-mainnet",
		10:    "optimism-mainnet",
	},
	"ankr": {
		1:     "eth",
		137:   "polygon",
		56:    "bsc",
		43114: "avalanche",
	},
}

// EndpointFor returns the wsUrl/httpUrl pair for provider+chainId+apiKey.
// "custom" short-circuits: apiKey is treated as a caller-supplied literal
// wsUrl and httpUrl is left empty (the Session derives it per §6).
func EndpointFor(provider string, chainID int64, apiKey string) (Endpoint, error) {
	if provider == "custom" {
		if apiKey == "" {
			return Endpoint{}, fmt.Errorf("providerurl: custom provider requires a literal URL")
		}
		return Endpoint{WSURL: apiKey}, nil
	}

	hosts, ok := subdomain[provider]
	if !ok {
		return Endpoint{}, &UnknownProviderError{Provider: provider}
	}
	host, ok := hosts[chainID]
	if !ok {
		return Endpoint{}, &UnsupportedChainError{Provider: provider, ChainID: chainID}
	}

	switch provider {
	case "alchemy":
		return Endpoint{
			WSURL:   fmt.Sprintf("wss://%s.g.alchemy.com/v2/%s", host, apiKey),
			HTTPURL: fmt.Sprintf("https://%s.g.alchemy.com/v2/%s", host, apiKey),
		}, nil
	case "infura":
		return Endpoint{
			WSURL:   fmt.Sprintf("wss://%s.infura.io/ws/v3/%s", host, apiKey),
			HTTPURL: fmt.Sprintf("https://%s.infura.io/v3/%s", host, apiKey),
		}, nil
	case "ankr":
		return Endpoint{
			WSURL:   fmt.Sprintf("wss://rpc.ankr.com/%s/ws/%s", host, apiKey),
			HTTPURL: fmt.Sprintf("https://rpc.ankr.com/%s/%s", host, apiKey),
		}, nil
	default:
		return Endpoint{}, &UnknownProviderError{Provider: provider}
	}
}

// FirstAvailable tries providers in order and returns the first endpoint
// that resolves without UnsupportedChain/UnknownProvider, matching §4.2's
// "first successful endpoint is used" failover rule.
func FirstAvailable(providers []string, chainID int64, apiKeys map[string]string) (Endpoint, error) {
	var lastErr error
	for _, p := range providers {
		ep, err := EndpointFor(p, chainID, apiKeys[p])
		if err == nil {
			return ep, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("providerurl: no providers configured")
	}
	return Endpoint{}, lastErr
}
