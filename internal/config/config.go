// Package config loads the environment surface described in spec §6:
// listen port, the indexed CHAIN_{i}_* chain list, and provider
// failover/credentials for chains with no explicit wsUrl.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"mempool-fanout/internal/dialect"
	"mempool-fanout/internal/providerurl"
)

// Chain is one fully-resolved chain configuration (spec §3 ChainConfig).
type Chain struct {
	ID      int64
	Name    string
	WSURL   string
	RPCURL  string
	Dialect dialect.Dialect
}

// Config is the full process configuration loaded at startup.
type Config struct {
	Port              string
	Chains            []Chain
	StoreDBPath       string
	RetentionHorizon  string // parsed by the caller into a time.Duration
	RetentionInterval string
}

// InvalidError wraps a fatal startup configuration problem (spec §7
// ConfigInvalid); main() exits non-zero on it before any Session starts.
type InvalidError struct {
	Reason string
}

func (e *InvalidError) Error() string { return "config invalid: " + e.Reason }

// Load reads the process environment and returns a validated Config, or
// an *InvalidError describing the first problem found.
func Load(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := Config{
		Port:              nonEmpty(getenv("PORT"), "8080"),
		StoreDBPath:       nonEmpty(getenv("STORE_DB_PATH"), "mempool.db"),
		RetentionHorizon:  nonEmpty(getenv("RETENTION"), "24h"),
		RetentionInterval: nonEmpty(getenv("RETENTION_SWEEP_INTERVAL"), "10m"),
	}

	providers := splitCSV(firstNonEmpty(getenv("PROVIDERS"), getenv("PROVIDER")))
	apiKeys := map[string]string{}
	for _, p := range providers {
		apiKeys[p] = getenv(strings.ToUpper(p) + "_API_KEY")
	}

	chains, err := loadChains(getenv, providers, apiKeys)
	if err != nil {
		return Config{}, err
	}
	if len(chains) == 0 {
		return Config{}, &InvalidError{Reason: "no chains configured (CHAIN_1_NAME/CHAIN_1_ID missing)"}
	}
	cfg.Chains = chains
	return cfg, nil
}

// loadChains walks CHAIN_{i}_NAME / CHAIN_{i}_ID for i = 1, 2, ...,
// stopping at the first missing pair (spec §6).
func loadChains(getenv func(string) string, providers []string, apiKeys map[string]string) ([]Chain, error) {
	var chains []Chain
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("CHAIN_%d_", i)
		name := getenv(prefix + "NAME")
		idStr := getenv(prefix + "ID")
		if name == "" || idStr == "" {
			break
		}

		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || id <= 0 {
			return nil, &InvalidError{Reason: fmt.Sprintf("%sID must be a positive integer, got %q", prefix, idStr)}
		}

		wsURL := getenv(prefix + "WS_URL")
		rpcURL := getenv(prefix + "RPC_URL")

		if wsURL == "" {
			ep, err := resolveViaProviders(providers, id, apiKeys)
			if err != nil {
				return nil, &InvalidError{Reason: fmt.Sprintf("chain %d (%s): %v", id, name, err)}
			}
			wsURL = ep.WSURL
			if rpcURL == "" {
				rpcURL = ep.HTTPURL
			}
		}

		if !strings.HasPrefix(wsURL, "wss://") {
			return nil, &InvalidError{Reason: fmt.Sprintf("chain %d (%s): wsUrl must start with wss://, got %q", id, name, wsURL)}
		}

		chains = append(chains, Chain{
			ID:      id,
			Name:    name,
			WSURL:   wsURL,
			RPCURL:  rpcURL,
			Dialect: dialect.ForChain(id),
		})
	}
	return chains, nil
}

func resolveViaProviders(providers []string, chainID int64, apiKeys map[string]string) (providerurl.Endpoint, error) {
	if len(providers) == 0 {
		return providerurl.Endpoint{}, fmt.Errorf("no wsUrl and no PROVIDER/PROVIDERS configured")
	}
	return providerurl.FirstAvailable(providers, chainID, apiKeys)
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
