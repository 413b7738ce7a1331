package config

import (
	"errors"
	"math/big"
	"os"
	"strings"
)

// ChainConfig carries everything the ledger adapter needs to reach the
// settlement contract. The private key is optional for read-only use but
// required for resolve/commitment writes.
type ChainConfig struct {
	RPCURL          string
	ChainID         *big.Int
	ContractAddress string
	PrivateKey      string
}

// ChainConfigFromEnv reads CHAIN_RPC_URL, CHAIN_ID, CONTRACT_ADDRESS and
// PRIVATE_KEY. Missing required values are an error, not a default: the
// reconciler cannot guess which contract it settles against.
func ChainConfigFromEnv() (ChainConfig, error) {
	cfg := ChainConfig{
		RPCURL:          strings.TrimSpace(os.Getenv("CHAIN_RPC_URL")),
		ContractAddress: strings.TrimSpace(os.Getenv("CONTRACT_ADDRESS")),
		PrivateKey:      strings.TrimSpace(os.Getenv("PRIVATE_KEY")),
	}
	if cfg.RPCURL == "" {
		return cfg, errors.New("CHAIN_RPC_URL is required")
	}
	if cfg.ContractAddress == "" {
		return cfg, errors.New("CONTRACT_ADDRESS is required")
	}
	rawID := strings.TrimSpace(os.Getenv("CHAIN_ID"))
	if rawID == "" {
		return cfg, errors.New("CHAIN_ID is required")
	}
	id, ok := new(big.Int).SetString(rawID, 10)
	if !ok || id.Sign() <= 0 {
		return cfg, errors.New("CHAIN_ID must be a positive integer")
	}
	cfg.ChainID = id
	return cfg, nil
}
