package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/maybewear/shop_backend/chainsync"
	"github.com/maybewear/shop_backend/config"
)

// commitment-setup is the one-shot provisioner: it generates one secret per
// future order slot, publishes each slot's commitment to the settlement
// contract in order, and only then writes the secrets file the reconciler
// reveals from. Any failure aborts the whole run with a non-zero exit;
// partially provisioned state is not resumable, restart from a clean slate.
func main() {
	if len(os.Args) != 5 {
		usage()
	}

	privateKey := strings.TrimSpace(os.Args[1])
	chainID, err := strconv.ParseInt(os.Args[2], 10, 64)
	if err != nil || chainID <= 0 {
		usage()
	}
	contractAddress := strings.TrimSpace(os.Args[3])
	count, err := strconv.Atoi(os.Args[4])
	if err != nil || count <= 0 {
		usage()
	}
	if privateKey == "" || contractAddress == "" {
		usage()
	}

	rpcURL := strings.TrimSpace(os.Getenv("CHAIN_RPC_URL"))
	if rpcURL == "" {
		fmt.Fprintln(os.Stderr, "CHAIN_RPC_URL is required")
		os.Exit(1)
	}

	logger := config.GetLogger()

	ledger, err := chainsync.NewEthLedger(config.ChainConfig{
		RPCURL:          rpcURL,
		ChainID:         big.NewInt(chainID),
		ContractAddress: contractAddress,
		PrivateKey:      privateKey,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger client: %v\n", err)
		os.Exit(1)
	}

	secrets, err := chainsync.Provision(context.Background(), ledger, count, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "provisioning failed: %v\n", err)
		os.Exit(1)
	}

	secretsPath := strings.TrimSpace(os.Getenv("SECRETS_PATH"))
	if secretsPath == "" {
		secretsPath = "./secrets.json"
	}
	if err := secrets.Save(secretsPath); err != nil {
		fmt.Fprintf(os.Stderr, "write secrets file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("committed %d rng values onchain and saved to %s\n", count, secretsPath)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: commitment-setup <private_key> <chain_id> <contract_address> <number_of_orders>")
	os.Exit(1)
}
