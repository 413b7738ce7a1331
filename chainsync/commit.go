package chainsync

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// Commitment computes keccak256 of the fixed-width packing of slot index and
// secret (two 32-byte big-endian words), matching the contract's
// verification of a revealed value.
func Commitment(index uint64, secret *big.Int) [32]byte {
	var packed [64]byte
	new(big.Int).SetUint64(index).FillBytes(packed[:32])
	secret.FillBytes(packed[32:])

	h := sha3.NewLegacyKeccak256()
	h.Write(packed[:])

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Provision generates n fresh 256-bit secrets and publishes the commitment
// for each slot to the ledger, strictly one at a time so the writes land in
// slot order. Any write failure aborts the whole run: a partially
// provisioned slate is not safely resumable, so nothing is returned and the
// operator restarts clean. The caller is responsible for persisting the
// returned secrets.
func Provision(ctx context.Context, ledger Ledger, n int, logger *logrus.Logger) (*Secrets, error) {
	if n <= 0 {
		return nil, fmt.Errorf("slot count must be positive, got %d", n)
	}

	values := make([]*big.Int, 0, n)
	for i := 0; i < n; i++ {
		var buf [32]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, fmt.Errorf("generate secret for slot %d: %w", i, err)
		}
		secret := new(big.Int).SetBytes(buf[:])

		commitment := Commitment(uint64(i), secret)
		if err := ledger.SetCommitment(ctx, uint64(i), commitment); err != nil {
			return nil, fmt.Errorf("commit slot %d: %w", i, err)
		}

		values = append(values, secret)
		logger.WithFields(logrus.Fields{
			"slot": i,
		}).Info("committed rng for order slot")
	}

	return NewSecrets(values), nil
}
