package chainsync

import (
	"context"
	"math/big"
)

// Ledger is the narrow view of the external settlement contract. The
// reconciler and provisioner depend on these four operations only; transport
// details live in the adapter.
//
// Writes either land durably (observable on the next read) or fail outright;
// implementations must not report success for a reverted write.
type Ledger interface {
	// OrderCount returns the number of orders placed so far.
	OrderCount(ctx context.Context) (uint64, error)
	// GetOrder reads the raw order record for an id.
	GetOrder(ctx context.Context, id uint64) (ChainOrder, error)
	// ResolveOrder reveals the secret committed for a pending order,
	// letting the ledger settle it to paid or free.
	ResolveOrder(ctx context.Context, id uint64, secret *big.Int) error
	// SetCommitment publishes the one-way commitment for a future order slot.
	SetCommitment(ctx context.Context, id uint64, commitment [32]byte) error
}
