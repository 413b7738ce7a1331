package chainsync

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusPaid    OrderStatus = "paid"
	OrderStatusFree    OrderStatus = "free"
)

// ErrUnknownStatus means the ledger returned a status code this build does
// not understand. That breaks the reconciler's assumptions about terminal
// states, so it is fatal rather than coerced.
var ErrUnknownStatus = errors.New("unknown order status code")

// TranslateStatus maps the on-ledger status byte to the local enum.
func TranslateStatus(code uint8) (OrderStatus, error) {
	switch code {
	case 0:
		return OrderStatusPending, nil
	case 1:
		return OrderStatusPaid, nil
	case 2:
		return OrderStatusFree, nil
	default:
		return "", fmt.Errorf("%w: %d", ErrUnknownStatus, code)
	}
}

// ChainOrder is the raw per-order record read from the ledger.
type ChainOrder struct {
	Value        *big.Int
	Price        *big.Int
	Timestamp    *big.Int
	Buyer        string
	StatusCode   uint8
	MetadataHash string
}

// Order is the locally cached view of a ledger order.
type Order struct {
	ID           uint64
	Value        decimal.Decimal
	Price        decimal.Decimal
	Timestamp    int64
	Buyer        string
	Status       OrderStatus
	MetadataHash string
}

// OrderStore is the reconciler's local order cache. Exactly one goroutine
// (the reconciler) writes; API handlers read. Readers must tolerate up to
// one sync interval of staleness.
type OrderStore interface {
	Len() uint64
	Get(id uint64) (Order, bool)
	List() []Order
	Append(order Order) error
	UpdateStatus(id uint64, status OrderStatus)
}

// MemoryOrderStore keeps orders in a slice indexed by id. Ledger ids are
// assigned sequentially from zero and indexed in order, so the cache never
// has gaps.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders []Order
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{}
}

func (s *MemoryOrderStore) Len() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.orders))
}

func (s *MemoryOrderStore) Get(id uint64) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id >= uint64(len(s.orders)) {
		return Order{}, false
	}
	return s.orders[id], true
}

func (s *MemoryOrderStore) List() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, len(s.orders))
	copy(out, s.orders)
	return out
}

func (s *MemoryOrderStore) Append(order Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.ID != uint64(len(s.orders)) {
		return fmt.Errorf("append order %d out of sequence (have %d)", order.ID, len(s.orders))
	}
	s.orders = append(s.orders, order)
	return nil
}

func (s *MemoryOrderStore) UpdateStatus(id uint64, status OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= uint64(len(s.orders)) {
		return
	}
	s.orders[id].Status = status
}
