package chainsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// fakeLedger is an in-memory Ledger. ResolveOrder arms a status flip that
// becomes visible after resolveLag further GetOrder reads, mimicking a write
// that takes a few polls to land.
type fakeLedger struct {
	mu sync.Mutex

	orders     []ChainOrder
	resolveTo  map[uint64]uint8
	resolveLag map[uint64]int

	resolveCalls   []uint64
	resolveSecrets map[uint64]*big.Int
	armed          map[uint64]int

	commitments  map[uint64][32]byte
	commitFailAt int

	countErr error
}

func newFakeLedger(orders ...ChainOrder) *fakeLedger {
	return &fakeLedger{
		orders:         orders,
		resolveTo:      map[uint64]uint8{},
		resolveLag:     map[uint64]int{},
		resolveSecrets: map[uint64]*big.Int{},
		armed:          map[uint64]int{},
		commitments:    map[uint64][32]byte{},
		commitFailAt:   -1,
	}
}

func (f *fakeLedger) OrderCount(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.countErr != nil {
		return 0, f.countErr
	}
	return uint64(len(f.orders)), nil
}

func (f *fakeLedger) GetOrder(ctx context.Context, id uint64) (ChainOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id >= uint64(len(f.orders)) {
		return ChainOrder{}, fmt.Errorf("no order %d", id)
	}
	if lag, ok := f.armed[id]; ok {
		if lag > 0 {
			f.armed[id] = lag - 1
		} else {
			f.orders[id].StatusCode = f.resolveTo[id]
			delete(f.armed, id)
		}
	}
	return f.orders[id], nil
}

func (f *fakeLedger) ResolveOrder(ctx context.Context, id uint64, secret *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls = append(f.resolveCalls, id)
	f.resolveSecrets[id] = secret
	f.armed[id] = f.resolveLag[id]
	return nil
}

func (f *fakeLedger) SetCommitment(ctx context.Context, id uint64, commitment [32]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitFailAt >= 0 && id == uint64(f.commitFailAt) {
		return errors.New("transaction reverted")
	}
	f.commitments[id] = commitment
	return nil
}

func chainOrder(status uint8) ChainOrder {
	return ChainOrder{
		Value:        big.NewInt(1000),
		Price:        big.NewInt(1000),
		Timestamp:    big.NewInt(1700000000),
		Buyer:        "0x00000000000000000000000000000000000000aa",
		StatusCode:   status,
		MetadataHash: "abc123",
	}
}

func newTestWorker(ledger Ledger, secrets *Secrets) *Worker {
	return &Worker{
		Ledger:       ledger,
		Store:        NewMemoryOrderStore(),
		Secrets:      secrets,
		Logger:       testLogger(),
		Interval:     time.Millisecond,
		PollInterval: time.Millisecond,
	}
}

func TestWorker_IndexesAndResolves(t *testing.T) {
	ledger := newFakeLedger(chainOrder(1), chainOrder(0))
	ledger.resolveTo[1] = 2
	ledger.resolveLag[1] = 2

	secrets := NewSecrets([]*big.Int{big.NewInt(111), big.NewInt(222)})
	w := newTestWorker(ledger, secrets)

	if err := w.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce: %v", err)
	}

	if got := w.Store.Len(); got != 2 {
		t.Fatalf("cache size = %d, want 2", got)
	}
	paid, _ := w.Store.Get(0)
	if paid.Status != OrderStatusPaid {
		t.Errorf("order 0 status = %s, want paid", paid.Status)
	}
	resolved, _ := w.Store.Get(1)
	if resolved.Status != OrderStatusFree {
		t.Errorf("order 1 status = %s, want free", resolved.Status)
	}

	if len(ledger.resolveCalls) != 1 || ledger.resolveCalls[0] != 1 {
		t.Fatalf("resolve calls = %v, want [1]", ledger.resolveCalls)
	}
	if ledger.resolveSecrets[1].Cmp(big.NewInt(222)) != 0 {
		t.Errorf("revealed secret = %s, want 222", ledger.resolveSecrets[1])
	}
}

func TestWorker_SecondIterationOnlyIndexesNewOrders(t *testing.T) {
	ledger := newFakeLedger(chainOrder(1))
	secrets := NewSecrets([]*big.Int{big.NewInt(1), big.NewInt(2)})
	w := newTestWorker(ledger, secrets)

	if err := w.runOnce(context.Background()); err != nil {
		t.Fatalf("first runOnce: %v", err)
	}

	ledger.mu.Lock()
	ledger.orders = append(ledger.orders, chainOrder(0))
	ledger.mu.Unlock()
	ledger.resolveTo[1] = 1
	ledger.resolveLag[1] = 0

	if err := w.runOnce(context.Background()); err != nil {
		t.Fatalf("second runOnce: %v", err)
	}
	if got := w.Store.Len(); got != 2 {
		t.Fatalf("cache size = %d, want 2", got)
	}
	second, _ := w.Store.Get(1)
	if second.Status != OrderStatusPaid {
		t.Errorf("order 1 status = %s, want paid", second.Status)
	}
}

func TestWorker_FatalWhenSecretMissing(t *testing.T) {
	// Three committed slots, then a fourth order arrives pending.
	ledger := newFakeLedger(chainOrder(1), chainOrder(1), chainOrder(1), chainOrder(0))
	secrets := NewSecrets([]*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)})
	w := newTestWorker(ledger, secrets)

	err := w.runOnce(context.Background())
	if !errors.Is(err, ErrSecretsExhausted) {
		t.Fatalf("runOnce err = %v, want ErrSecretsExhausted", err)
	}
	if len(ledger.resolveCalls) != 0 {
		t.Fatalf("resolve calls = %v, want none", ledger.resolveCalls)
	}

	// Run must stop on the fatal error instead of ticking on.
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrSecretsExhausted) {
			t.Fatalf("Run err = %v, want ErrSecretsExhausted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on fatal error")
	}
}

func TestWorker_FatalOnUnknownStatusCode(t *testing.T) {
	ledger := newFakeLedger(chainOrder(9))
	secrets := NewSecrets([]*big.Int{big.NewInt(1)})
	w := newTestWorker(ledger, secrets)

	err := w.runOnce(context.Background())
	if !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("runOnce err = %v, want ErrUnknownStatus", err)
	}
	if got := w.Store.Len(); got != 0 {
		t.Fatalf("cache size = %d, want 0 (bad order not cached)", got)
	}
}

func TestWorker_TransientErrorIsNotFatal(t *testing.T) {
	ledger := newFakeLedger()
	ledger.countErr = errors.New("ledger unreachable")
	secrets := NewSecrets(nil)
	w := newTestWorker(ledger, secrets)

	err := w.runOnce(context.Background())
	if err == nil {
		t.Fatal("expected error from unreachable ledger")
	}
	if isFatal(err) {
		t.Fatalf("transient error classified fatal: %v", err)
	}

	// Run keeps looping across transient failures until cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err = %v, want context deadline", err)
	}
}

// Needs a reachable redis (REDIS_ADDRESS); skipped otherwise. A resolve that
// polls longer than the initial lock TTL must keep the leader lock via
// refresh, so a second replica never starts a concurrent iteration.
func TestWorker_LeaderLockHeldAcrossSlowResolve(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	locker := redislock.New(client)

	ledger := newFakeLedger(chainOrder(0))
	ledger.resolveTo[0] = 1
	// 20 polls at 10ms each: the iteration runs well past the initial TTL.
	ledger.resolveLag[0] = 20

	w := newTestWorker(ledger, NewSecrets([]*big.Int{big.NewInt(1)}))
	w.Interval = 10 * time.Millisecond
	w.PollInterval = 10 * time.Millisecond
	w.Locker = locker

	done := make(chan error, 1)
	go func() { done <- w.runOnce(context.Background()) }()

	// Probe twice after the initial TTL (40ms) would have lapsed but long
	// before the resolve can finish (>=200ms).
	elapsed := time.Duration(0)
	for _, instant := range []time.Duration{60 * time.Millisecond, 120 * time.Millisecond} {
		time.Sleep(instant - elapsed)
		elapsed = instant
		lock, err := locker.Obtain(context.Background(), leaderLockKey, time.Second, nil)
		if err == nil {
			lock.Release(context.Background())
			t.Fatalf("second replica obtained the leader lock %s into the iteration", instant)
		}
		if err != redislock.ErrNotObtained {
			t.Fatalf("obtain: %v", err)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runOnce: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runOnce did not finish")
	}

	// The lock is released with the iteration.
	lock, err := locker.Obtain(context.Background(), leaderLockKey, time.Second, nil)
	if err != nil {
		t.Fatalf("obtain after iteration: %v", err)
	}
	lock.Release(context.Background())
}

func TestTranslateStatus(t *testing.T) {
	cases := []struct {
		code uint8
		want OrderStatus
	}{
		{0, OrderStatusPending},
		{1, OrderStatusPaid},
		{2, OrderStatusFree},
	}
	for _, tc := range cases {
		got, err := TranslateStatus(tc.code)
		if err != nil {
			t.Fatalf("TranslateStatus(%d): %v", tc.code, err)
		}
		if got != tc.want {
			t.Errorf("TranslateStatus(%d) = %s, want %s", tc.code, got, tc.want)
		}
	}

	if _, err := TranslateStatus(3); !errors.Is(err, ErrUnknownStatus) {
		t.Fatalf("TranslateStatus(3) err = %v, want ErrUnknownStatus", err)
	}
}

func TestMemoryOrderStore_RejectsGaps(t *testing.T) {
	store := NewMemoryOrderStore()
	if err := store.Append(Order{ID: 1}); err == nil {
		t.Fatal("appending order 1 into an empty store must fail")
	}
	if err := store.Append(Order{ID: 0}); err != nil {
		t.Fatalf("append order 0: %v", err)
	}
	if err := store.Append(Order{ID: 1}); err != nil {
		t.Fatalf("append order 1: %v", err)
	}
}
