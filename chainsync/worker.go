package chainsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/maybewear/shop_backend/config"
)

const (
	DefaultSyncInterval = 10 * time.Second
	DefaultPollInterval = 2 * time.Second

	leaderLockKey = "chainsync:leader"
)

// Worker keeps the local order cache in step with the ledger and drives
// every pending order to a terminal status by revealing its secret.
type Worker struct {
	Ledger  Ledger
	Store   OrderStore
	Secrets *Secrets
	Logger  *logrus.Logger

	// Interval separates reconciliation iterations; PollInterval paces the
	// per-order wait for a resolve to land. Tests shrink both.
	Interval     time.Duration
	PollInterval time.Duration

	// Locker, when present, takes a best-effort leader lock per iteration
	// so two replicas never race resolve writes. Nil means run unlocked.
	Locker *redislock.Client
}

func NewWorker(ledger Ledger, store OrderStore, secrets *Secrets, logger *logrus.Logger) *Worker {
	return &Worker{
		Ledger:       ledger,
		Store:        store,
		Secrets:      secrets,
		Logger:       logger,
		Interval:     DefaultSyncInterval,
		PollInterval: DefaultPollInterval,
		Locker:       config.GetRedisLock(),
	}
}

// Run loops index + resolve until ctx is cancelled or a fatal condition is
// hit. Transient failures (ledger unreachable, timeouts) are logged and the
// loop resumes at the next tick; exhausted secrets and unknown status codes
// stop the worker because continuing would strand or corrupt orders.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := w.runOnce(ctx); err != nil {
			if isFatal(err) {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			config.LogError(ctx, w.Logger, "chainsync", "Run", "iteration failed", nil, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.Interval):
		}
	}
}

func isFatal(err error) bool {
	return errors.Is(err, ErrSecretsExhausted) || errors.Is(err, ErrUnknownStatus)
}

func (w *Worker) runOnce(ctx context.Context) error {
	var lock *redislock.Lock
	if w.Locker != nil {
		obtained, err := w.Locker.Obtain(ctx, leaderLockKey, w.lockTTL(), nil)
		if err == redislock.ErrNotObtained {
			w.Logger.WithFields(logrus.Fields{
				"module": "chainsync",
			}).Warn("another instance holds the sync lock; skipping iteration")
			return nil
		}
		if err != nil {
			// Redis lock is a best-effort optimization; resolve writes are
			// already serialized within one instance.
			w.Logger.WithFields(logrus.Fields{
				"module": "chainsync",
			}).Warn("error obtaining sync lock; proceeding without it: " + err.Error())
		} else {
			lock = obtained
			defer func() {
				if releaseErr := lock.Release(ctx); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
					w.Logger.WithFields(logrus.Fields{
						"module": "chainsync",
					}).Warn("failed to release sync lock: " + releaseErr.Error())
				}
			}()
		}
	}

	if err := w.index(ctx); err != nil {
		return err
	}
	return w.resolve(ctx, lock)
}

// lockTTL covers one iteration with slack; resolve polls refresh the lock so
// it outlives an iteration stuck waiting on a slow resolve.
func (w *Worker) lockTTL() time.Duration {
	return 2 * (w.Interval + w.PollInterval)
}

// index appends every not-yet-cached order, lowest id first, so the cache
// never has gaps.
func (w *Worker) index(ctx context.Context) error {
	count, err := w.Ledger.OrderCount(ctx)
	if err != nil {
		return err
	}

	for id := w.Store.Len(); id < count; id++ {
		raw, err := w.Ledger.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		order, err := fromChainOrder(id, raw)
		if err != nil {
			return err
		}
		if err := w.Store.Append(order); err != nil {
			return err
		}
		w.Logger.WithFields(logrus.Fields{
			"module": "chainsync",
			"order":  id,
			"status": order.Status,
		}).Info("indexed order")
	}
	return nil
}

// resolve reveals the committed secret for each pending order and waits for
// that order to leave pending before moving to the next. Orders are handled
// strictly one at a time; the shared signing key tolerates no racing writes.
func (w *Worker) resolve(ctx context.Context, lock *redislock.Lock) error {
	for _, order := range w.Store.List() {
		if order.Status != OrderStatusPending {
			continue
		}

		secret, err := w.Secrets.SecretFor(order.ID)
		if err != nil {
			return err
		}

		if err := w.Ledger.ResolveOrder(ctx, order.ID, secret); err != nil {
			return fmt.Errorf("resolve order %d: %w", order.ID, err)
		}

		// Poll until the resolve is observable. There is deliberately no
		// per-order deadline: the write is expected to land eventually and
		// ctx cancellation remains the way out.
		for {
			raw, err := w.Ledger.GetOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			status, err := TranslateStatus(raw.StatusCode)
			if err != nil {
				return err
			}
			w.Store.UpdateStatus(order.ID, status)
			if status != OrderStatusPending {
				w.Logger.WithFields(logrus.Fields{
					"module": "chainsync",
					"order":  order.ID,
					"status": status,
				}).Info("order resolved")
				break
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.PollInterval):
			}

			// The poll has no deadline, so the leader lock would lapse
			// mid-wait without a refresh. Losing it stays best-effort.
			if lock != nil {
				if refreshErr := lock.Refresh(ctx, w.lockTTL(), nil); refreshErr != nil {
					w.Logger.WithFields(logrus.Fields{
						"module": "chainsync",
					}).Warn("failed to refresh sync lock: " + refreshErr.Error())
				}
			}
		}
	}
	return nil
}

func fromChainOrder(id uint64, raw ChainOrder) (Order, error) {
	status, err := TranslateStatus(raw.StatusCode)
	if err != nil {
		return Order{}, fmt.Errorf("order %d: %w", id, err)
	}
	return Order{
		ID:           id,
		Value:        decimal.NewFromBigInt(raw.Value, 0),
		Price:        decimal.NewFromBigInt(raw.Price, 0),
		Timestamp:    raw.Timestamp.Int64(),
		Buyer:        raw.Buyer,
		Status:       status,
		MetadataHash: raw.MetadataHash,
	}, nil
}
