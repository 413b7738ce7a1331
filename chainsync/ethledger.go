package chainsync

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/maybewear/shop_backend/config"
)

const ledgerABI = `[
	{"type":"function","name":"orderCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"orders","stateMutability":"view","inputs":[{"name":"id","type":"uint256"}],"outputs":[{"name":"value","type":"uint256"},{"name":"price","type":"uint256"},{"name":"timestamp","type":"uint256"},{"name":"buyer","type":"address"},{"name":"status","type":"uint8"},{"name":"metadataHash","type":"string"}]},
	{"type":"function","name":"resolveOrder","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"},{"name":"rng","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setCommitment","stateMutability":"nonpayable","inputs":[{"name":"id","type":"uint256"},{"name":"commitment","type":"bytes32"}],"outputs":[]}
]`

// EthLedger implements Ledger against the settlement contract over JSON-RPC.
type EthLedger struct {
	client   *ethclient.Client
	contract *bind.BoundContract
	auth     *bind.TransactOpts

	// Writes share one key; serialize them so nonces stay ordered.
	writeMu sync.Mutex
}

// NewEthLedger dials the RPC endpoint and binds the contract. A private key
// is only required when the caller intends to write (resolve / commit).
func NewEthLedger(cfg config.ChainConfig) (*EthLedger, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(ledgerABI))
	if err != nil {
		return nil, err
	}
	address := common.HexToAddress(cfg.ContractAddress)
	contract := bind.NewBoundContract(address, parsed, client, client, client)

	ledger := &EthLedger{client: client, contract: contract}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth, err := bind.NewKeyedTransactorWithChainID(key, cfg.ChainID)
		if err != nil {
			return nil, err
		}
		ledger.auth = auth
	}

	return ledger, nil
}

func (l *EthLedger) OrderCount(ctx context.Context) (uint64, error) {
	var out []interface{}
	if err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "orderCount"); err != nil {
		return 0, fmt.Errorf("orderCount: %w", err)
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, errors.New("orderCount: unexpected return type")
	}
	return count.Uint64(), nil
}

func (l *EthLedger) GetOrder(ctx context.Context, id uint64) (ChainOrder, error) {
	var out []interface{}
	err := l.contract.Call(&bind.CallOpts{Context: ctx}, &out, "orders", new(big.Int).SetUint64(id))
	if err != nil {
		return ChainOrder{}, fmt.Errorf("orders(%d): %w", id, err)
	}
	if len(out) != 6 {
		return ChainOrder{}, fmt.Errorf("orders(%d): expected 6 fields, got %d", id, len(out))
	}
	return ChainOrder{
		Value:        out[0].(*big.Int),
		Price:        out[1].(*big.Int),
		Timestamp:    out[2].(*big.Int),
		Buyer:        out[3].(common.Address).Hex(),
		StatusCode:   out[4].(uint8),
		MetadataHash: out[5].(string),
	}, nil
}

func (l *EthLedger) ResolveOrder(ctx context.Context, id uint64, secret *big.Int) error {
	return l.transact(ctx, "resolveOrder", new(big.Int).SetUint64(id), secret)
}

func (l *EthLedger) SetCommitment(ctx context.Context, id uint64, commitment [32]byte) error {
	return l.transact(ctx, "setCommitment", new(big.Int).SetUint64(id), commitment)
}

// transact submits the write and waits for it to be mined; a reverted
// receipt is an error, never silent success.
func (l *EthLedger) transact(ctx context.Context, method string, args ...interface{}) error {
	if l.auth == nil {
		return errors.New("ledger writes require PRIVATE_KEY")
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	opts := *l.auth
	opts.Context = ctx

	tx, err := l.contract.Transact(&opts, method, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	receipt, err := bind.WaitMined(ctx, l.client, tx)
	if err != nil {
		return fmt.Errorf("%s: wait mined: %w", method, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s: transaction %s reverted", method, tx.Hash().Hex())
	}
	return nil
}
