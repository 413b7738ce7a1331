package chainsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
)

// ErrSecretsExhausted means a pending order has no matching commitment
// secret. The reconciler must stop rather than skip: a skipped order would
// leave the buyer's funds pending with no path to resolution.
var ErrSecretsExhausted = errors.New("commitment secrets exhausted")

// Secrets holds the pre-committed random values, keyed by slot index =
// future order id. The file is the only record of the secrets; anyone
// holding it can predict resolution outcomes before reveal.
type Secrets struct {
	count  int
	values []*big.Int
}

type secretsFile struct {
	Count   int      `json:"count"`
	Secrets []string `json:"secrets"`
}

func NewSecrets(values []*big.Int) *Secrets {
	return &Secrets{count: len(values), values: values}
}

func (s *Secrets) Count() int {
	return s.count
}

// SecretFor returns the secret committed for the given order id.
func (s *Secrets) SecretFor(id uint64) (*big.Int, error) {
	if id >= uint64(len(s.values)) {
		return nil, fmt.Errorf("%w: no secret for order %d (have %d)", ErrSecretsExhausted, id, len(s.values))
	}
	return s.values[id], nil
}

// LoadSecrets reads and validates the secrets file. Any inconsistency is an
// error: the reconciler must not start on top of a corrupt commitment record.
func LoadSecrets(path string) (*Secrets, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file %s: %w", path, err)
	}
	var file secretsFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
	}
	if file.Count != len(file.Secrets) {
		return nil, fmt.Errorf("secrets file %s: count %d does not match %d entries", path, file.Count, len(file.Secrets))
	}
	values := make([]*big.Int, len(file.Secrets))
	for i, raw := range file.Secrets {
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok || v.Sign() < 0 {
			return nil, fmt.Errorf("secrets file %s: entry %d is not a non-negative integer", path, i)
		}
		values[i] = v
	}
	return &Secrets{count: file.Count, values: values}, nil
}

// Save writes the secrets file with owner-only permissions.
func (s *Secrets) Save(path string) error {
	file := secretsFile{Count: s.count, Secrets: make([]string, len(s.values))}
	for i, v := range s.values {
		file.Secrets[i] = v.String()
	}
	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}
