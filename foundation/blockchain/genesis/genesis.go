// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date                time.Time         `json:"date"`
	ChainID             uint16            `json:"chain_id"`             // The chain id represents an unique id for this running instance.
	TransPerBlock       uint16            `json:"trans_per_block"`      // The maximum number of transactions that can be in a block.
	Timestamp           uint32            `json:"timestamp"`            // Unix seconds of the genesis header.
	GeneratorPublicKey  hexutil.Bytes     `json:"generator_public_key"` // Compressed key placed in the genesis header.
	GenerationSignature hexutil.Bytes     `json:"generation_signature"` // Seed of the generation signature chain.
	Balances            map[string]uint64 `json:"balances"`
	ForgePowers         map[string]uint64 `json:"forge_powers"`
}

// Validate checks the fields a node cannot start without.
func (g Genesis) Validate() error {
	if len(g.GenerationSignature) != 32 {
		return fmt.Errorf("generation signature must be 32 bytes, got %d", len(g.GenerationSignature))
	}

	if len(g.GeneratorPublicKey) == 0 {
		return errors.New("generator public key is missing")
	}

	if g.TransPerBlock == 0 {
		return errors.New("trans per block must be positive")
	}

	return nil
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, err
	}

	if err := genesis.Validate(); err != nil {
		return Genesis{}, fmt.Errorf("genesis %s: %w", path, err)
	}

	return genesis, nil
}
