package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/zzzizo/cig-chain/pkg/types"
)

// Genesis holds the genesis block configuration: chain identity, launch
// timestamp, and initial balance allocations. Immutable after launch.
type Genesis struct {
	ChainName string `json:"chain_name"`
	Timestamp uint64 `json:"timestamp"`
	ExtraData string `json:"extra_data,omitempty"`

	// Initial allocations: hex address -> balance in base units.
	Alloc map[string]uint64 `json:"alloc"`
}

// ErrNoGenesisTimestamp is returned when the genesis timestamp is unset.
var ErrNoGenesisTimestamp = errors.New("genesis timestamp is zero")

// Validate checks the genesis configuration.
func (g *Genesis) Validate() error {
	if g.Timestamp == 0 {
		return ErrNoGenesisTimestamp
	}
	for addr := range g.Alloc {
		if _, err := types.HexToAddress(addr); err != nil {
			return fmt.Errorf("genesis alloc %q: %w", addr, err)
		}
	}
	return nil
}

// Allocations returns the parsed initial balances. Call Validate first.
func (g *Genesis) Allocations() (map[types.Address]uint64, error) {
	out := make(map[types.Address]uint64, len(g.Alloc))
	for addr, bal := range g.Alloc {
		a, err := types.HexToAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("genesis alloc %q: %w", addr, err)
		}
		out[a] = bal
	}
	return out, nil
}

// LoadGenesis reads and validates a genesis JSON file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis %s: %w", path, err)
	}
	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse genesis %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return &g, nil
}
