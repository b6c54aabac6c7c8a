package config

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// Validation errors.
var (
	ErrUnknownMechanism  = errors.New("unknown consensus mechanism")
	ErrBadAuthority      = errors.New("invalid authority public key")
	ErrNoSubStrategies   = errors.New("hybrid requires at least one sub-strategy")
	ErrNestedComposite   = errors.New("composite mechanisms cannot nest")
	ErrBadShardCount     = errors.New("shard count must be >= 1")
	ErrBadFaultTolerance = errors.New("fault tolerance must be >= 1")
)

// knownMechanisms lists every selectable variant.
var knownMechanisms = map[Mechanism]bool{
	MechanismPoW:     true,
	MechanismPoS:     true,
	MechanismDPoS:    true,
	MechanismPBFT:    true,
	MechanismPoA:     true,
	MechanismPoB:     true,
	MechanismHybrid:  true,
	MechanismSharded: true,
}

// isComposite reports whether a mechanism composes other mechanisms.
func isComposite(m Mechanism) bool {
	return m == MechanismHybrid || m == MechanismSharded
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if !knownMechanisms[c.Mechanism] {
		return fmt.Errorf("%w: %q", ErrUnknownMechanism, c.Mechanism)
	}

	p := &c.Consensus

	switch c.Mechanism {
	case MechanismPoW:
		if p.Difficulty == 0 {
			return errors.New("pow: difficulty must be > 0")
		}
	case MechanismPoS:
		if p.MinimumStake == 0 {
			return errors.New("pos: minimum stake must be > 0")
		}
	case MechanismDPoS:
		if p.DelegateCount <= 0 {
			return errors.New("dpos: delegate count must be > 0")
		}
	case MechanismPBFT:
		if p.FaultTolerance < 1 {
			return ErrBadFaultTolerance
		}
	case MechanismPoA:
		if len(p.AuthorityList) == 0 {
			return errors.New("poa: authority list is empty")
		}
	case MechanismPoB:
		if p.MinimumBurn == 0 {
			return errors.New("pob: minimum burn must be > 0")
		}
	case MechanismHybrid:
		if len(p.SubStrategies) == 0 {
			return ErrNoSubStrategies
		}
		for _, sub := range p.SubStrategies {
			if !knownMechanisms[sub] {
				return fmt.Errorf("hybrid: %w: %q", ErrUnknownMechanism, sub)
			}
			if isComposite(sub) {
				return fmt.Errorf("hybrid: %w: %q", ErrNestedComposite, sub)
			}
		}
	case MechanismSharded:
		if p.ShardCount < 1 {
			return ErrBadShardCount
		}
		if p.ShardStrategy == "" {
			return errors.New("sharded: shard strategy is required")
		}
		if !knownMechanisms[p.ShardStrategy] {
			return fmt.Errorf("sharded: %w: %q", ErrUnknownMechanism, p.ShardStrategy)
		}
		if isComposite(p.ShardStrategy) {
			return fmt.Errorf("sharded: %w: %q", ErrNestedComposite, p.ShardStrategy)
		}
	}

	// Authority keys must be valid compressed pubkeys when present.
	for _, a := range p.AuthorityList {
		b, err := hex.DecodeString(a)
		if err != nil || len(b) != 33 {
			return fmt.Errorf("%w: %q", ErrBadAuthority, a)
		}
	}

	if p.RoundTimeoutMS < 0 {
		return errors.New("round timeout must be >= 0")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}

	return nil
}
