package consensus

import (
	"encoding/hex"
	"fmt"

	"github.com/zzzizo/cig-chain/config"
)

// New builds the consensus engine selected by the configuration. The config
// must already be validated; New still rejects parameter combinations the
// engines themselves cannot accept.
func New(cfg *config.Config) (Engine, error) {
	return newEngine(cfg.Mechanism, &cfg.Consensus)
}

func newEngine(m config.Mechanism, p *config.ConsensusParams) (Engine, error) {
	switch m {
	case config.MechanismPoW:
		return NewPoW(p.Difficulty)
	case config.MechanismPoS:
		return NewPoS(p.MinimumStake), nil
	case config.MechanismDPoS:
		return NewDPoS(p.DelegateCount), nil
	case config.MechanismPBFT:
		validators, err := decodeAuthorities(p.AuthorityList)
		if err != nil {
			return nil, fmt.Errorf("pbft: %w", err)
		}
		return NewPBFT(validators, p.FaultTolerance)
	case config.MechanismPoA:
		authorities, err := decodeAuthorities(p.AuthorityList)
		if err != nil {
			return nil, fmt.Errorf("poa: %w", err)
		}
		return NewPoA(authorities)
	case config.MechanismPoB:
		return NewPoB(p.MinimumBurn), nil
	case config.MechanismHybrid:
		subs := make([]Engine, 0, len(p.SubStrategies))
		for _, sub := range p.SubStrategies {
			eng, err := newEngine(sub, p)
			if err != nil {
				return nil, fmt.Errorf("hybrid sub %q: %w", sub, err)
			}
			subs = append(subs, eng)
		}
		return NewHybrid(subs)
	case config.MechanismSharded:
		shards := make([]Engine, 0, p.ShardCount)
		for i := 0; i < p.ShardCount; i++ {
			eng, err := newEngine(p.ShardStrategy, p)
			if err != nil {
				return nil, fmt.Errorf("shard %d (%q): %w", i, p.ShardStrategy, err)
			}
			shards = append(shards, eng)
		}
		return NewSharded(shards)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownMechanism, m)
	}
}

func decodeAuthorities(list []string) ([][]byte, error) {
	keys := make([][]byte, 0, len(list))
	for _, a := range list {
		b, err := hex.DecodeString(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", config.ErrBadAuthority, a)
		}
		keys = append(keys, b)
	}
	return keys, nil
}
