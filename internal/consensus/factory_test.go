package consensus

import (
	"encoding/hex"
	"testing"

	"github.com/zzzizo/cig-chain/config"
)

func authorityHex(t *testing.T, n int) []string {
	t.Helper()
	out := make([]string, n)
	for i := range out {
		out[i] = hex.EncodeToString(newKey(t).PublicKey())
	}
	return out
}

func TestFactoryBuildsEveryMechanism(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
	}{
		{"pow", config.Config{Mechanism: config.MechanismPoW, Consensus: config.ConsensusParams{Difficulty: 1024}}},
		{"pos", config.Config{Mechanism: config.MechanismPoS, Consensus: config.ConsensusParams{MinimumStake: 10}}},
		{"dpos", config.Config{Mechanism: config.MechanismDPoS, Consensus: config.ConsensusParams{DelegateCount: 21}}},
		{"pbft", config.Config{Mechanism: config.MechanismPBFT, Consensus: config.ConsensusParams{FaultTolerance: 1, AuthorityList: authorityHex(t, 4)}}},
		{"poa", config.Config{Mechanism: config.MechanismPoA, Consensus: config.ConsensusParams{AuthorityList: authorityHex(t, 2)}}},
		{"pob", config.Config{Mechanism: config.MechanismPoB, Consensus: config.ConsensusParams{MinimumBurn: 10}}},
		{"hybrid", config.Config{Mechanism: config.MechanismHybrid, Consensus: config.ConsensusParams{
			SubStrategies: []config.Mechanism{config.MechanismPoW, config.MechanismPoS},
			Difficulty:    1024, MinimumStake: 10,
		}}},
		{"sharded", config.Config{Mechanism: config.MechanismSharded, Consensus: config.ConsensusParams{
			ShardCount: 3, ShardStrategy: config.MechanismPoS, MinimumStake: 10,
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, err := New(&tc.cfg)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if eng.Mechanism() != tc.cfg.Mechanism {
				t.Fatalf("mechanism = %q, want %q", eng.Mechanism(), tc.cfg.Mechanism)
			}
		})
	}
}

func TestFactoryShardedBuildsPerShardEngines(t *testing.T) {
	cfg := config.Config{
		Mechanism: config.MechanismSharded,
		Consensus: config.ConsensusParams{ShardCount: 4, ShardStrategy: config.MechanismPoW, Difficulty: 1},
	}
	eng, err := New(&cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	sharded, ok := eng.(*Sharded)
	if !ok {
		t.Fatalf("engine type %T, want *Sharded", eng)
	}
	if sharded.ShardCount() != 4 {
		t.Fatalf("shard count = %d, want 4", sharded.ShardCount())
	}
	sub, err := sharded.ShardEngine(3)
	if err != nil {
		t.Fatalf("shard engine: %v", err)
	}
	if sub.Mechanism() != config.MechanismPoW {
		t.Fatalf("shard strategy = %q, want pow", sub.Mechanism())
	}
}

func TestFactoryPBFTRejectsSmallAuthorityList(t *testing.T) {
	cfg := config.Config{
		Mechanism: config.MechanismPBFT,
		Consensus: config.ConsensusParams{FaultTolerance: 1, AuthorityList: authorityHex(t, 3)},
	}
	if _, err := New(&cfg); err == nil {
		t.Fatalf("expected error for 3 validators with f=1")
	}
}

func TestFactoryUnknownMechanism(t *testing.T) {
	cfg := config.Config{Mechanism: "tendermint"}
	if _, err := New(&cfg); err == nil {
		t.Fatalf("expected error for unknown mechanism")
	}
}
