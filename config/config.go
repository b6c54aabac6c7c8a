// Package config handles node configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: consensus mechanism and its parameters, immutable for
//     the life of a chain, must match across all nodes
//   - Node settings: runtime configuration (logging, data dir), per node
package config

// Mechanism selects the active consensus variant.
type Mechanism string

// Recognized consensus mechanisms.
const (
	MechanismPoW     Mechanism = "pow"
	MechanismPoS     Mechanism = "pos"
	MechanismDPoS    Mechanism = "dpos"
	MechanismPBFT    Mechanism = "pbft"
	MechanismPoA     Mechanism = "poa"
	MechanismPoB     Mechanism = "pob"
	MechanismHybrid  Mechanism = "hybrid"
	MechanismSharded Mechanism = "sharded"
)

// Denomination constants.
// 1 coin = 10^9 base units. All on-chain amounts are in base units.
const (
	Decimals = 9
	Coin     = 1_000_000_000
)

// Block and transaction size limits (consensus-critical).
const (
	MaxBlockSize   = 1_000_000 // 1 MB max block size (header + all tx signing bytes)
	MaxBlockTxs    = 500       // Max transactions per block
	MaxPayloadSize = 65_536    // 64 KB max contract payload per transaction
)

// MaxTimestampDrift is how far into the future (in seconds) a block
// timestamp may run ahead of the validating node's clock.
const MaxTimestampDrift = 120

// Config holds node configuration: the consensus mechanism with its
// parameters, plus per-node runtime settings.
type Config struct {
	// Consensus selection and parameters.
	Mechanism Mechanism       `json:"mechanism"`
	Consensus ConsensusParams `json:"consensus"`

	// Node settings.
	DataDir string    `json:"datadir"`
	Log     LogConfig `json:"log"`
}

// ConsensusParams carries the parameters for every mechanism; only the
// fields for the selected mechanism (and Hybrid/Sharded sub-strategies) are
// consulted.
type ConsensusParams struct {
	// PoW
	Difficulty uint64 `json:"difficulty,omitempty"`

	// PoS
	MinimumStake uint64 `json:"minimum_stake,omitempty"`

	// DPoS
	DelegateCount int `json:"delegate_count,omitempty"`

	// PBFT: tolerated faults f (validator set size is 3f+1).
	FaultTolerance  int `json:"fault_tolerance,omitempty"`
	MaxRoundRetries int `json:"max_round_retries,omitempty"`

	// PoA: hex-encoded compressed public keys of the fixed authority list.
	AuthorityList []string `json:"authority_list,omitempty"`

	// PoB
	MinimumBurn uint64 `json:"minimum_burn,omitempty"`

	// Hybrid: ordered sub-strategies; the first is the fork-choice primary.
	SubStrategies []Mechanism `json:"sub_strategies,omitempty"`

	// Sharded
	ShardCount    int       `json:"shard_count,omitempty"`
	ShardStrategy Mechanism `json:"shard_strategy,omitempty"`

	// Round timeout in milliseconds (PBFT vote collection; proposer
	// rotation for the round-based variants).
	RoundTimeoutMS int `json:"round_timeout_ms,omitempty"`

	// EpochLength is the number of blocks between validator/delegate set
	// rotations. Sets never change mid-epoch.
	EpochLength uint64 `json:"epoch_length,omitempty"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level"` // debug, info, warn, error
	JSON  bool   `json:"json"`
	File  string `json:"file,omitempty"`
}
