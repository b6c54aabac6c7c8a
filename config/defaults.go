package config

// Default parameter values.
const (
	DefaultDifficulty      = 1024
	DefaultMinimumStake    = 10 * Coin
	DefaultDelegateCount   = 21
	DefaultFaultTolerance  = 1
	DefaultMinimumBurn     = 10 * Coin
	DefaultShardCount      = 4
	DefaultRoundTimeoutMS  = 3000
	DefaultMaxRoundRetries = 10
	DefaultEpochLength     = 100
)

// Default returns a configuration with sane defaults for every mechanism.
// The selected mechanism defaults to PoW.
func Default() *Config {
	return &Config{
		Mechanism: MechanismPoW,
		Consensus: ConsensusParams{
			Difficulty:      DefaultDifficulty,
			MinimumStake:    DefaultMinimumStake,
			DelegateCount:   DefaultDelegateCount,
			FaultTolerance:  DefaultFaultTolerance,
			MaxRoundRetries: DefaultMaxRoundRetries,
			MinimumBurn:     DefaultMinimumBurn,
			ShardCount:      DefaultShardCount,
			ShardStrategy:   MechanismPoS,
			RoundTimeoutMS:  DefaultRoundTimeoutMS,
			EpochLength:     DefaultEpochLength,
		},
		DataDir: defaultDataDir(),
		Log: LogConfig{
			Level: "info",
		},
	}
}
