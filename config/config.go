package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is process-level configuration read from the environment.
type Config struct {
	DatabaseURL    string `env:"DATABASE_URL"`
	AdminAddress   string `env:"ADMIN_ADDRESS" envDefault:"admin"`
	BridgeAddress  string `env:"BRIDGE_ADDRESS" envDefault:"dispute-bridge"`
	OracleSecret   string `env:"ORACLE_SECRET"`
	LogMode        string `env:"LOG_MODE" envDefault:"development"`
	StartRound     int64  `env:"START_ROUND" envDefault:"0"`
	MigrationsDir  string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
}

// Load reads Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse env: %w", err)
	}
	return cfg, nil
}

// Params holds the rule constants both engines run on. They are injected
// into the engine constructors so tests can shrink quorums and windows
// without touching process state.
type Params struct {
	// Quorum is the vote count that triggers resolution.
	Quorum int64
	// Majority is the yes-vote count required for approval at quorum.
	Majority int64
	// CooldownRounds is the minimum gap between two votes by one juror.
	CooldownRounds int64
	// VotingRounds is how long a dispute accepts votes after creation.
	VotingRounds int64
	// JurorWarmupRounds gates juror registration after subsystem genesis.
	JurorWarmupRounds int64
	// DisputeWarmupRounds gates dispute creation after subsystem genesis.
	DisputeWarmupRounds int64
	// DisputeWindowRounds is how long after settlement a policy owner may
	// still file a dispute.
	DisputeWindowRounds int64
	// MinCoverageRounds is the shortest allowed coverage span; t1 must
	// exceed t0 by more than this.
	MinCoverageRounds int64
	// MinFee is the floor applied to quoted premiums.
	MinFee int64
	// SelectionSize caps how many jurors are assigned per dispute.
	SelectionSize int
	// JurorMinAgeRounds is the registration age below which a juror is
	// reported too new to serve.
	JurorMinAgeRounds int64
	// MinReputation is the reputation floor for juror eligibility.
	MinReputation int64
	// InitialReputation seeds a fresh juror's reputation.
	InitialReputation int64
	// InitialStake seeds a fresh juror's staked amount.
	InitialStake int64
}

func DefaultParams() Params {
	return Params{
		Quorum:              7,
		Majority:            4,
		CooldownRounds:      10,
		VotingRounds:        1000,
		JurorWarmupRounds:   10,
		DisputeWarmupRounds: 50,
		DisputeWindowRounds: 1000,
		MinCoverageRounds:   100,
		MinFee:              1000,
		SelectionSize:       10,
		JurorMinAgeRounds:   50,
		MinReputation:       10,
		InitialReputation:   100,
		InitialStake:        1_000_000,
	}
}
