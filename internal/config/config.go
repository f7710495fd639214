// Package config loads runtime settings from the environment (.env aware)
// and the default season policy from an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JonathanHarford/epyc/internal/apperr"
	"github.com/JonathanHarford/epyc/internal/models"
)

// DB holds Postgres connection settings.
type DB struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Database string `env:"DB_NAME" envDefault:"epyc"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
}

// DSN returns the Postgres connection URL.
func (c DB) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Scheduler tunes the durable scheduler's worker pool and retry budget.
type Scheduler struct {
	Workers      int           `env:"SCHEDULER_WORKERS" envDefault:"4"`
	MaxAttempts  int           `env:"SCHEDULER_MAX_ATTEMPTS" envDefault:"3"`
	RetryBackoff time.Duration `env:"SCHEDULER_RETRY_BACKOFF" envDefault:"1s"`
}

// Config is the full runtime configuration.
type Config struct {
	DB        DB
	Scheduler Scheduler
	// NATSURL empty means notifications go to the log only.
	NATSURL    string `env:"NATS_URL"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty  bool   `env:"LOG_PRETTY" envDefault:"false"`
	PolicyFile string `env:"POLICY_FILE"`
	// BannedWords feeds the built-in wordlist checker. Empty means nothing
	// gets flagged.
	BannedWords []string `env:"BANNED_WORDS" envSeparator:","`

	DefaultPolicy models.SeasonPolicy `env:"-"`
}

// Load reads .env if present, then the environment, then the policy file
// named by POLICY_FILE (falling back to built-in defaults).
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.DefaultPolicy = DefaultPolicy()
	if cfg.PolicyFile != "" {
		policy, err := LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		cfg.DefaultPolicy = *policy
	}
	return &cfg, nil
}

// DefaultPolicy is the season policy used when no policy file is given.
func DefaultPolicy() models.SeasonPolicy {
	return models.SeasonPolicy{
		MinPlayers:    4,
		MaxPlayers:    12,
		OpenDuration:  48 * time.Hour,
		TurnsPerGame:  8,
		OpeningTurn:   models.TurnTypeWriting,
		ClaimTimeout:  2 * time.Hour,
		SubmitWarning: 12 * time.Hour,
		SubmitTimeout: 24 * time.Hour,
		StaleTimeout:  96 * time.Hour,
		Returns:       models.ReturnsPolicy{MaxPlays: 1},
	}
}

// Duration is a YAML-friendly wrapper accepting "48h" style strings.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return apperr.Validationf("duration", "cannot parse %q", raw)
	}
	d.Duration = parsed
	return nil
}

type policyFile struct {
	MinPlayers    int      `yaml:"min_players"`
	MaxPlayers    int      `yaml:"max_players"`
	OpenDuration  Duration `yaml:"open_duration"`
	TurnsPerGame  int      `yaml:"turns_per_game"`
	OpeningTurn   string   `yaml:"opening_turn"`
	ClaimTimeout  Duration `yaml:"claim_timeout"`
	SubmitWarning Duration `yaml:"submit_warning"`
	SubmitTimeout Duration `yaml:"submit_timeout"`
	StaleTimeout  Duration `yaml:"stale_timeout"`
	Returns       struct {
		MaxPlays int `yaml:"max_plays"`
		MinGap   int `yaml:"min_gap"`
	} `yaml:"returns"`
}

// LoadPolicyFile reads a season policy from YAML. Fields left out keep the
// built-in defaults.
func LoadPolicyFile(path string) (*models.SeasonPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a YAML season policy.
func ParsePolicy(data []byte) (*models.SeasonPolicy, error) {
	var raw policyFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}

	policy := DefaultPolicy()
	if raw.MinPlayers > 0 {
		policy.MinPlayers = raw.MinPlayers
	}
	if raw.MaxPlayers > 0 {
		policy.MaxPlayers = raw.MaxPlayers
	}
	if raw.OpenDuration.Duration > 0 {
		policy.OpenDuration = raw.OpenDuration.Duration
	}
	if raw.TurnsPerGame > 0 {
		policy.TurnsPerGame = raw.TurnsPerGame
	}
	if raw.OpeningTurn != "" {
		policy.OpeningTurn = models.TurnType(raw.OpeningTurn)
	}
	if raw.ClaimTimeout.Duration > 0 {
		policy.ClaimTimeout = raw.ClaimTimeout.Duration
	}
	if raw.SubmitWarning.Duration > 0 {
		policy.SubmitWarning = raw.SubmitWarning.Duration
	}
	if raw.SubmitTimeout.Duration > 0 {
		policy.SubmitTimeout = raw.SubmitTimeout.Duration
	}
	if raw.StaleTimeout.Duration > 0 {
		policy.StaleTimeout = raw.StaleTimeout.Duration
	}
	if raw.Returns.MaxPlays > 0 {
		policy.Returns.MaxPlays = raw.Returns.MaxPlays
	}
	if raw.Returns.MinGap > 0 {
		policy.Returns.MinGap = raw.Returns.MinGap
	}
	return &policy, nil
}
