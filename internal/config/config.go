// Package config loads service configuration from an optional YAML file
// overlaid with THEROCKQC_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	// Timezones must resolve on hosts without a zoneinfo database.
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/lwidev/therockqc/internal/contract"
	"github.com/lwidev/therockqc/internal/effect"
	"github.com/lwidev/therockqc/internal/model"
	"github.com/lwidev/therockqc/internal/reputation"
)

// EnvPrefix prefixes every environment override, e.g. THEROCKQC_DATABASE_PATH.
const EnvPrefix = "therockqc"

// Config is the full service configuration.
type Config struct {
	DatabasePath string        `yaml:"databasePath" split_words:"true"`
	GuildID      string        `yaml:"guildId"      envconfig:"GUILD_ID"`
	Timezone     string        `yaml:"timezone"`
	Workers      int           `yaml:"workers"`
	StoreTimeout time.Duration `yaml:"storeTimeout" split_words:"true"`
	MetricsAddr  string        `yaml:"metricsAddr"  split_words:"true"`

	Reputation ReputationSection `yaml:"reputation"`
	Contracts  ContractSection   `yaml:"contracts"`
	Dispatch   DispatchSection   `yaml:"dispatch"`
}

// ReputationSection configures scoring and tiering.
type ReputationSection struct {
	Weights  reputation.Weights `yaml:"weights"`
	Caps     reputation.Weights `yaml:"caps"`
	DeadZone int64              `yaml:"deadZone" split_words:"true"`
	Tiers    []TierSection      `yaml:"tiers"    ignored:"true"`
}

// TierSection binds a tier name to its role and threshold.
type TierSection struct {
	Name     string `yaml:"name"`
	Role     string `yaml:"role"`
	MinScore int64  `yaml:"minScore"`
}

// ContractSection configures contract issuance and the expiration scan.
type ContractSection struct {
	Teams         []string      `yaml:"teams"`
	SalaryMin     int64         `yaml:"salaryMin"     split_words:"true"`
	SalaryMax     int64         `yaml:"salaryMax"     split_words:"true"`
	DurationYears int           `yaml:"durationYears" split_words:"true"`
	WarningWindow time.Duration `yaml:"warningWindow" split_words:"true"`
	ScanInterval  time.Duration `yaml:"scanInterval"  split_words:"true"`
}

// DispatchSection bounds outbound delivery.
type DispatchSection struct {
	MaxAttempts uint          `yaml:"maxAttempts" split_words:"true"`
	Timeout     time.Duration `yaml:"timeout"`
	Backoff     time.Duration `yaml:"backoff"`
}

// Default returns the stock configuration.
func Default() Config {
	rep := reputation.DefaultConfig()
	tiers := make([]TierSection, len(rep.Tiers))
	for i, t := range rep.Tiers {
		tiers[i] = TierSection{Name: t.Tier.String(), Role: t.Role, MinScore: t.MinScore}
	}
	con := contract.DefaultConfig()
	disp := effect.DefaultConfig()
	return Config{
		DatabasePath: "therockqc.db",
		GuildID:      "therockqc",
		Timezone:     "UTC",
		Workers:      8,
		StoreTimeout: 5 * time.Second,
		Reputation: ReputationSection{
			Weights:  rep.Weights,
			Caps:     rep.Caps,
			DeadZone: rep.DeadZone,
			Tiers:    tiers,
		},
		Contracts: ContractSection{
			Teams:         con.Teams,
			SalaryMin:     con.SalaryMin,
			SalaryMax:     con.SalaryMax,
			DurationYears: con.DurationYears,
			WarningWindow: con.WarningWindow,
			ScanInterval:  24 * time.Hour,
		},
		Dispatch: DispatchSection{
			MaxAttempts: disp.MaxAttempts,
			Timeout:     disp.Timeout,
			Backoff:     disp.Backoff,
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result. Unknown YAML keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(buf))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	var problems []error
	if c.DatabasePath == "" {
		problems = append(problems, errors.New("databasePath is required"))
	}
	if c.Workers <= 0 {
		problems = append(problems, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.StoreTimeout <= 0 {
		problems = append(problems, fmt.Errorf("storeTimeout must be positive, got %s", c.StoreTimeout))
	}
	if c.Contracts.ScanInterval < 0 {
		problems = append(problems, fmt.Errorf("contracts.scanInterval must not be negative, got %s", c.Contracts.ScanInterval))
	}
	if c.Dispatch.MaxAttempts == 0 {
		problems = append(problems, errors.New("dispatch.maxAttempts must be at least 1"))
	}
	if _, err := c.ReputationConfig(); err != nil {
		problems = append(problems, err)
	}
	if err := c.ContractConfig().Validate(); err != nil {
		problems = append(problems, err)
	}
	if err := errors.Join(problems...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ReputationConfig builds and validates the accumulator configuration.
func (c Config) ReputationConfig() (reputation.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return reputation.Config{}, err
	}
	tiers := make([]reputation.Tier, 0, len(c.Reputation.Tiers))
	for _, t := range c.Reputation.Tiers {
		tier, err := model.ParseTier(t.Name)
		if err != nil {
			return reputation.Config{}, fmt.Errorf("reputation.tiers: %w", err)
		}
		tiers = append(tiers, reputation.Tier{Tier: tier, Role: t.Role, MinScore: t.MinScore})
	}
	cfg := reputation.Config{
		Weights:  c.Reputation.Weights,
		Caps:     c.Reputation.Caps,
		DeadZone: c.Reputation.DeadZone,
		Tiers:    tiers,
		Location: loc,
	}
	if err := cfg.Validate(); err != nil {
		return reputation.Config{}, err
	}
	return cfg, nil
}

// ContractConfig builds the lifecycle configuration.
func (c Config) ContractConfig() contract.Config {
	return contract.Config{
		Teams:         c.Contracts.Teams,
		SalaryMin:     c.Contracts.SalaryMin,
		SalaryMax:     c.Contracts.SalaryMax,
		DurationYears: c.Contracts.DurationYears,
		WarningWindow: c.Contracts.WarningWindow,
	}
}

// EffectConfig builds the dispatcher configuration.
func (c Config) EffectConfig() effect.Config {
	return effect.Config{
		MaxAttempts: c.Dispatch.MaxAttempts,
		Timeout:     c.Dispatch.Timeout,
		Backoff:     c.Dispatch.Backoff,
	}
}
