// Package config loads and validates the engine configuration. The YAML
// schema is strict: every recognized key is enumerated in the typed structs
// below and unknown keys fail at load time, not at first use.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/simex/risk-engine/internal/margin"
	"github.com/simex/risk-engine/internal/model"
	"github.com/simex/risk-engine/internal/money"
)

var (
	// ErrNoBaseAccount is returned when no (user, account) pair is
	// flagged as the reward-driving base account.
	ErrNoBaseAccount = errors.New("config: exactly one base account required, found none")

	// ErrMultipleBaseAccounts is returned when more than one pair is
	// flagged base.
	ErrMultipleBaseAccounts = errors.New("config: exactly one base account required, found several")

	// ErrNoUsers is returned when the user list is empty.
	ErrNoUsers = errors.New("config: at least one user required")
)

// EngineConfig holds simulation-wide parameters. Monetary rates are YAML
// strings so they parse into decimal without a float round-trip.
type EngineConfig struct {
	FundingIntervalTicks   int64  `yaml:"funding_interval_ticks"`
	RequireFundingRate     bool   `yaml:"require_funding_rate"`
	DefaultFundingRate     string `yaml:"default_funding_rate"`
	MaintenanceMarginRatio string `yaml:"maintenance_margin_ratio"`
	InterestRatePerTick    string `yaml:"interest_rate_per_tick"`
	MarginMaxLeverage      int    `yaml:"margin_max_leverage"`
	FuturesMaxLeverage     int    `yaml:"futures_max_leverage"`
	Reward                 string `yaml:"reward"`
	RewardFreqPerYear      int    `yaml:"reward_freq_per_year"`

	defaultFundingRate     decimal.Decimal
	maintenanceMarginRatio decimal.Decimal
	interestRatePerTick    decimal.Decimal
}

// DefaultFundingRateDecimal returns the parsed default funding rate.
func (e *EngineConfig) DefaultFundingRateDecimal() decimal.Decimal { return e.defaultFundingRate }

// MaintenanceMarginRatioDecimal returns the parsed maintenance ratio.
func (e *EngineConfig) MaintenanceMarginRatioDecimal() decimal.Decimal {
	return e.maintenanceMarginRatio
}

// InterestRatePerTickDecimal returns the parsed per-tick borrow rate.
func (e *EngineConfig) InterestRatePerTickDecimal() decimal.Decimal { return e.interestRatePerTick }

// FeesConfig holds fee rates as decimal strings.
type FeesConfig struct {
	Spot        string `yaml:"spot"`
	Margin      string `yaml:"margin"`
	Futures     string `yaml:"futures"`
	Liquidation string `yaml:"liquidation"`

	spot, margin, futures, liquidation decimal.Decimal
}

// Rates returns the parsed fee rates in schedule order: spot, margin,
// futures, liquidation.
func (f *FeesConfig) Rates() (spot, margin, futures, liquidation decimal.Decimal) {
	return f.spot, f.margin, f.futures, f.liquidation
}

// AccountConfig configures one (user, account-type) pair. Recognized keys:
// open_account, initial_cash, leverage, base.
type AccountConfig struct {
	Open        bool   `yaml:"open_account"`
	InitialCash string `yaml:"initial_cash"`
	Leverage    int    `yaml:"leverage"`
	Base        bool   `yaml:"base"`

	cash decimal.Decimal
}

// InitialCashDecimal returns the parsed starting cash.
func (a *AccountConfig) InitialCashDecimal() decimal.Decimal { return a.cash }

// UserConfig configures one user's accounts.
type UserConfig struct {
	ID      string         `yaml:"id"`
	Spot    *AccountConfig `yaml:"spot,omitempty"`
	Margin  *AccountConfig `yaml:"margin,omitempty"`
	Futures *AccountConfig `yaml:"futures,omitempty"`
}

// Account returns the config for one account type, or nil.
func (u *UserConfig) Account(t model.AccountType) *AccountConfig {
	switch t {
	case model.AccountSpot:
		return u.Spot
	case model.AccountMargin:
		return u.Margin
	case model.AccountFutures:
		return u.Futures
	}
	return nil
}

// Config is the full engine configuration.
type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Fees   FeesConfig   `yaml:"fees"`
	Users  []UserConfig `yaml:"users"`

	base model.AccountRef
}

// BaseRef returns the single reward-driving (user, account) reference.
// Resolved once at load, never inferred dynamically.
func (c *Config) BaseRef() model.AccountRef { return c.base }

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads and validates configuration YAML. Unknown keys are errors.
func Parse(r io.Reader) (*Config, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseRate(field, raw, fallback string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s %q: %w", field, raw, err)
	}
	return d, nil
}

func (c *Config) validate() error {
	// Engine defaults mirror the reference simulation: 8-tick funding
	// period, 0.01% default funding rate, 5% maintenance ratio, hourly
	// borrow rate, 10x margin / 125x futures caps.
	if c.Engine.FundingIntervalTicks <= 0 {
		c.Engine.FundingIntervalTicks = 8
	}
	if c.Engine.MarginMaxLeverage <= 0 {
		c.Engine.MarginMaxLeverage = 10
	}
	if c.Engine.FuturesMaxLeverage <= 0 {
		c.Engine.FuturesMaxLeverage = 125
	}
	if c.Engine.Reward == "" {
		c.Engine.Reward = "log_return"
	}
	if c.Engine.RewardFreqPerYear <= 0 {
		c.Engine.RewardFreqPerYear = 252
	}

	var err error
	if c.Engine.defaultFundingRate, err = parseRate("default_funding_rate", c.Engine.DefaultFundingRate, "0.0001"); err != nil {
		return err
	}
	if c.Engine.maintenanceMarginRatio, err = parseRate("maintenance_margin_ratio", c.Engine.MaintenanceMarginRatio, "0.05"); err != nil {
		return err
	}
	one := money.One
	if c.Engine.maintenanceMarginRatio.LessThanOrEqual(decimal.Zero) ||
		c.Engine.maintenanceMarginRatio.GreaterThanOrEqual(one) {
		return fmt.Errorf("config: maintenance_margin_ratio %s must be in (0, 1)",
			c.Engine.maintenanceMarginRatio)
	}
	if c.Engine.interestRatePerTick, err = parseRate("interest_rate_per_tick", c.Engine.InterestRatePerTick, "0.0000065938"); err != nil {
		return err
	}

	if c.Fees.spot, err = parseRate("fees.spot", c.Fees.Spot, "0.001"); err != nil {
		return err
	}
	if c.Fees.margin, err = parseRate("fees.margin", c.Fees.Margin, "0.001"); err != nil {
		return err
	}
	if c.Fees.futures, err = parseRate("fees.futures", c.Fees.Futures, "0.0004"); err != nil {
		return err
	}
	if c.Fees.liquidation, err = parseRate("fees.liquidation", c.Fees.Liquidation, "0.005"); err != nil {
		return err
	}

	if len(c.Users) == 0 {
		return ErrNoUsers
	}

	seen := make(map[string]bool, len(c.Users))
	baseCount := 0
	for i := range c.Users {
		u := &c.Users[i]
		if u.ID == "" {
			return fmt.Errorf("config: users[%d]: id required", i)
		}
		if seen[u.ID] {
			return fmt.Errorf("config: duplicate user id %q", u.ID)
		}
		seen[u.ID] = true

		openAccounts := 0
		for _, at := range model.AccountTypes {
			acc := u.Account(at)
			if acc == nil {
				continue
			}
			if err := c.validateAccount(u.ID, at, acc); err != nil {
				return err
			}
			if !acc.Open {
				continue
			}
			openAccounts++
			if acc.Base {
				baseCount++
				c.base = model.AccountRef{UserID: u.ID, Account: at}
			}
		}
		if openAccounts == 0 {
			return fmt.Errorf("config: user %q has no open accounts", u.ID)
		}
	}

	if baseCount == 0 {
		return ErrNoBaseAccount
	}
	if baseCount > 1 {
		return ErrMultipleBaseAccounts
	}
	return nil
}

func (c *Config) validateAccount(userID string, at model.AccountType, acc *AccountConfig) error {
	ref := model.AccountRef{UserID: userID, Account: at}

	if acc.Base && !acc.Open {
		return fmt.Errorf("config: %s: base account must be open", ref)
	}
	if !acc.Open {
		return nil
	}

	cash, err := decimal.NewFromString(strings.TrimSpace(acc.InitialCash))
	if err != nil {
		return fmt.Errorf("config: %s: initial_cash %q: %w", ref, acc.InitialCash, err)
	}
	if cash.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("config: %s: initial_cash %s must be positive", ref, cash)
	}
	acc.cash = cash

	if acc.Leverage == 0 {
		acc.Leverage = 1
	}
	switch at {
	case model.AccountSpot:
		// Spot is fixed at 1x: long-only, unleveraged, physically settled.
		if acc.Leverage != 1 {
			return fmt.Errorf("config: %s: spot leverage is fixed at 1, got %d", ref, acc.Leverage)
		}
	case model.AccountMargin:
		if acc.Leverage < 1 || acc.Leverage > c.Engine.MarginMaxLeverage {
			return fmt.Errorf("config: %s: leverage %d outside [1, %d]",
				ref, acc.Leverage, c.Engine.MarginMaxLeverage)
		}
	case model.AccountFutures:
		if acc.Leverage < 1 || acc.Leverage > c.Engine.FuturesMaxLeverage {
			return fmt.Errorf("config: %s: leverage %d outside [1, %d]",
				ref, acc.Leverage, c.Engine.FuturesMaxLeverage)
		}
	}
	if at.Leveraged() && !margin.LeverageSafe(acc.Leverage, c.Engine.maintenanceMarginRatio) {
		// 1/leverage must exceed m or the position opens already breached.
		return fmt.Errorf("config: %s: leverage %d with maintenance_margin_ratio %s puts the liquidation price at or past entry",
			ref, acc.Leverage, c.Engine.maintenanceMarginRatio)
	}
	return nil
}
