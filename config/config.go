/*
Package config loads server configuration from a TOML file.

Everything has a working default so the server runs with no file at all;
the file overrides ports, the coupon secret, and the per-category policies
seeded at startup.
*/
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/marlin/loyalty-engine/ledger"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Coupon   CouponConfig   `toml:"coupon"`
	Policies []PolicyConfig `toml:"policy"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	DB   string `toml:"db"`
}

type CouponConfig struct {
	// Secret is the shared secret typed in at the counter to use a coupon.
	// Overridable via the LOYALTY_COUPON_SECRET environment variable.
	Secret string `toml:"secret"`
}

type PolicyConfig struct {
	Category           string `toml:"category"`
	UnitAward          int64  `toml:"unit_award"`
	DailyCap           int64  `toml:"daily_cap"`
	DedupScope         string `toml:"dedup_scope"`
	SelfTargetExcluded bool   `toml:"self_target_excluded"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080, DB: "loyalty.db"},
	}
}

// Load reads path into a Config on top of defaults. An empty path returns
// the defaults. LOYALTY_COUPON_SECRET, when set, wins over the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}
	if secret := os.Getenv("LOYALTY_COUPON_SECRET"); secret != "" {
		cfg.Coupon.Secret = secret
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	for _, p := range c.Policies {
		if p.Category == "" {
			return fmt.Errorf("policy with empty category")
		}
		if p.UnitAward < 1 {
			return fmt.Errorf("policy %s: unit_award must be >= 1", p.Category)
		}
		if p.DailyCap < 1 {
			return fmt.Errorf("policy %s: daily_cap must be >= 1", p.Category)
		}
		switch ledger.DedupScope(p.DedupScope) {
		case ledger.DedupNone, ledger.DedupPerTarget:
		default:
			return fmt.Errorf("policy %s: unknown dedup_scope %q", p.Category, p.DedupScope)
		}
	}
	return nil
}

// LedgerPolicies converts the configured policies to engine policies.
func (c Config) LedgerPolicies() []ledger.Policy {
	policies := make([]ledger.Policy, 0, len(c.Policies))
	for _, p := range c.Policies {
		policies = append(policies, ledger.Policy{
			Category:           ledger.Category(p.Category),
			UnitAward:          p.UnitAward,
			DailyCap:           p.DailyCap,
			DedupScope:         ledger.DedupScope(p.DedupScope),
			SelfTargetExcluded: p.SelfTargetExcluded,
		})
	}
	return policies
}
