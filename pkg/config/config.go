package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/agentpay/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all agentpay configuration.
type Config struct {
	Log           LogConfig     `yaml:"log"`
	DBPath        string        `yaml:"db_path"`
	RetentionDays int           `yaml:"retention_days"`
	Ledger        LedgerConfig  `yaml:"ledger"`
	Seller        SellerConfig  `yaml:"seller"`
	Buyer         BuyerConfig   `yaml:"buyer"`
	Metrics       MetricsConfig `yaml:"metrics"`
}

// LogConfig controls the zap logger. File enables rotated file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or console
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LedgerConfig points at the credits ledger. An empty URL selects the
// in-process ledger seeded from Plans.
type LedgerConfig struct {
	URL      string        `yaml:"url"`
	APIKey   string        `yaml:"api_key"`
	AdminKey string        `yaml:"admin_key"`
	Listen   string        `yaml:"listen"`
	Timeout  time.Duration `yaml:"timeout"`
	Plans    []PlanSeed    `yaml:"plans"`
}

// PlanSeed creates a plan on the in-process ledger and funds subscribers.
type PlanSeed struct {
	ID      string           `yaml:"id"`
	AgentID string           `yaml:"agent_id"`
	Funds   map[string]int64 `yaml:"funds"`
}

// SellerConfig configures the paid data service.
type SellerConfig struct {
	Listen      string               `yaml:"listen"`
	A2AListen   string               `yaml:"a2a_listen"`
	PublicURL   string               `yaml:"public_url"`
	A2AURL      string               `yaml:"a2a_url"`
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	PlanID      string               `yaml:"plan_id"`
	AgentID     string               `yaml:"agent_id"`
	Tiers       []models.PricingTier `yaml:"tiers"`
	// BuyerURL, when set, is the registration server the seller announces
	// itself to on startup.
	BuyerURL string `yaml:"buyer_url"`
}

// BuyerConfig configures the purchasing side.
type BuyerConfig struct {
	Listen  string              `yaml:"listen"`
	PlanID  string              `yaml:"plan_id"`
	AgentID string              `yaml:"agent_id"`
	Sellers []string            `yaml:"sellers"`
	Budget  models.BudgetLimits `yaml:"budget"`
	Timeout time.Duration       `yaml:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint on the seller.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultTiers is the reference price list: a fixed search tier and two
// length-bounded dynamic tiers.
func DefaultTiers() []models.PricingTier {
	return []models.PricingTier{
		{
			Name:        "simple",
			Tool:        "search_data",
			Description: "Basic web search - returns raw search results",
			Policy:      models.PricingPolicy{Kind: models.PolicyFixed, Credits: 1},
		},
		{
			Name:        "medium",
			Tool:        "summarize_data",
			Description: "Content summarization - LLM-powered analysis",
			Policy:      models.PricingPolicy{Kind: models.PolicyDynamic, Base: 2, Min: 2, Max: 10},
		},
		{
			Name:        "complex",
			Tool:        "research_data",
			Description: "Full market research - multi-source report",
			Policy: models.PricingPolicy{
				Kind: models.PolicyDynamic, Base: 5, Min: 5, Max: 20,
				Arg: "depth", Bases: map[string]int64{"deep": 10},
			},
		},
	}
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		DBPath:        "agentpay.db",
		RetentionDays: 90,
		Ledger: LedgerConfig{
			Listen:  ":4000",
			Timeout: 30 * time.Second,
		},
		Seller: SellerConfig{
			Listen:      ":3000",
			A2AListen:   ":9000",
			PublicURL:   "http://localhost:3000",
			A2AURL:      "http://localhost:9000",
			Name:        "Data Selling Agent",
			Description: "Sells web search, summarization and market research",
			Tiers:       DefaultTiers(),
		},
		Buyer: BuyerConfig{
			Listen:  ":8000",
			Timeout: 2 * time.Minute,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid config: log.format %q (want json or console)", c.Log.Format)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("invalid config: retention_days must be >= 0")
	}
	if c.Buyer.Budget.MaxDaily < 0 || c.Buyer.Budget.MaxPerRequest < 0 {
		return fmt.Errorf("invalid config: buyer.budget limits must be >= 0 (0 disables)")
	}
	seen := make(map[string]bool, len(c.Seller.Tiers))
	for _, t := range c.Seller.Tiers {
		if t.Name == "" || t.Tool == "" {
			return fmt.Errorf("invalid config: seller tier needs a name and a tool")
		}
		if seen[t.Name] {
			return fmt.Errorf("invalid config: duplicate seller tier %q", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
