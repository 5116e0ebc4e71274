package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/carebridge/compliance-engine/internal/domain/retention"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	DSR       DSRConfig       `koanf:"dsr"`
	Retention RetentionConfig `koanf:"retention"`
	Clinical  ClinicalConfig  `koanf:"clinical"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// DSRConfig tunes the data-subject request processor.
type DSRConfig struct {
	SLADays             int           `koanf:"sla_days"`
	CollaboratorTimeout time.Duration `koanf:"collaborator_timeout"`
	PortabilityFormat   string        `koanf:"portability_format"`
}

// RetentionConfig tunes the retention sweep and declares the policies
// themselves. Policies are configuration, not data.
type RetentionConfig struct {
	SweepInterval  time.Duration   `koanf:"sweep_interval"`
	Workers        int             `koanf:"workers"`
	GatewayRPS     int             `koanf:"gateway_rps"`
	GatewayTimeout time.Duration   `koanf:"gateway_timeout"`
	LeaseTTL       time.Duration   `koanf:"lease_ttl"`
	Policies       []PolicyConfig  `koanf:"policies"`
}

type PolicyConfig struct {
	ID             string        `koanf:"id"`
	DataCategory   string        `koanf:"data_category"`
	Period         time.Duration `koanf:"period"`
	DisposalAction string        `koanf:"disposal_action"`
}

// ClinicalConfig points at the surrounding clinical record platform that
// holds the actual patient data.
type ClinicalConfig struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	Enabled      bool   `koanf:"enabled"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB: 0,
		},
		DSR: DSRConfig{
			SLADays:             30,
			CollaboratorTimeout: 10 * time.Second,
			PortabilityFormat:   "json",
		},
		Retention: RetentionConfig{
			SweepInterval:  24 * time.Hour,
			Workers:        4,
			GatewayRPS:     20,
			GatewayTimeout: 15 * time.Second,
			LeaseTTL:       time.Hour,
			Policies: []PolicyConfig{
				{ID: "clinical-7y", DataCategory: "clinical_notes", Period: 7 * 365 * 24 * time.Hour, DisposalAction: "ANONYMIZE"},
				{ID: "billing-10y", DataCategory: "billing", Period: 10 * 365 * 24 * time.Hour, DisposalAction: "DELETE"},
			},
		},
		Clinical: ClinicalConfig{
			BaseURL: "http://localhost:8090",
			Timeout: 10 * time.Second,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Load from config file if exists
	if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
		// Config file is optional.
	}

	// Override with environment variables
	if err := k.Load(env.Provider("CE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// RetentionPolicies converts the configured policies to domain policies,
// validating each.
func (c *Config) RetentionPolicies() ([]retention.Policy, error) {
	policies := make([]retention.Policy, 0, len(c.Retention.Policies))
	for _, pc := range c.Retention.Policies {
		action, err := retention.ParseDisposalAction(pc.DisposalAction)
		if err != nil {
			return nil, fmt.Errorf("retention policy %s: %w", pc.ID, err)
		}
		p := retention.Policy{
			ID:              pc.ID,
			DataCategory:    pc.DataCategory,
			RetentionPeriod: pc.Period,
			DisposalAction:  action,
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// SLA returns the DSR deadline window as a duration.
func (c *Config) SLA() time.Duration {
	return time.Duration(c.DSR.SLADays) * 24 * time.Hour
}
