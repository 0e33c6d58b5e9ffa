package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/dispense/core/dispense"
	"github.com/kilianp07/dispense/core/factory"
	"github.com/kilianp07/dispense/core/metrics"
	"github.com/kilianp07/dispense/core/protocol"
	"github.com/kilianp07/dispense/core/runlog"
	"github.com/kilianp07/dispense/infra/table"
)

// EnvPrefix marks environment variables that override file settings.
// DISPENSE_RUNLOG__PATH sets runlog.path.
const EnvPrefix = "DISPENSE_"

// ServerConfig configures the optional HTTP endpoint serving /metrics and
// the run log API.
type ServerConfig struct {
	Address string `json:"address"`
	// Token protects the run log API when set.
	Token   string `json:"token"`
}

type Config struct {
	Protocol protocol.Protocol    `json:"protocol"`
	Dispense dispense.Config      `json:"dispense"`
	Robot    factory.ModuleConfig `json:"robot"`
	Table    table.Options        `json:"table"`
	Metrics  metrics.Config       `json:"metrics"`
	RunLog   runlog.Config        `json:"runlog"`
	Server   ServerConfig         `json:"server"`
	Sentry   SentryConfig         `json:"sentry"`
}

// SetDefaults fills every section left empty.
func (c *Config) SetDefaults() {
	if c.Robot.Type == "" {
		c.Robot.Type = "simulator"
	}
	c.Dispense.SetDefaults()
	c.RunLog.SetDefaults()
}

// Validate checks every section. The protocol itself is validated by the
// runner.
func (c *Config) Validate() error {
	if err := c.Dispense.Validate(); err != nil {
		return fmt.Errorf("dispense: %w", err)
	}
	if err := c.RunLog.Validate(); err != nil {
		return fmt.Errorf("runlog: %w", err)
	}
	return nil
}

// Load reads a YAML or JSON file, applies DISPENSE_ environment overrides,
// then defaults and validation. Relative table paths are resolved against
// the directory of the file.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.resolveTables(filepath.Dir(path))
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) resolveTables(dir string) {
	for i, t := range c.Protocol.Transfers {
		if t.Table != "" && !filepath.IsAbs(t.Table) {
			c.Protocol.Transfers[i].Table = filepath.Join(dir, t.Table)
		}
	}
}
