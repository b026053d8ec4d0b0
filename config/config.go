// Package config loads the gateway configuration from a YAML or JSON file
// with K_ prefixed environment overrides (K_MQTT__BROKER sets mqtt.broker).
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

	"github.com/kilianp07/fleetbridge/core/factory"
	"github.com/kilianp07/fleetbridge/core/metrics"
	"github.com/kilianp07/fleetbridge/infra/logger"
	"github.com/kilianp07/fleetbridge/infra/mqtt"
)

type Config struct {
	MQTT       mqtt.Config            `json:"mqtt"`
	Remote     RemoteConfig           `json:"remote"`
	Gateway    GatewayConfig          `json:"gateway"`
	Vehicles   []VehicleConfig        `json:"vehicles"`
	Forwarders []factory.ModuleConfig `json:"forwarders"`
	Metrics    metrics.Config         `json:"metrics"`
	API        APIConfig              `json:"api"`
	Store      StoreConfig            `json:"store"`
	Logging    logger.Config          `json:"logging"`
	Sentry     SentryConfig           `json:"sentry"`
}

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
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.MQTT.SetDefaults()
	c.Remote.SetDefaults()
	c.Gateway.SetDefaults()
	c.API.SetDefaults()
	c.Store.SetDefaults()
	c.Logging.SetDefaults()
	c.Sentry.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.MQTT.Validate(); err != nil {
		return err
	}
	if err := c.Remote.Validate(); err != nil {
		return err
	}
	if err := c.Gateway.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Vehicles))
	for i, v := range c.Vehicles {
		if v.VIN == "" {
			return fmt.Errorf("vehicles[%d]: vin is required", i)
		}
		if seen[v.VIN] {
			return fmt.Errorf("vehicles[%d]: duplicate vin %s", i, v.VIN)
		}
		seen[v.VIN] = true
		if v.BatteryCapacityKWh < 0 || v.ChargePollingMinPercent < 0 {
			return fmt.Errorf("vehicles[%d]: negative values are not allowed", i)
		}
	}
	for i, f := range c.Forwarders {
		if f.Type == "" {
			return fmt.Errorf("forwarders[%d]: type is required", i)
		}
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// Vehicle returns the overrides for vin, if any.
func (c *Config) Vehicle(vin string) (VehicleConfig, bool) {
	for _, v := range c.Vehicles {
		if v.VIN == vin {
			return v, true
		}
	}
	return VehicleConfig{}, false
}
