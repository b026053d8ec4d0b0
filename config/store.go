package config

import (
	"fmt"
	"time"
)

// StoreConfig selects where gateway state is persisted.
type StoreConfig struct {
	// Backend is "memory", "bolt" or "redis".
	Backend string      `json:"backend"`
	Path    string      `json:"path"`
	Redis   RedisConfig `json:"redis"`
}

// RedisConfig configures the redis store backend.
type RedisConfig struct {
	Addr        string        `json:"addr"`
	Password    string        `json:"password"`
	DB          int           `json:"db"`
	Prefix      string        `json:"prefix"`
	DialTimeout time.Duration `json:"dial_timeout"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Backend == "bolt" && c.Path == "" {
		c.Path = "fleetbridge.db"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "fleetbridge:"
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
}

// Validate checks mandatory fields.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory":
	case "bolt":
		if c.Path == "" {
			return fmt.Errorf("store: path is required for bolt")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("store: redis.addr is required")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Backend)
	}
	return nil
}
