package config

import (
	"fmt"

	"github.com/kilianp07/fleetbridge/infra/remote/httpapi"
	"github.com/kilianp07/fleetbridge/infra/remote/sim"
)

// RemoteConfig selects the remote API implementation.
type RemoteConfig struct {
	// Type is "http" or "sim".
	Type string         `json:"type"`
	HTTP httpapi.Config `json:"http"`
	Sim  sim.Config     `json:"sim"`
}

// SetDefaults applies sane defaults.
func (c *RemoteConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "http"
	}
	switch c.Type {
	case "http":
		c.HTTP.SetDefaults()
	case "sim":
		c.Sim.SetDefaults()
	}
}

// Validate checks the selected implementation.
func (c RemoteConfig) Validate() error {
	switch c.Type {
	case "http":
		if err := c.HTTP.Validate(); err != nil {
			return fmt.Errorf("remote.http: %w", err)
		}
	case "sim":
	default:
		return fmt.Errorf("remote: unknown type %q", c.Type)
	}
	return nil
}
