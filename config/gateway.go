package config

import (
	"fmt"
	"time"
)

// GatewayConfig holds the polling and job timings.
type GatewayConfig struct {
	// Default periods applied when they were not configured over the bus
	// within ConfigGrace.
	ActivePeriod        time.Duration `json:"active_period"`
	InactivePeriod      time.Duration `json:"inactive_period"`
	AfterShutdownPeriod time.Duration `json:"after_shutdown_period"`
	InactiveGracePeriod time.Duration `json:"inactive_grace_period"`
	ConfigGrace         time.Duration `json:"config_grace"`
	Tick                time.Duration `json:"tick"`

	ReloginDelay         time.Duration `json:"relogin_delay"`
	InboxInterval        time.Duration `json:"inbox_interval"`
	InboxMaxPages        int           `json:"inbox_max_pages"`
	DeleteAfterRead      bool          `json:"delete_after_read"`
	ChargingWakeupOffset time.Duration `json:"charging_wakeup_offset"`
	// Timezone is the IANA location of charging schedule times.
	Timezone string `json:"timezone"`
}

// SetDefaults applies sane defaults.
func (c *GatewayConfig) SetDefaults() {
	setDuration(&c.ActivePeriod, 30*time.Second)
	setDuration(&c.InactivePeriod, time.Hour)
	setDuration(&c.AfterShutdownPeriod, 2*time.Minute)
	setDuration(&c.InactiveGracePeriod, 10*time.Minute)
	setDuration(&c.ConfigGrace, time.Minute)
	setDuration(&c.Tick, time.Second)
	setDuration(&c.ReloginDelay, 15*time.Second)
	setDuration(&c.InboxInterval, 5*time.Minute)
	if c.InboxMaxPages == 0 {
		c.InboxMaxPages = 5
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

// Validate checks the timings.
func (c GatewayConfig) Validate() error {
	for name, d := range map[string]time.Duration{
		"active_period":         c.ActivePeriod,
		"inactive_period":       c.InactivePeriod,
		"after_shutdown_period": c.AfterShutdownPeriod,
		"inactive_grace_period": c.InactiveGracePeriod,
		"tick":                  c.Tick,
		"inbox_interval":        c.InboxInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("gateway: %s must be positive", name)
		}
	}
	if c.ActivePeriod > c.InactivePeriod {
		return fmt.Errorf("gateway: active_period must not exceed inactive_period")
	}
	if c.ConfigGrace < 0 || c.ReloginDelay < 0 {
		return fmt.Errorf("gateway: config_grace and relogin_delay must not be negative")
	}
	if c.InboxMaxPages < 1 {
		return fmt.Errorf("gateway: inbox_max_pages must be at least 1")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// Location resolves Timezone.
func (c GatewayConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// VehicleConfig overrides per-vehicle settings.
type VehicleConfig struct {
	VIN string `json:"vin"`
	// Disabled vehicles are not polled and accept no commands.
	Disabled           bool    `json:"disabled"`
	BatteryCapacityKWh float64 `json:"battery_capacity_kwh"`
	// ChargePollingMinPercent is the state of charge gain to wait for
	// between two polls while charging.
	ChargePollingMinPercent float64 `json:"charge_polling_min_percent"`
	// EV overrides the vehicle class reported by the remote API.
	EV *bool `json:"ev"`
}

// APIConfig configures the HTTP status API.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// SetDefaults applies sane defaults.
func (c *APIConfig) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
}
