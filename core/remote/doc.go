// Package remote describes the vehicle manufacturer's telemetry and control
// API as seen by the gateway. Adapters live under infra/remote.
package remote
