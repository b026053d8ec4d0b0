// Package infra holds the adapters behind the core interfaces: the paho
// MQTT bus client, remote API clients, state store backends, telemetry
// forwarders, the prometheus sink and the sentry monitor. Core packages
// never import infra; app wires the two together.
package infra
