// Package session holds the per-vehicle refresh state: configured polling
// periods, activity and failure timestamps, charging cadence and the refresh
// mode. The poll loop asks a Session whether the vehicle should be refreshed
// now; command handlers mutate it concurrently.
package session
