package logger

import corelogger "github.com/kilianp07/fleetbridge/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger implements Logger with no-op methods.
type NopLogger = corelogger.Nop

// New returns a Logger for the given component. The environment is detected via
// the APP_ENV variable.
func New(component string) Logger {
	return NewZerologLogger(component)
}

// ForVehicle returns the logger shared by everything handling one vehicle.
func ForVehicle(vin string) Logger {
	return New("vehicle").With("vin", vin)
}
