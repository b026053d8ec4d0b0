// Package monitoring is the error reporting seam of the gateway. Adapters
// install a Monitor with Init; core packages report through the package
// functions and never see the backend.
package monitoring

import (
	"sync/atomic"
	"time"
)

// Tag keys shared by every reporter.
const (
	TagVIN     = "vin"
	TagOp      = "op"
	TagCommand = "command"
)

// Monitor receives unexpected errors.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Flush(time.Duration)                       {}

type holder struct{ m Monitor }

var current atomic.Pointer[holder]

func init() { current.Store(&holder{m: NopMonitor{}}) }

// Init installs m and returns the monitor it replaces. A nil m is ignored.
func Init(m Monitor) Monitor {
	if m == nil {
		return current.Load().m
	}
	return current.Swap(&holder{m: m}).m
}

// CaptureException reports err with optional tags. Nil errors are dropped.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	current.Load().m.CaptureException(err, tags)
}

// CaptureVehicle reports err raised by op on one vehicle.
func CaptureVehicle(err error, vin, op string) {
	CaptureException(err, map[string]string{TagVIN: vin, TagOp: op})
}

// Flush waits up to d for buffered reports to be sent.
func Flush(d time.Duration) {
	current.Load().m.Flush(d)
}
