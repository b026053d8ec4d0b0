// Package remotetest provides an in-memory remote.API for tests.
package remotetest

import (
	"context"
	"sync"

	"github.com/kilianp07/fleetbridge/core/remote"
)

// Operation names used to inject errors and count calls.
const (
	OpLogin    = "login"
	OpList     = "list"
	OpStatus   = "status"
	OpCharge   = "charge"
	OpHeating  = "heating"
	OpControl  = "control"
	OpInbox    = "inbox"
	OpMarkRead = "mark_read"
	OpDelete   = "delete"
)

// ControlCall records a SendControl invocation.
type ControlCall struct {
	VIN     string
	Control remote.Control
}

// Fake is a scriptable remote.API. The zero value is not usable, use New.
type Fake struct {
	mu       sync.Mutex
	vehicles []remote.Vehicle
	statuses map[string]remote.Status
	charges  map[string]remote.ChargeStatus
	heating  map[string]remote.HeatingSchedule
	inbox    []remote.Message
	pageSize int

	errs     map[string]error
	once     map[string][]error
	calls    map[string]int
	controls []ControlCall
	read     []string
	deleted  []string
}

// New returns a fake serving the given vehicles.
func New(vehicles ...remote.Vehicle) *Fake {
	return &Fake{
		vehicles: vehicles,
		statuses: map[string]remote.Status{},
		charges:  map[string]remote.ChargeStatus{},
		heating:  map[string]remote.HeatingSchedule{},
		pageSize: 2,
		errs:     map[string]error{},
		once:     map[string][]error{},
		calls:    map[string]int{},
	}
}

// SetStatus sets the status returned for vin.
func (f *Fake) SetStatus(vin string, st remote.Status) {
	f.mu.Lock()
	f.statuses[vin] = st
	f.mu.Unlock()
}

// SetCharge sets the charge status returned for vin.
func (f *Fake) SetCharge(vin string, cs remote.ChargeStatus) {
	f.mu.Lock()
	f.charges[vin] = cs
	f.mu.Unlock()
}

// SetInbox replaces the inbox, newest message first.
func (f *Fake) SetInbox(pageSize int, msgs ...remote.Message) {
	f.mu.Lock()
	f.inbox = msgs
	if pageSize > 0 {
		f.pageSize = pageSize
	}
	f.mu.Unlock()
}

// SetError makes every call of op fail with err until cleared with nil.
func (f *Fake) SetError(op string, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.errs, op)
	} else {
		f.errs[op] = err
	}
	f.mu.Unlock()
}

// FailNext queues errors returned by the next calls of op.
func (f *Fake) FailNext(op string, errs ...error) {
	f.mu.Lock()
	f.once[op] = append(f.once[op], errs...)
	f.mu.Unlock()
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Controls returns the recorded control calls.
func (f *Fake) Controls() []ControlCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ControlCall(nil), f.controls...)
}

// Read returns ids marked as read.
func (f *Fake) Read() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.read...)
}

// Deleted returns deleted ids.
func (f *Fake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// call counts op and returns the injected error, if any. Callers hold f.mu.
func (f *Fake) call(op string) error {
	f.calls[op]++
	if q := f.once[op]; len(q) > 0 {
		f.once[op] = q[1:]
		return q[0]
	}
	return f.errs[op]
}

func (f *Fake) Login(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.call(OpLogin)
}

func (f *Fake) ListVehicles(context.Context) ([]remote.Vehicle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpList); err != nil {
		return nil, err
	}
	return append([]remote.Vehicle(nil), f.vehicles...), nil
}

func (f *Fake) FetchStatus(_ context.Context, vin string) (remote.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpStatus); err != nil {
		return remote.Status{}, err
	}
	return f.statuses[vin], nil
}

func (f *Fake) FetchChargeStatus(_ context.Context, vin string) (remote.ChargeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpCharge); err != nil {
		return remote.ChargeStatus{}, err
	}
	return f.charges[vin], nil
}

func (f *Fake) FetchHeatingSchedule(_ context.Context, vin string) (remote.HeatingSchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpHeating); err != nil {
		return remote.HeatingSchedule{}, err
	}
	return f.heating[vin], nil
}

func (f *Fake) SendControl(_ context.Context, vin string, c remote.Control) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpControl); err != nil {
		return err
	}
	f.controls = append(f.controls, ControlCall{VIN: vin, Control: c})
	return nil
}

func (f *Fake) FetchInbox(_ context.Context, page int) ([]remote.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpInbox); err != nil {
		return nil, err
	}
	start := (page - 1) * f.pageSize
	if page < 1 || start >= len(f.inbox) {
		return nil, nil
	}
	end := start + f.pageSize
	if end > len(f.inbox) {
		end = len(f.inbox)
	}
	return append([]remote.Message(nil), f.inbox[start:end]...), nil
}

func (f *Fake) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpMarkRead); err != nil {
		return err
	}
	f.read = append(f.read, id)
	return nil
}

func (f *Fake) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.call(OpDelete); err != nil {
		return err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

var _ remote.API = (*Fake)(nil)
