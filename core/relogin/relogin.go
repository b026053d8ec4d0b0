// Package relogin serializes login attempts against the remote API. Every
// poll loop that sees an expired session asks the coordinator for a relogin;
// at most one attempt is outstanding at any time.
package relogin

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/fleetbridge/core/logger"
	"github.com/kilianp07/fleetbridge/core/metrics"
	"github.com/kilianp07/fleetbridge/core/monitoring"
)

// JobID is the scheduler id of the pending relogin attempt.
const JobID = "relogin"

// Jobs is the part of the scheduler the coordinator needs.
type Jobs interface {
	Once(id string, delay time.Duration, fn func()) error
	Has(id string) bool
}

// Authenticator performs the login call.
type Authenticator interface {
	Login(ctx context.Context) error
}

// Coordinator schedules relogin attempts.
type Coordinator struct {
	jobs    Jobs
	auth    Authenticator
	delay   time.Duration
	log     logger.Logger
	metrics metrics.ReloginRecorder

	mu sync.Mutex
}

// New returns a coordinator that logs in delay after the first request.
func New(jobs Jobs, auth Authenticator, delay time.Duration, log logger.Logger, rec metrics.ReloginRecorder) *Coordinator {
	if rec == nil {
		rec = metrics.NopSink{}
	}
	return &Coordinator{jobs: jobs, auth: auth, delay: delay, log: logger.OrNop(log), metrics: rec}
}

// Relogin schedules a login attempt unless one is already pending. It
// reports whether a new attempt was scheduled.
func (c *Coordinator) Relogin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jobs.Has(JobID) {
		return false
	}
	if err := c.jobs.Once(JobID, c.delay, c.login); err != nil {
		c.log.Errorf("schedule relogin: %v", err)
		return false
	}
	c.log.Warnf("session expired, relogin in %s", c.delay)
	return true
}

// InProgress reports whether a relogin is scheduled or running.
func (c *Coordinator) InProgress() bool {
	return c.jobs.Has(JobID)
}

func (c *Coordinator) login() {
	start := time.Now()
	err := c.auth.Login(context.Background())
	ev := metrics.ReloginEvent{Success: err == nil, Duration: time.Since(start), Time: start}
	if recErr := c.metrics.RecordRelogin(ev); recErr != nil {
		c.log.Errorf("record relogin: %v", recErr)
	}
	if err != nil {
		c.log.Errorf("relogin failed: %v", err)
		monitoring.CaptureException(err, map[string]string{monitoring.TagOp: "relogin"})
		return
	}
	c.log.Infof("relogin succeeded in %s", time.Since(start).Round(time.Millisecond))
}
