package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kilianp07/fleetbridge/core/logger"
)

// Scheduler keys cron entries by a caller chosen id. Adding a job with an id
// already in use replaces the previous job.
type Scheduler struct {
	cron *cron.Cron
	log  logger.Logger
	loc  *time.Location

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// New creates a stopped scheduler evaluating daily jobs in loc.
func New(loc *time.Location, log logger.Logger) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	log = logger.OrNop(log)
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		log:  log,
		loc:  loc,
		jobs: make(map[string]cron.EntryID),
	}
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Every runs fn every interval. A run is skipped while the previous one is
// still going.
func (s *Scheduler) Every(id string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", id)
	}
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{log: s.log})).Then(cron.FuncJob(fn))
	s.add(id, cron.Every(interval), func(cron.EntryID) cron.Job { return job })
	return nil
}

// Daily runs fn every day at hour:minute in the scheduler location.
func (s *Scheduler) Daily(id string, hour, minute int, fn func()) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("job %s: invalid time %02d:%02d", id, hour, minute)
	}
	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = s.loc
	}
	s.add(id, sched, func(cron.EntryID) cron.Job { return cron.FuncJob(fn) })
	return nil
}

// Once runs fn a single time after delay. The job stays registered until fn
// returns.
func (s *Scheduler) Once(id string, delay time.Duration, fn func()) error {
	if delay < 0 {
		delay = 0
	}
	at := time.Now().Add(delay)
	s.add(id, &onceSchedule{at: at}, func(eid cron.EntryID) cron.Job {
		return cron.FuncJob(func() {
			defer s.removeEntry(id, eid)
			fn()
		})
	})
	return nil
}

// add registers a job. build receives the entry id reserved for the job.
func (s *Scheduler) add(id string, sched cron.Schedule, build func(cron.EntryID) cron.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.jobs[id]; ok {
		s.cron.Remove(old)
	}
	job := &lateJob{ready: make(chan struct{})}
	eid := s.cron.Schedule(sched, job)
	job.set(build(eid))
	s.jobs[id] = eid
	s.log.Debugf("scheduled job %s", id)
}

// Remove deletes a job. Unknown ids are ignored.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eid, ok := s.jobs[id]; ok {
		s.cron.Remove(eid)
		delete(s.jobs, id)
		s.log.Debugf("removed job %s", id)
	}
}

// removeEntry deletes id only if it still refers to eid.
func (s *Scheduler) removeEntry(id string, eid cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.jobs[id]; ok && cur == eid {
		delete(s.jobs, id)
	}
	s.cron.Remove(eid)
}

// Has reports whether a job with id is registered.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// Next returns the next activation of a job. It is only known once the
// scheduler is running.
func (s *Scheduler) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	eid, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(eid)
	if !e.Valid() {
		return time.Time{}, false
	}
	return e.Next, true
}

// IDs lists registered job ids.
func (s *Scheduler) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// onceSchedule yields at on its first evaluation and never again.
type onceSchedule struct {
	mu    sync.Mutex
	at    time.Time
	given bool
}

func (o *onceSchedule) Next(time.Time) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.given {
		return time.Time{}
	}
	o.given = true
	return o.at
}

// lateJob lets a job learn its own entry id. Run waits until the job is
// bound.
type lateJob struct {
	ready chan struct{}
	job   cron.Job
}

func (l *lateJob) set(j cron.Job) {
	l.job = j
	close(l.ready)
}

func (l *lateJob) Run() {
	<-l.ready
	l.job.Run()
}
