package sched

import (
	"container/heap"
	"context"
	"math/rand"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/moyuren/calendar/metrics"
)

// Spec represents one target's daily send time
type Spec struct {
	// Target is the messaging host conversation the image goes to
	Target string
	// Hour and Minute form the local time of day to fire at
	Hour   int
	Minute int
	// Enabled gates firing without losing the configured time
	Enabled bool
}

var (
	colonTimeRe   = regexp.MustCompile(`^(\d{1,2}):(\d{1,2})$`)
	compactTimeRe = regexp.MustCompile(`^(\d{4})$`)
)

// ParseTimeOfDay parses a daily send time in HH:MM or HHMM form
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	if m := colonTimeRe.FindStringSubmatch(s); m != nil {
		hour, minute = atoi(m[1]), atoi(m[2])
	} else if m := compactTimeRe.FindStringSubmatch(s); m != nil {
		hour, minute = atoi(m[1][:2]), atoi(m[1][2:])
	} else {
		return 0, 0, errors.Errorf("invalid time of day %q, want HH:MM or HHMM", s)
	}

	if hour > 23 || minute > 59 {
		return 0, 0, errors.Errorf("time of day %q out of range", s)
	}

	return hour, minute, nil
}

func atoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

// Callback is invoked when a target's daily time arrives
type Callback func(ctx context.Context, target string)

// job is one pending trigger in the queue
type job struct {
	at     time.Time
	target string
}

// jobQueue is a min-heap of jobs ordered by trigger time
type jobQueue []job

func (q jobQueue) Len() int            { return len(q) }
func (q jobQueue) Less(i, j int) bool  { return q[i].at.Before(q[j].at) }
func (q jobQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *jobQueue) Push(x interface{}) { *q = append(*q, x.(job)) }
func (q *jobQueue) Pop() interface{} {
	old := *q
	n := len(old)
	x := old[n-1]
	*q = old[:n-1]
	return x
}

// New returns a Scheduler firing cb at each enabled target's daily time
func New(clock Clock, cb Callback) *Scheduler {
	return &Scheduler{
		clock: clock,
		cb:    cb,
		specs: map[string]Spec{},
		wake:  make(chan struct{}, 1),
	}
}

// Scheduler keeps a queue of per-target daily triggers and sleeps until the
// next one. A single long-lived goroutine runs the loop, schedule changes
// wake it up to recompute.
type Scheduler struct {
	m     sync.Mutex
	clock Clock
	cb    Callback
	specs map[string]Spec
	queue jobQueue
	wake  chan struct{}
}

// Update replaces all schedule specs at once, e.g. on configuration reload
func (s *Scheduler) Update(specs []Spec) {
	s.m.Lock()
	s.specs = make(map[string]Spec, len(specs))
	for _, sp := range specs {
		s.specs[sp.Target] = sp
	}
	s.rebuild()
	s.m.Unlock()
	s.signal()
}

// Set adds or replaces the spec for a single target
func (s *Scheduler) Set(sp Spec) {
	s.m.Lock()
	s.specs[sp.Target] = sp
	s.rebuild()
	s.m.Unlock()
	s.signal()
}

// Remove drops a target's schedule, returns whether it existed
func (s *Scheduler) Remove(target string) bool {
	s.m.Lock()
	_, ok := s.specs[target]
	delete(s.specs, target)
	s.rebuild()
	s.m.Unlock()
	s.signal()

	return ok
}

// Specs returns a copy of the current schedule specs
func (s *Scheduler) Specs() []Spec {
	s.m.Lock()
	defer s.m.Unlock()

	out := make([]Spec, 0, len(s.specs))
	for _, sp := range s.specs {
		out = append(out, sp)
	}
	return out
}

// rebuild recomputes the job queue from the specs, caller holds s.m
func (s *Scheduler) rebuild() {
	now := s.clock.Now()
	s.queue = s.queue[:0]
	for _, sp := range s.specs {
		if !sp.Enabled {
			continue
		}
		heap.Push(&s.queue, job{at: nextTrigger(now, sp), target: sp.Target})
	}
}

// nextTrigger computes the next instant to fire for the spec: today at the
// configured time if still in the future, else tomorrow. The result is
// always strictly after now, so a delayed wake never fires twice for the
// same day.
func nextTrigger(now time.Time, sp Spec) time.Time {
	at := time.Date(now.Year(), now.Month(), now.Day(), sp.Hour, sp.Minute, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}

	return at
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run executes the trigger loop until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	log.Info("Scheduler started")
	for {
		s.m.Lock()
		if len(s.queue) == 0 {
			s.m.Unlock()
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		next := s.queue[0]
		s.m.Unlock()

		if d := next.at.Sub(s.clock.Now()); d > 0 {
			select {
			case <-s.clock.After(d):
			case <-s.wake:
				// schedule changed, recompute
				continue
			case <-ctx.Done():
				return
			}
		}

		s.fire(ctx)
	}
}

// fire pops the due job, reschedules its target for the next day and runs
// the callback. A target disabled or removed while its job was queued is
// skipped without firing.
func (s *Scheduler) fire(ctx context.Context) {
	s.m.Lock()
	if len(s.queue) == 0 {
		s.m.Unlock()
		return
	}
	if s.queue[0].at.After(s.clock.Now()) {
		// the queue changed under us and the new head is not due yet
		s.m.Unlock()
		return
	}
	j := heap.Pop(&s.queue).(job)
	sp, ok := s.specs[j.target]
	if !ok || !sp.Enabled {
		s.m.Unlock()
		log.Debugf("Skipping disabled schedule for %s", j.target)
		return
	}
	heap.Push(&s.queue, job{at: nextTrigger(s.clock.Now(), sp), target: j.target})
	delay := s.sameMinuteDelay(j.at)
	s.m.Unlock()

	if delay > 0 {
		// spread out targets configured for the same minute
		log.Debugf("Delaying %s by %s", j.target, delay)
		select {
		case <-s.clock.After(delay):
		case <-ctx.Done():
			return
		}
	}

	log.Infof("Schedule fired for %s", j.target)
	metrics.IncScheduleFire(j.target)
	s.cb(ctx, j.target)
}

// sameMinuteDelay returns a small random delay when the next queued job
// falls in the same minute as the one being fired, caller holds s.m
func (s *Scheduler) sameMinuteDelay(at time.Time) time.Duration {
	if len(s.queue) == 0 {
		return 0
	}
	if !s.queue[0].at.Truncate(time.Minute).Equal(at.Truncate(time.Minute)) {
		return 0
	}

	return time.Duration(1000+rand.Intn(4000)) * time.Millisecond
}
