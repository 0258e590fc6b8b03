package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/etlflow/types"
	"github.com/warriorguo/etlflow/utils"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Runner is the part of the engine the scheduler needs.
type Runner interface {
	RunDAG(ctx context.Context, dagName string, runID string, logicalTime time.Time, params types.Data) error
}

func Parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, errors.NewNotValid(err, "schedule "+expr)
	}
	return sched, nil
}

// LogicalTime returns the start of the interval that closes at tick, that is
// the schedule's last tick strictly before tick.
func LogicalTime(sched cron.Schedule, tick time.Time) time.Time {
	step := sched.Next(tick).Sub(tick)
	if step <= 0 {
		return tick
	}

	window := step
	for i := 0; i < 8; i++ {
		prev := time.Time{}
		for t := sched.Next(tick.Add(-2 * window)); !t.IsZero() && t.Before(tick); t = sched.Next(t) {
			prev = t
		}
		if !prev.IsZero() {
			return prev
		}
		window *= 2
	}
	return tick.Add(-step)
}

type entry struct {
	id     cron.EntryID
	sched  cron.Schedule
	params types.Data
}

// Scheduler triggers one run of a DAG per schedule tick. Ticks missed while
// the process was down are not caught up, and a tick that finds the previous
// run still active is skipped.
type Scheduler struct {
	mu sync.Mutex

	cron    *cron.Cron
	runner  Runner
	entries map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc

	now      func() time.Time
	newRunID func() string
}

func New(runner Runner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		runner:   runner,
		entries:  make(map[string]*entry),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
	}
}

func (s *Scheduler) Register(dagName, expr string, params types.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[dagName]; exists {
		return errors.AlreadyExistsf("schedule of DAG %s", dagName)
	}
	sched, err := Parse(expr)
	if err != nil {
		return errors.Trace(err)
	}

	e := &entry{sched: sched, params: params}
	e.id = s.cron.Schedule(sched, cron.FuncJob(func() {
		s.trigger(dagName, e, s.now())
	}))
	s.entries[dagName] = e

	log.Infof("DAG %s scheduled %s, next run at %s", dagName, expr, sched.Next(s.now()).Format(time.RFC3339))
	return nil
}

func (s *Scheduler) Unregister(dagName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.entries[dagName]
	if !exists {
		return errors.NotFoundf("schedule of DAG %s", dagName)
	}
	s.cron.Remove(e.id)
	delete(s.entries, dagName)
	return nil
}

func (s *Scheduler) Scheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return utils.SortedKeys(s.entries)
}

// Trigger runs the job of dagName as if the schedule fired at tick.
func (s *Scheduler) Trigger(dagName string, tick time.Time) (string, error) {
	s.mu.Lock()
	e, exists := s.entries[dagName]
	s.mu.Unlock()
	if !exists {
		return "", errors.NotFoundf("schedule of DAG %s", dagName)
	}
	return s.trigger(dagName, e, tick)
}

func (s *Scheduler) trigger(dagName string, e *entry, tick time.Time) (string, error) {
	// standard schedules have a one minute resolution, the job fires a bit late
	tick = tick.UTC().Truncate(time.Minute)
	logicalTime := LogicalTime(e.sched, tick)
	runID := s.newRunID()

	params := utils.CloneMap(e.params)
	err := s.runner.RunDAG(s.ctx, dagName, runID, logicalTime, params)
	switch {
	case err == nil:
		log.Infof("DAG %s triggered for %s, run %s", dagName, logicalTime.Format(time.RFC3339), runID)
		return runID, nil
	case errors.Is(err, errors.AlreadyExists):
		log.Warnf("DAG %s tick at %s skipped: %v", dagName, tick.Format(time.RFC3339), err)
	default:
		log.Errorf("DAG %s tick at %s failed: %v", dagName, tick.Format(time.RFC3339), err)
	}
	return "", errors.Trace(err)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing new ticks and waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
}
