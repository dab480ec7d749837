// Package scheduler drives the agent's recurring work: a static job
// table from configuration plus ad-hoc scheduled tasks created at
// runtime. Fire times are persisted so a restart resumes the schedule
// instead of re-firing or forgetting jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hcengineering/huly-ai-agent-sub000/internal/config"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/store"
	"github.com/hcengineering/huly-ai-agent-sub000/internal/task"
)

// tickInterval is the scheduler's fixed polling period.
const tickInterval = time.Second

// adhocPrefix keys ad-hoc scheduled tasks in the upcoming-fire map,
// separating them from configured job ids.
const adhocPrefix = "adhoc:"

// job is one entry of the static table after cron parsing.
type job struct {
	cfg      config.JobConfig
	schedule cron.Schedule
}

// Scheduler owns the upcoming-fire map. It is the map's only writer.
type Scheduler struct {
	store    *store.Store
	jobs     map[string]job
	out      chan<- *task.Task
	activity <-chan struct{}
	logger   *slog.Logger

	upcoming map[string]time.Time
	active   bool

	now    func() time.Time
	jitter func(spread time.Duration) time.Duration
}

// New builds a scheduler from the configured job table. Fired tasks
// are sent to out; ticks on activity arm active-only jobs.
func New(st *store.Store, jobCfgs []config.JobConfig, out chan<- *task.Task, activity <-chan struct{}, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	jobs := make(map[string]job, len(jobCfgs))
	for _, jc := range jobCfgs {
		schedule, err := cron.ParseStandard(jc.Cron)
		if err != nil {
			return nil, fmt.Errorf("job %s: parse cron %q: %w", jc.ID, jc.Cron, err)
		}
		jobs[jc.ID] = job{cfg: jc, schedule: schedule}
	}
	return &Scheduler{
		store:    st,
		jobs:     jobs,
		out:      out,
		activity: activity,
		logger:   logger.With("component", "scheduler"),
		now:      func() time.Time { return time.Now().UTC() },
		jitter: func(spread time.Duration) time.Duration {
			if spread <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(spread)))
		},
	}, nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.restore(); err != nil {
		return err
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

// restore loads the persisted fire map and schedules any configured
// job missing from it (new jobs, or active-gated jobs before their
// first activity).
func (s *Scheduler) restore() error {
	upcoming, err := s.store.UpcomingFires()
	if err != nil {
		return err
	}
	s.upcoming = upcoming

	changed := false
	// Drop entries whose job no longer exists in config.
	for id := range s.upcoming {
		if strings.HasPrefix(id, adhocPrefix) {
			continue
		}
		if _, ok := s.jobs[id]; !ok {
			delete(s.upcoming, id)
			changed = true
		}
	}
	for id, j := range s.jobs {
		if _, ok := s.upcoming[id]; ok {
			continue
		}
		if j.cfg.ActiveOnly {
			continue
		}
		s.upcoming[id] = s.nextFire(j)
		changed = true
	}
	if changed {
		return s.store.SetUpcomingFires(s.upcoming)
	}
	return nil
}

// tick is one scheduler round: reconcile ad-hoc tasks, drain activity,
// fire due entries, persist the map if it changed.
func (s *Scheduler) tick(ctx context.Context) error {
	changed := false

	adhoc, err := s.reconcileAdhoc()
	if err != nil {
		return err
	}
	changed = changed || adhoc

	if s.drainActivity() {
		changed = s.armActiveJobs() || changed
	}

	now := s.now()
	for id, at := range s.upcoming {
		if at.After(now) {
			continue
		}
		fired, err := s.fire(ctx, id)
		if err != nil {
			return err
		}
		changed = changed || fired
	}

	if changed {
		return s.store.SetUpcomingFires(s.upcoming)
	}
	return nil
}

// reconcileAdhoc adds newly created scheduled tasks to the fire map
// and removes entries whose task is gone or exhausted.
func (s *Scheduler) reconcileAdhoc() (bool, error) {
	tasks, err := s.store.ScheduledTasks()
	if err != nil {
		return false, err
	}
	known := make(map[string]store.ScheduledTask, len(tasks))
	for _, t := range tasks {
		known[adhocKey(t.ID)] = t
	}

	changed := false
	for id := range s.upcoming {
		if strings.HasPrefix(id, adhocPrefix) {
			if _, ok := known[id]; !ok {
				delete(s.upcoming, id)
				changed = true
			}
		}
	}
	now := s.now()
	for id, t := range known {
		if _, ok := s.upcoming[id]; ok {
			continue
		}
		schedule, err := cron.ParseStandard(t.Cron)
		if err != nil {
			s.logger.Warn("removing scheduled task with bad cron", "id", t.ID, "cron", t.Cron, "error", err)
			if err := s.store.DeleteScheduledTask(t.ID); err != nil {
				return changed, err
			}
			continue
		}
		s.upcoming[id] = schedule.Next(now)
		changed = true
	}
	return changed, nil
}

// drainActivity empties the activity channel, reporting whether any
// activity arrived.
func (s *Scheduler) drainActivity() bool {
	seen := false
	for {
		select {
		case _, ok := <-s.activity:
			if !ok {
				return seen
			}
			seen = true
		default:
			s.active = s.active || seen
			return seen
		}
	}
}

// armActiveJobs schedules dormant active-only jobs after activity.
func (s *Scheduler) armActiveJobs() bool {
	changed := false
	for id, j := range s.jobs {
		if !j.cfg.ActiveOnly {
			continue
		}
		if _, scheduled := s.upcoming[id]; scheduled {
			continue
		}
		s.upcoming[id] = s.nextFire(j)
		changed = true
	}
	return changed
}

// fire enqueues the task for one due entry and reschedules or drops
// it. Always mutates the map, so it reports true.
func (s *Scheduler) fire(ctx context.Context, id string) (bool, error) {
	if strings.HasPrefix(id, adhocPrefix) {
		return s.fireAdhoc(ctx, id)
	}

	j, ok := s.jobs[id]
	if !ok {
		delete(s.upcoming, id)
		return true, nil
	}
	s.enqueue(ctx, s.jobTask(j))

	if j.cfg.ActiveOnly && !s.active {
		// Gated and quiet: the job goes dormant until activity re-arms it.
		delete(s.upcoming, id)
		return true, nil
	}
	if j.cfg.ActiveOnly {
		// Consume the activity window; the next fire needs new activity.
		s.active = false
	}
	s.upcoming[id] = s.nextFire(j)
	return true, nil
}

func (s *Scheduler) fireAdhoc(ctx context.Context, id string) (bool, error) {
	taskID, err := strconv.ParseInt(strings.TrimPrefix(id, adhocPrefix), 10, 64)
	if err != nil {
		delete(s.upcoming, id)
		return true, nil
	}
	tasks, err := s.store.ScheduledTasks()
	if err != nil {
		return false, err
	}
	var found *store.ScheduledTask
	for i := range tasks {
		if tasks[i].ID == taskID {
			found = &tasks[i]
			break
		}
	}
	if found == nil {
		delete(s.upcoming, id)
		return true, nil
	}

	t := task.New(task.KindAssistantTask)
	t.ScheduledID = found.ID
	t.Content = found.Content
	s.enqueue(ctx, t)

	schedule, err := cron.ParseStandard(found.Cron)
	if err != nil {
		delete(s.upcoming, id)
		return true, nil
	}
	s.upcoming[id] = schedule.Next(s.now())
	return true, nil
}

func (s *Scheduler) jobTask(j job) *task.Task {
	var t *task.Task
	switch j.cfg.Kind {
	case "sleep":
		t = task.New(task.KindSleep)
	case "memory_maintenance":
		t = task.New(task.KindMemoryMaintenance)
	case "research":
		t = task.New(task.KindResearch)
		t.Content = j.cfg.Content
	default:
		t = task.New(task.KindAssistantTask)
		t.Content = j.cfg.Content
	}
	return t
}

func (s *Scheduler) enqueue(ctx context.Context, t *task.Task) {
	select {
	case s.out <- t:
		s.logger.Info("scheduled task fired", "kind", t.Kind)
	case <-ctx.Done():
	}
}

func (s *Scheduler) nextFire(j job) time.Time {
	spread := time.Duration(j.cfg.TimeSpreadSec) * time.Second
	return j.schedule.Next(s.now()).Add(s.jitter(spread))
}

func adhocKey(id int64) string {
	return adhocPrefix + strconv.FormatInt(id, 10)
}
