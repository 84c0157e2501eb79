package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// JobFunc is the body of a scheduled job.
type JobFunc func(ctx context.Context) error

// JobState is the outcome of the last run of a job.
type JobState struct {
	Name       string
	Schedule   string
	NextRunAt  time.Time
	LastRunAt  time.Time
	LastStatus string
	LastError  string
}

type job struct {
	name     string
	schedule string
	run      JobFunc
	entryID  rcron.EntryID
	state    JobState
}

// Service runs named jobs on cron schedules. Schedules take a seconds field
// and descriptors such as "@every 10s". A job whose previous run has not
// finished is skipped.
type Service struct {
	mu     sync.Mutex
	cron   *rcron.Cron
	jobs   map[string]*job
	runCtx context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
}

func NewService(loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	logger := rcron.PrintfLogger(log.Default())
	return &Service{
		cron: rcron.New(
			rcron.WithSeconds(),
			rcron.WithLocation(loc),
			rcron.WithChain(rcron.Recover(logger), rcron.SkipIfStillRunning(logger)),
		),
		jobs:   make(map[string]*job),
		runCtx: context.Background(),
	}
}

// AddJob registers run under name. Names are unique.
func (s *Service) AddJob(name, schedule string, run JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{name: name, schedule: schedule, run: run}
	id, err := s.cron.AddFunc(schedule, func() { s.executeJob(j) })
	if err != nil {
		return fmt.Errorf("register job %s (%s): %w", name, schedule, err)
	}
	j.entryID = id
	j.state = JobState{Name: name, Schedule: schedule}
	s.jobs[name] = j
	return nil
}

func (s *Service) RemoveJob(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[name]
	if !ok {
		return false
	}
	s.cron.Remove(j.entryID)
	delete(s.jobs, name)
	return true
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", n)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

func (s *Service) executeJob(j *job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()

	err := j.run(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	j.state.LastRunAt = time.Now()
	if err != nil {
		j.state.LastStatus = "error"
		j.state.LastError = err.Error()
		log.Printf("[cron] job %s error: %v", j.name, err)
		return
	}
	j.state.LastStatus = "ok"
	j.state.LastError = ""
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[cron] stop timeout waiting for running jobs")
	}
	log.Printf("[cron] stopped")
}

// Jobs reports every registered job, sorted by name.
func (s *Service) Jobs() []JobState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobState, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := j.state
		st.NextRunAt = s.cron.Entry(j.entryID).Next
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Every registers run to fire at a fixed interval.
func (s *Service) Every(name string, interval time.Duration, run JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", name, interval)
	}
	return s.AddJob(name, "@every "+interval.String(), run)
}
