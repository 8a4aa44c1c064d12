// Package scheduler fires configured reminders into the push queue on cron
// schedules. Clients receive them live when connected and replayed in order
// after reconnecting.
package scheduler

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/kawan/pkg/pushqueue"
)

// Job is one scheduled push.
type Job struct {
	Name    string
	Expr    string
	Message string
	Source  string
}

// Scheduler runs cron jobs that deliver push events.
type Scheduler struct {
	runner *cron.Cron
	push   *pushqueue.Queue
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a scheduler. Expressions use the standard five-field cron
// syntax plus descriptors like @every and @daily.
func New(push *pushqueue.Queue, logger zerolog.Logger) (*Scheduler, error) {
	if push == nil {
		return nil, fmt.Errorf("push queue is required")
	}

	return &Scheduler{
		runner:  cron.New(),
		push:    push,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]cron.EntryID),
	}, nil
}

// Add registers a job. Adding a name that already exists replaces the
// previous schedule.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if job.Message == "" {
		return fmt.Errorf("job %q has no message", job.Name)
	}
	source := job.Source
	if source == "" {
		source = "scheduler"
	}

	entryID, err := s.runner.AddFunc(job.Expr, func() {
		s.logger.Debug().Str("job", job.Name).Msg("Scheduled push firing")
		s.push.Deliver(job.Message, source)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule for job %q: %w", job.Name, err)
	}

	s.mu.Lock()
	if old, ok := s.entries[job.Name]; ok {
		s.runner.Remove(old)
	}
	s.entries[job.Name] = entryID
	s.mu.Unlock()

	s.logger.Info().Str("job", job.Name).Str("expr", job.Expr).Msg("Job scheduled")
	return nil
}

// Remove drops a job by name.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.runner.Remove(id)
		delete(s.entries, name)
		s.logger.Info().Str("job", name).Msg("Job removed")
	}
}

// Jobs returns the names of scheduled jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.runner.Start()
}

// Stop stops firing and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.runner.Stop()
	<-ctx.Done()
}
