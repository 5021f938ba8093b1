// Package scheduler drives proactive agent turns: cron expressions
// that enqueue a synthetic operator message at their fire time. The
// runtime treats a scheduled prompt exactly like typed input — it goes
// through the same queue, command dispatch, and tool loop.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// EnqueueFunc hands a fired job's prompt to the runtime's input path.
type EnqueueFunc func(conversationID, prompt string)

// Job is one scheduled prompt.
type Job struct {
	ID             string
	Name           string
	Cron           string
	Prompt         string
	ConversationID string
	CreatedAt      time.Time
	LastRun        time.Time
	RunCount       int
}

// Scheduler manages cron-driven jobs.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	entries map[string]cron.EntryID
	running map[string]bool

	cron    *cron.Cron
	enqueue EnqueueFunc
	logger  *slog.Logger
}

// New builds a stopped scheduler; call Start to begin firing.
func New(enqueue EnqueueFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		jobs:    make(map[string]*Job),
		entries: make(map[string]cron.EntryID),
		running: make(map[string]bool),
		cron:    cron.New(),
		enqueue: enqueue,
		logger:  logger,
	}
}

// Start begins executing schedules.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron runner, waiting for in-flight fires.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Add registers a job. The cron expression is validated before the
// job is accepted; the returned id removes it later.
func (s *Scheduler) Add(name, cronExpr, prompt, conversationID string) (string, error) {
	if name == "" || prompt == "" {
		return "", fmt.Errorf("job needs a name and a prompt")
	}
	if conversationID == "" {
		conversationID = "scheduler"
	}

	job := &Job{
		ID:             uuid.NewString(),
		Name:           name,
		Cron:           cronExpr,
		Prompt:         prompt,
		ConversationID: conversationID,
		CreatedAt:      time.Now(),
	}

	entryID, err := s.cron.AddFunc(cronExpr, func() { s.fire(job.ID) })
	if err != nil {
		return "", fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.entries[job.ID] = entryID
	s.mu.Unlock()

	s.logger.Info("job scheduled", "name", name, "cron", cronExpr, "id", job.ID)
	return job.ID, nil
}

// Remove deletes a job by id.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("no job with id %s", id)
	}
	s.cron.Remove(entryID)
	delete(s.entries, id)
	delete(s.jobs, id)
	return nil
}

// Jobs lists registered jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out
}

// fire enqueues one synthetic turn. A job whose previous fire is still
// being processed is skipped rather than stacked — the queue's merge
// window would otherwise glue duplicate prompts together.
func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok || s.running[id] {
		s.mu.Unlock()
		return
	}
	s.running[id] = true
	job.LastRun = time.Now()
	job.RunCount++
	prompt, convID, name := job.Prompt, job.ConversationID, job.Name
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[id] = false
		s.mu.Unlock()
	}()

	s.logger.Info("job fired", "name", name, "conversation_id", convID)
	s.enqueue(convID, prompt)
}
