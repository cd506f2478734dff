package cron

import (
	"context"
	"fmt"
	"strings"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry binds a job to its cron expression.
type Entry struct {
	Spec string
	Job  Job
}

// Registry keeps the scheduled jobs in registration order.
type Registry struct {
	entries []Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a job under a standard five-field cron expression.
func (r *Registry) Register(spec string, job Job) error {
	spec = strings.TrimSpace(spec)
	if job == nil {
		return fmt.Errorf("job required")
	}
	if spec == "" {
		return fmt.Errorf("schedule required for job %s", job.Name())
	}
	for _, existing := range r.entries {
		if existing.Job.Name() == job.Name() {
			return fmt.Errorf("job %s already registered", job.Name())
		}
	}
	r.entries = append(r.entries, Entry{Spec: spec, Job: job})
	return nil
}

// Entries returns a copy of the registered entries.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Lookup finds a job by name.
func (r *Registry) Lookup(name string) (Job, bool) {
	for _, entry := range r.entries {
		if entry.Job.Name() == name {
			return entry.Job, true
		}
	}
	return nil, false
}
