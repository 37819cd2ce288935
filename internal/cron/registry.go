package cron

import (
	"context"
	"fmt"
	"sort"

	robfigcron "github.com/robfig/cron/v3"
)

// Job is one unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Entry pairs a job with its schedule.
type Entry struct {
	Spec     string
	Job      Job
	schedule robfigcron.Schedule
}

// Registry holds the jobs a worker runs, keyed by name.
type Registry struct {
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: map[string]Entry{}}
}

// Register validates spec (five-field cron or descriptors like "@every 15m")
// and rejects duplicate job names.
func (r *Registry) Register(spec string, job Job) error {
	if job == nil {
		return fmt.Errorf("job required")
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("job name required")
	}
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	schedule, err := robfigcron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("job %q: parse schedule %q: %w", name, spec, err)
	}
	r.entries[name] = Entry{Spec: spec, Job: job, schedule: schedule}
	return nil
}

// Lookup returns the entry registered under name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	entry, ok := r.entries[name]
	return entry, ok
}

// Entries lists registered jobs sorted by name.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job.Name() < out[j].Job.Name() })
	return out
}
