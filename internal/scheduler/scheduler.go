// Package scheduler runs scrapers on cron schedules taken from the runtime
// settings (scrapers.<name>.schedule). It stays thin: parse, tick, invoke
// the same run function the CLI uses.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/docland/docland/pkg/log"
)

// RunFunc executes one pipeline run for a scraper. Errors are logged, not
// retried; the next tick runs regardless.
type RunFunc func(ctx context.Context, scraperName string) error

// Entry is one validated schedule.
type Entry struct {
	Scraper string
	Spec    string
	Next    time.Time
	EntryID cron.EntryID
}

// Scheduler owns a cron runner over scraper schedules. The service
// container holds the handle so ResetServices keeps schedules alive.
type Scheduler struct {
	parser cron.Parser
	run    RunFunc
	logger *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]Entry
	running bool
}

func New(run RunFunc) *Scheduler {
	return &Scheduler{
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		run:     run,
		logger:  log.WithModule("scheduler"),
		entries: make(map[string]Entry),
	}
}

// Validate checks a cron expression without installing it. Empty means "no
// schedule" and is valid.
func (s *Scheduler) Validate(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

// Apply replaces the schedule set with the given scraper→spec map. Entries
// with empty specs are dropped; invalid specs are returned as errors and
// skipped.
func (s *Scheduler) Apply(schedules map[string]string) []error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}
	s.cron = cron.New(cron.WithParser(s.parser))
	s.entries = make(map[string]Entry)

	var errs []error
	for name, spec := range schedules {
		if spec == "" {
			continue
		}
		scraperName := name
		id, err := s.cron.AddFunc(spec, func() { s.fire(scraperName) })
		if err != nil {
			errs = append(errs, fmt.Errorf("scraper %s: invalid schedule %q: %w", name, spec, err))
			continue
		}
		s.entries[name] = Entry{Scraper: name, Spec: spec, EntryID: id}
	}
	if s.running {
		s.cron.Start()
	}
	return errs
}

func (s *Scheduler) fire(scraperName string) {
	s.logger.Info("scheduled run starting", "scraper", scraperName)
	if err := s.run(context.Background(), scraperName); err != nil {
		s.logger.Error("scheduled run failed", "scraper", scraperName, "error", err)
	}
}

// Start begins ticking. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	if s.cron != nil {
		s.cron.Start()
	}
}

// Stop halts ticking and waits for in-flight runs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Entries lists the installed schedules sorted by scraper name, with next
// fire times filled in while the scheduler runs.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if s.cron != nil {
			entry.Next = s.cron.Entry(entry.EntryID).Next
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scraper < out[j].Scraper })
	return out
}
