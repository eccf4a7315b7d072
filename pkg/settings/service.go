package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/docland/docland/pkg/log"
)

// Service owns the settings file. Reads hand out snapshots; Save validates
// before touching disk so an invalid document can never replace a valid one.
type Service struct {
	path string

	mu      sync.RWMutex
	current *Settings
}

// NewService loads settings from path. A missing file yields defaults
// silently; an unreadable or invalid file yields defaults with a warning.
func NewService(path string) *Service {
	s := &Service{path: path, current: Default()}
	s.load()
	return s
}

// Path returns the file location this service persists to.
func (s *Service) Path() string { return s.path }

func (s *Service) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("settings file unreadable, using defaults", "path", s.path, "error", err)
		}
		return
	}

	parsed, err := Parse(data)
	if err != nil {
		log.Warn("settings file invalid, using defaults", "path", s.path, "error", err)
		return
	}

	s.mu.Lock()
	s.current = parsed
	s.mu.Unlock()
}

// Parse strictly decodes and validates a settings document.
func Parse(data []byte) (*Settings, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	parsed := Default()
	if err := dec.Decode(parsed); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode settings: trailing data after document")
	}
	if err := parsed.Validate(); err != nil {
		return nil, fmt.Errorf("validate settings: %w", err)
	}
	if parsed.Scrapers == nil {
		parsed.Scrapers = map[string]ScraperSettings{}
	}
	return parsed, nil
}

// Reload re-reads the settings file, keeping the current snapshot when the
// file is invalid.
func (s *Service) Reload() {
	s.load()
}

// Current returns a copy of the active settings.
func (s *Service) Current() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.clone()
}

// Scraper returns the per-scraper settings, zero value when absent.
func (s *Service) Scraper(name string) ScraperSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Scrapers[name]
}

// Save validates next, writes it atomically, and makes it current. On
// validation failure the file is left untouched and the error returned.
func (s *Service) Save(next *Settings) error {
	if next == nil {
		return fmt.Errorf("save settings: nil settings")
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	s.mu.Lock()
	s.current = next.clone()
	s.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the current settings and saves the result.
func (s *Service) Update(fn func(*Settings)) error {
	next := s.Current()
	fn(next)
	return s.Save(next)
}

func (st *Settings) clone() *Settings {
	out := *st
	if st.Pipeline.ContextualEnrichmentEnabled != nil {
		v := *st.Pipeline.ContextualEnrichmentEnabled
		out.Pipeline.ContextualEnrichmentEnabled = &v
	}
	out.Scrapers = make(map[string]ScraperSettings, len(st.Scrapers))
	for k, v := range st.Scrapers {
		out.Scrapers[k] = v
	}
	return &out
}
