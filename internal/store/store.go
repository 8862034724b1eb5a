package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/model"
)

// Table maps a process to its running duration in milliseconds.
type Table map[model.ProcessName]int64

var defaults = Table{
	model.FastRinse:   60_000,
	model.Service:     3_600_000,
	model.BackWash:    60_000,
	model.ForwardWash: 60_000,
}

func Defaults() Table {
	return defaults.Clone()
}

func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Duration returns the running duration for name, falling back to the default.
func (t Table) Duration(name model.ProcessName) time.Duration {
	ms, ok := t[name]
	if !ok || ms <= 0 {
		ms = defaults[name]
	}
	return time.Duration(ms) * time.Millisecond
}

// Store persists the timing table as a flat JSON object.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load returns the saved table merged over the defaults. A missing or
// malformed file yields the defaults.
func (s *Store) Load() Table {
	table := Defaults()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", s.path).Msg("No saved timings, using defaults")
		return table
	}
	if err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Failed to read timings, using defaults")
		return table
	}

	var saved map[string]json.RawMessage
	if err := json.Unmarshal(data, &saved); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("Malformed timings file, using defaults")
		return table
	}

	for key, raw := range saved {
		name := model.ProcessName(key)
		if _, known := defaults[name]; !known {
			log.Debug().Str("key", key).Msg("Ignoring unknown timing key")
			continue
		}
		var ms int64
		if err := json.Unmarshal(raw, &ms); err != nil || ms <= 0 {
			log.Warn().Str("process", key).RawJSON("value", raw).Msg("Invalid saved timing, keeping default")
			continue
		}
		table[name] = ms
	}
	return table
}

// Save writes the whole table. Errors are logged and returned; callers on the
// sequencing path ignore them.
func (s *Store) Save(table Table) error {
	if err := s.write(table); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("Failed to save timings")
		return err
	}
	log.Info().Str("path", s.path).Msg("Timings saved")
	return nil
}

// write replaces the file through a temp file and rename. The temp file is
// removed if any step fails.
func (s *Store) write(table Table) (err error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create timings dir: %w", err)
	}

	tmpPath := s.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(table); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
