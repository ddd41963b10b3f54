package config

import (
	"context"
	"time"
)

// Snapshot is the immutable view of the tunable ticker parameters consumed by
// a runtime cycle. A reload constructs a new Snapshot and swaps the reference;
// fields are never mutated in place while a cycle is running.
type Snapshot struct {
	TickInterval   time.Duration
	TargetDatabase string

	// RestartDelaySeconds is advisory for the host's restart policy and is
	// passed through unmodified; -1 disables automatic restart.
	RestartDelaySeconds int
}

// Snapshot derives the reloadable subset of the configuration.
func (c *Config) Snapshot() Snapshot {
	return Snapshot{
		TickInterval:        time.Duration(c.TickIntervalSeconds) * time.Second,
		TargetDatabase:      c.TargetDatabase,
		RestartDelaySeconds: c.RestartDelaySeconds,
	}
}

// Source supplies configuration snapshots on demand. Runtimes call Load once
// at startup and again whenever a reload is requested, always between cycles.
type Source interface {
	Load(ctx context.Context) (Snapshot, error)
}

// FileSource re-resolves the configuration from disk and environment on every
// Load, so a SIGHUP picks up edits to the config file.
type FileSource struct {
	flags Flags
	osi   OSInterface
}

func NewFileSource(flags Flags) *FileSource {
	return &FileSource{flags: flags, osi: defaultOS}
}

func (s *FileSource) Load(ctx context.Context) (Snapshot, error) {
	cfg, err := ParseWithOS(s.flags, s.osi)
	if err != nil {
		return Snapshot{}, err
	}
	return cfg.Snapshot(), nil
}

// StaticSource always returns the same snapshot. Used for tests and for
// setups without a reloadable backing file.
type StaticSource struct {
	Value Snapshot
}

func (s StaticSource) Load(ctx context.Context) (Snapshot, error) {
	return s.Value, nil
}
