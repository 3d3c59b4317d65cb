// Package matcher resolves mapped inventory rows against the reference catalog of
// parts, aircraft and engines.
package matcher

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Matcher owns the current catalog snapshot. The snapshot is loaded on first use
// and kept until Invalidate is called.
type Matcher struct {
	source CatalogSource
	config Config
	logger *slog.Logger

	mu   sync.Mutex
	snap *Snapshot
}

// New creates a matcher over source
func New(source CatalogSource, config Config, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		source: source,
		config: config.withDefaults(),
		logger: logger,
	}
}

// Snapshot returns the current snapshot, loading it if needed. Callers keep the
// returned value for a whole stage.
func (m *Matcher) Snapshot(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.snap != nil {
		return m.snap, nil
	}

	start := time.Now()
	snap, err := LoadSnapshot(ctx, m.source, m.config)
	if err != nil {
		return nil, err
	}
	m.snap = snap

	m.logger.Info("catalog snapshot loaded",
		slog.Int("parts", snap.PartCount()),
		slog.Duration("took", time.Since(start)),
	)
	return snap, nil
}

// Invalidate drops the current snapshot; the next Snapshot call reloads it
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	m.snap = nil
	m.mu.Unlock()
	m.logger.Debug("catalog snapshot invalidated")
}

// Refresh loads a new snapshot and swaps it in. On error the current snapshot
// is kept.
func (m *Matcher) Refresh(ctx context.Context) error {
	start := time.Now()
	snap, err := LoadSnapshot(ctx, m.source, m.config)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()

	m.logger.Info("catalog snapshot refreshed",
		slog.Int("parts", snap.PartCount()),
		slog.Duration("took", time.Since(start)),
	)
	return nil
}

// Config returns the thresholds in use
func (m *Matcher) Config() Config {
	return m.config
}
