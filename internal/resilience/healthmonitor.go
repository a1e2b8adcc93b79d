package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// HealthMonitorConfig holds tuning knobs for a [HealthMonitor].
type HealthMonitorConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// CheckInterval is how often the monitor inspects the activity timestamp.
	// Default: 5s.
	CheckInterval time.Duration

	// TimeoutThreshold is how long the connection may be silent before the
	// monitor considers it lost. Default: 30s.
	TimeoutThreshold time.Duration
}

// HealthMonitor watches a long-lived connection for activity gaps. Callers
// invoke RecordActivity on every inbound event; when the gap since the last
// activity exceeds the threshold, the monitor fires the connection-lost
// callback and resets the timer so recovery gets a full threshold before the
// next alarm.
type HealthMonitor struct {
	name             string
	checkInterval    time.Duration
	timeoutThreshold time.Duration

	mu           sync.Mutex
	lastActivity time.Time
	running      bool
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewHealthMonitor creates a [HealthMonitor] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewHealthMonitor(cfg HealthMonitorConfig) *HealthMonitor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.TimeoutThreshold <= 0 {
		cfg.TimeoutThreshold = 30 * time.Second
	}
	return &HealthMonitor{
		name:             cfg.Name,
		checkInterval:    cfg.CheckInterval,
		timeoutThreshold: cfg.TimeoutThreshold,
		lastActivity:     time.Now(),
	}
}

// RecordActivity marks the connection as alive. Safe to call from any
// goroutine.
func (m *HealthMonitor) RecordActivity() {
	m.mu.Lock()
	m.lastActivity = time.Now()
	m.mu.Unlock()
}

// Start begins monitoring in a background goroutine. onConnectionLost is
// invoked (on the monitor goroutine) whenever the activity gap exceeds the
// threshold. Calling Start on a running monitor is a no-op.
func (m *HealthMonitor) Start(ctx context.Context, onConnectionLost func(ctx context.Context)) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		slog.Warn("health monitor already running", "name", m.name)
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.lastActivity = time.Now()
	m.mu.Unlock()

	go m.loop(ctx, onConnectionLost)
	slog.Info("connection health monitoring started", "name", m.name)
}

// Stop halts monitoring and waits for the monitor goroutine to exit. Calling
// Stop on a stopped monitor is a no-op.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done
	slog.Info("connection health monitoring stopped", "name", m.name)
}

func (m *HealthMonitor) loop(ctx context.Context, onConnectionLost func(ctx context.Context)) {
	defer close(m.done)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		gap := time.Since(m.lastActivity)
		m.mu.Unlock()

		if gap <= m.timeoutThreshold {
			continue
		}

		slog.Warn("no connection activity, connection may be lost",
			"name", m.name,
			"gap", gap)

		if onConnectionLost != nil {
			onConnectionLost(ctx)
		}

		// Reset so the handler gets a full threshold before re-firing.
		m.RecordActivity()
	}
}
