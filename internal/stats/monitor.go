// Package stats reports pipeline throughput. The monitor samples each
// registered frame counter once per interval and logs the deltas as FPS,
// alongside mailbox drop counts. Counters are owned by their workers; the
// monitor only ever reads them.
package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// CounterFunc returns a worker's monotonic frame counter.
type CounterFunc func() uint64

// DropFunc returns a mailbox's lifetime drop count.
type DropFunc func() uint64

// Monitor logs per-worker FPS and drop deltas at a fixed interval.
type Monitor struct {
	interval time.Duration

	mu       sync.Mutex
	counters []namedCounter
	drops    []namedCounter

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

type namedCounter struct {
	name string
	fn   func() uint64
	last uint64
}

// NewMonitor creates a monitor with the given sampling interval.
func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{interval: interval}
}

// Track registers a frame counter under a worker name.
func (m *Monitor) Track(name string, fn CounterFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, namedCounter{name: name, fn: fn})
}

// TrackDrops registers a mailbox drop counter under a queue name.
func (m *Monitor) TrackDrops(name string, fn DropFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops = append(m.drops, namedCounter{name: name, fn: fn})
}

// Start launches the sampling loop.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.run(runCtx)
}

// Stop terminates the loop. Idempotent.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Snapshot returns the current counter values keyed by worker name.
func (m *Monitor) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.counters))
	for _, c := range m.counters {
		out[c.name] = c.fn()
	}
	return out
}

func (m *Monitor) run(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	prev := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			dt := now.Sub(prev).Seconds()
			prev = now
			if dt <= 0 {
				continue
			}
			m.sample(dt)
		}
	}
}

func (m *Monitor) sample(dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fields := make([]any, 0, 2*(len(m.counters)+len(m.drops)))
	for i := range m.counters {
		c := &m.counters[i]
		cur := c.fn()
		fps := float64(cur-c.last) / dt
		c.last = cur
		fields = append(fields, c.name+"_fps", float64(int(fps*10))/10)
	}
	for i := range m.drops {
		d := &m.drops[i]
		cur := d.fn()
		if delta := cur - d.last; delta > 0 {
			fields = append(fields, d.name+"_dropped", delta)
		}
		d.last = cur
	}
	slog.Info("stats: pipeline throughput", fields...)
}
