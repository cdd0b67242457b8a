package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// DefaultHealthInterval is how often health snapshots go out on the system channel.
const DefaultHealthInterval = 30 * time.Second

// HealthStatus is the payload of a system health message.
type HealthStatus struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Connections   int       `json:"connections"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemPercent    float64   `json:"mem_percent"`
}

// HealthTicker periodically broadcasts a health snapshot on the system channel.
type HealthTicker struct {
	hub      *Hub
	interval time.Duration
	started  time.Time
	now      func() time.Time
	logger   *zap.Logger
}

// NewHealthTicker creates a ticker broadcasting every interval.
func NewHealthTicker(h *Hub, interval time.Duration, logger *zap.Logger) *HealthTicker {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthTicker{
		hub:      h,
		interval: interval,
		started:  time.Now(),
		now:      time.Now,
		logger:   logger.With(zap.String("component", "health_ticker")),
	}
}

// Run broadcasts until ctx is cancelled.
func (t *HealthTicker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick broadcasts one health snapshot and returns the number of receivers.
func (t *HealthTicker) Tick(ctx context.Context) int {
	payload, err := json.Marshal(struct {
		Type string       `json:"type"`
		Data HealthStatus `json:"data"`
	}{Type: "health", Data: t.Snapshot(ctx)})
	if err != nil {
		t.logger.Error("encode health snapshot", zap.Error(err))
		return 0
	}
	return t.hub.Broadcast(ChannelSystem, payload)
}

// Snapshot collects the current health status. Host stats that cannot be
// read are reported as zero.
func (t *HealthTicker) Snapshot(ctx context.Context) HealthStatus {
	now := t.now()
	hs := HealthStatus{
		Status:        "ok",
		Timestamp:     now.UTC(),
		Connections:   t.hub.Total(),
		UptimeSeconds: int64(now.Sub(t.started).Seconds()),
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pct) > 0 {
		hs.CPUPercent = pct[0]
	} else if err != nil {
		t.logger.Debug("read cpu usage", zap.Error(err))
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hs.MemPercent = vm.UsedPercent
	} else {
		t.logger.Debug("read memory usage", zap.Error(err))
	}
	return hs
}
