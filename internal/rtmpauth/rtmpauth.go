// Package rtmpauth provides a liveness probe for an external
// nginx-rtmp-auth service. Authentication itself happens at the nginx
// level, outside this process; this monitor only reports reachability
// into the shared health.Monitor for dashboard visibility. It performs
// no retries beyond its HTTP client's timeout: a single failed probe
// is simply reflected at the next tick.
package rtmpauth

import (
	"context"
	"net/http"
	"time"

	"github.com/ridgeline-av/streamctl/internal/health"
	"github.com/ridgeline-av/streamctl/internal/logging"
)

var log = logging.L("rtmpauth")

const component = "rtmp_auth"

// Config configures the monitor.
type Config struct {
	Enabled      bool
	ServiceURL   string
	PollInterval time.Duration // default 10s
	HTTPTimeout  time.Duration // default 5s
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 5 * time.Second
	}
	return c
}

// Monitor periodically probes the configured auth service and records
// its reachability into a shared health.Monitor.
type Monitor struct {
	cfg     Config
	client  *http.Client
	monitor *health.Monitor
}

func New(cfg Config, monitor *health.Monitor) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{cfg: cfg, client: &http.Client{Timeout: cfg.HTTPTimeout}, monitor: monitor}
}

// Run blocks, probing on cfg.PollInterval, until ctx is cancelled. If the
// feature is disabled or no service URL is configured it records a
// single informational status and returns without polling, matching the
// nginx-only deployment mode where there is nothing to probe.
func (m *Monitor) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		m.monitor.Update(component, health.Unknown, "rtmp auth monitoring disabled")
		return
	}
	if m.cfg.ServiceURL == "" {
		m.monitor.Update(component, health.Healthy, "auth enforced at nginx level, no health endpoint configured")
		return
	}

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.probeOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.ServiceURL, nil)
	if err != nil {
		m.monitor.Update(component, health.Unhealthy, err.Error())
		return
	}

	resp, err := m.client.Do(req)
	if err != nil {
		log.Warn("rtmp-auth health probe failed", "error", err)
		m.monitor.Update(component, health.Unhealthy, err.Error())
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		m.monitor.Update(component, health.Healthy, "")
		return
	}
	m.monitor.Update(component, health.Degraded, http.StatusText(resp.StatusCode))
}
