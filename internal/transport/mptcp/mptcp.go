// Package mptcp implements a transport.Feeder over a bonded MPTCP
// connection's subflow statistics, as reported by a local stats sidecar
// (e.g. a small daemon wrapping `ss -M` / the mptcp_info netlink API).
// Unlike SRTLA, MPTCP already aggregates subflow state kernel-side, so
// the wire format here is a single flat object rather than a per-link
// list.
package mptcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ridgeline-av/streamctl/internal/logging"
	"github.com/ridgeline-av/streamctl/internal/metrics"
	"github.com/ridgeline-av/streamctl/internal/transport"
)

var log = logging.L("mptcp")

// Config configures the MPTCP stats feeder.
type Config struct {
	StatsURL     string
	PollInterval time.Duration // default 1s, matching the evaluation interval
	HTTPTimeout  time.Duration // default 2s
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 1 * time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 2 * time.Second
	}
	return c
}

type statsWire struct {
	BandwidthBps      float64 `json:"bandwidth_bps"`
	PacketLossPercent float64 `json:"packet_loss_percent"`
	MinRTTMs          float64 `json:"min_rtt_ms"`
	MaxRTTMs          float64 `json:"max_rtt_ms"`
	ActiveSubflows    int     `json:"active_subflows"`
}

// Feeder polls a local MPTCP stats sidecar and exposes the latest
// TransportSample.
type Feeder struct {
	cfg    Config
	client *http.Client
	slot   transport.SampleSlot
}

func New(cfg Config) *Feeder {
	cfg = cfg.withDefaults()
	return &Feeder{cfg: cfg, client: &http.Client{Timeout: cfg.HTTPTimeout}}
}

func (f *Feeder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	f.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pollOnce(ctx)
		}
	}
}

func (f *Feeder) pollOnce(ctx context.Context) {
	sample, err := f.fetch(ctx)
	if err != nil {
		log.Warn("mptcp stats poll failed", "error", err)
		return
	}
	f.slot.Set(sample)
}

func (f *Feeder) Latest() (metrics.TransportSample, bool) { return f.slot.Get() }

func (f *Feeder) fetch(ctx context.Context) (metrics.TransportSample, error) {
	if f.cfg.StatsURL == "" {
		return metrics.TransportSample{}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.StatsURL, nil)
	if err != nil {
		return metrics.TransportSample{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return metrics.TransportSample{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return metrics.TransportSample{}, &statusError{resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return metrics.TransportSample{}, err
	}

	var wire statsWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return metrics.TransportSample{}, err
	}

	return metrics.TransportSample{
		TotalBandwidthBps: wire.BandwidthBps,
		PacketLossPercent: wire.PacketLossPercent,
		MinRTTMs:          wire.MinRTTMs,
		MaxRTTMs:          wire.MaxRTTMs,
		ActiveSubflows:    wire.ActiveSubflows,
	}, nil
}

type statusError struct{ status int }

func (e *statusError) Error() string {
	return "mptcp stats endpoint returned status " + http.StatusText(e.status)
}

var _ transport.Feeder = (*Feeder)(nil)
