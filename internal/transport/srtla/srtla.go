// Package srtla implements a transport.Feeder over an SRTLA receiver's
// bonded-link statistics, normalizing per-link stats to the shared
// TransportSample shape (one active link maps to one "subflow").
package srtla

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ridgeline-av/streamctl/internal/logging"
	"github.com/ridgeline-av/streamctl/internal/metrics"
	"github.com/ridgeline-av/streamctl/internal/transport"
)

var log = logging.L("srtla")

// Source selects where receiver statistics are read from.
type Source string

const (
	SourceAPI    Source = "api"
	SourceFile   Source = "file"
	SourceSocket Source = "socket"
)

// Config configures the SRTLA feeder.
type Config struct {
	Source       Source
	StatsURL     string        // used when Source == SourceAPI
	StatsFile    string        // used when Source == SourceFile
	ReceiverPort int           // recorded only; the feeder does not read it and StatsFile has no default
	PollInterval time.Duration // default 2s
	HTTPTimeout  time.Duration // default 5s
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 5 * time.Second
	}
	return c
}

// LinkStats is one bonded SRTLA link's counters.
type LinkStats struct {
	ID            int     `json:"id"`
	SourceIP      string  `json:"source_ip"`
	PacketsSent   int64   `json:"packets_sent"`
	PacketsAcked  int64   `json:"packets_acked"`
	PacketsLost   int64   `json:"packets_lost"`
	RTTMs         float64 `json:"rtt_ms"`
	BandwidthBps  float64 `json:"bandwidth_bps"`
	WindowSize    int     `json:"window_size"`
	Active        bool    `json:"active"`
}

type receiverStatsWire struct {
	TotalPackets     int64       `json:"total_packets"`
	PacketsReordered int64       `json:"packets_reordered"`
	Links            []LinkStats `json:"links"`
}

// ReceiverStats is the normalized, aggregated view across all links.
type ReceiverStats struct {
	TotalBandwidthBps float64
	AvgRTTMs          float64
	MinRTTMs          float64
	MaxRTTMs          float64
	PacketLossPercent float64
	ActiveLinks       int
	Links             []LinkStats
}

// Feeder polls an SRTLA receiver's statistics and exposes the latest
// normalized TransportSample.
type Feeder struct {
	cfg    Config
	client *http.Client
	slot   transport.SampleSlot
}

func New(cfg Config) *Feeder {
	cfg = cfg.withDefaults()
	return &Feeder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}
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
	stats, err := f.fetch(ctx)
	if err != nil {
		log.Warn("srtla metrics poll failed", "error", err, "source", f.cfg.Source)
		return
	}
	if stats == nil {
		return
	}

	f.slot.Set(metrics.TransportSample{
		TotalBandwidthBps: stats.TotalBandwidthBps,
		PacketLossPercent: stats.PacketLossPercent,
		MinRTTMs:          stats.MinRTTMs,
		MaxRTTMs:          stats.MaxRTTMs,
		ActiveSubflows:    stats.ActiveLinks,
	})
}

func (f *Feeder) Latest() (metrics.TransportSample, bool) { return f.slot.Get() }

func (f *Feeder) fetch(ctx context.Context) (*ReceiverStats, error) {
	switch f.cfg.Source {
	case SourceAPI:
		return f.fetchFromAPI(ctx)
	case SourceFile:
		return f.fetchFromFile()
	default:
		// Socket-based SRTLA stats aren't exposed by stock srtla_rec builds;
		// no upstream implementation to adapt here.
		return nil, nil
	}
}

func (f *Feeder) fetchFromAPI(ctx context.Context) (*ReceiverStats, error) {
	if f.cfg.StatsURL == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.StatsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &httpStatusError{status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return parseWire(body)
}

func (f *Feeder) fetchFromFile() (*ReceiverStats, error) {
	path := f.cfg.StatsFile
	if path == "" {
		return nil, nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return parseWire(body)
}

func parseWire(body []byte) (*ReceiverStats, error) {
	var wire receiverStatsWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}

	var activeLinks int
	var totalBandwidth float64
	var rtts []float64
	var totalSent, totalLost int64

	for _, link := range wire.Links {
		totalSent += link.PacketsSent
		totalLost += link.PacketsLost
		if !link.Active {
			continue
		}
		activeLinks++
		totalBandwidth += link.BandwidthBps
		if link.RTTMs > 0 {
			rtts = append(rtts, link.RTTMs)
		}
	}

	var avg, min, max float64
	if len(rtts) > 0 {
		min, max = rtts[0], rtts[0]
		sum := 0.0
		for _, r := range rtts {
			sum += r
			if r < min {
				min = r
			}
			if r > max {
				max = r
			}
		}
		avg = sum / float64(len(rtts))
	}

	lossPercent := 0.0
	if totalSent > 0 {
		lossPercent = float64(totalLost) / float64(totalSent) * 100
	}

	return &ReceiverStats{
		TotalBandwidthBps: totalBandwidth,
		AvgRTTMs:          avg,
		MinRTTMs:          min,
		MaxRTTMs:          max,
		PacketLossPercent: lossPercent,
		ActiveLinks:       activeLinks,
		Links:             wire.Links,
	}, nil
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return "srtla stats endpoint returned status " + http.StatusText(e.status)
}

var _ transport.Feeder = (*Feeder)(nil)
