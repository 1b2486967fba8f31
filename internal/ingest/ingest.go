// Package ingest polls a streaming-server stats endpoint to learn what the
// ingest point actually received, independent of what the transport layer
// reports was sent. It supports the three wire flavours NOALBS-style
// ingest monitors commonly target: nginx-rtmp, SRT, and node-media-server.
package ingest

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ridgeline-av/streamctl/internal/logging"
	"github.com/ridgeline-av/streamctl/internal/metrics"
)

var log = logging.L("ingest")

// ServerType selects which wire format to parse.
type ServerType string

const (
	ServerNginxRTMP      ServerType = "nginx"
	ServerSRT            ServerType = "srt"
	ServerNodeMediaServer ServerType = "node-media-server"
)

// Config configures a Poller.
type Config struct {
	Enabled      bool
	StatsURL     string
	StreamKey    string
	ServerType   ServerType
	PollInterval time.Duration // default 2s
	HTTPTimeout  time.Duration // default 5s
}

// Poller periodically fetches and parses ingest stats into a cached
// last-good sample. At most one poll is ever in flight; poll failures
// never block or crash the loop, they only increment a counter.
type Poller struct {
	cfg    Config
	client *http.Client

	mu            sync.RWMutex
	lastSample    *metrics.IngestSample
	totalPolls    int64
	pollFailures  int64
}

// New creates a Poller. Call Run to begin polling in the background.
func New(cfg Config) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	return &Poller{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// Run polls in a loop until ctx is cancelled. It is meant to be started as
// its own goroutine; it owns no other state and panics never escape a
// single poll.
func (p *Poller) Run(ctx context.Context) {
	if !p.cfg.Enabled {
		log.Debug("ingest poller disabled")
		return
	}

	log.Info("ingest poller starting", "serverType", p.cfg.ServerType, "interval", p.cfg.PollInterval)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("ingest poller stopping")
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.mu.Lock()
			p.pollFailures++
			p.mu.Unlock()
			log.Error("ingest poll panicked", "panic", r)
		}
	}()

	p.mu.Lock()
	p.totalPolls++
	p.mu.Unlock()

	sample, err := p.fetch(ctx)
	if err != nil {
		p.mu.Lock()
		p.pollFailures++
		failures := p.pollFailures
		p.mu.Unlock()
		log.Warn("ingest poll failed", "error", err, "consecutiveFailureTotal", failures)
		return
	}

	sample.Timestamp = time.Now()
	p.mu.Lock()
	p.lastSample = sample
	p.mu.Unlock()
	log.Debug("ingest sample updated", "bitrateKbps", sample.BitrateKbps, "active", sample.ConnectionActive)
}

func (p *Poller) fetch(ctx context.Context) (*metrics.IngestSample, error) {
	switch p.cfg.ServerType {
	case ServerNginxRTMP:
		return p.fetchNginxRTMP(ctx)
	case ServerSRT:
		return p.fetchSRT(ctx)
	case ServerNodeMediaServer:
		return p.fetchNodeMediaServer(ctx)
	default:
		return nil, fmt.Errorf("unsupported ingest server type %q", p.cfg.ServerType)
	}
}

// nginxRTMPStats mirrors the subset of the standard nginx-rtmp stats XML
// this poller cares about.
type nginxRTMPStats struct {
	XMLName xml.Name `xml:"rtmp"`
	Servers []struct {
		Applications []struct {
			Live struct {
				Streams []struct {
					Name string `xml:"name"`
					BWIn string `xml:"bw_in"`
				} `xml:"stream"`
			} `xml:"live"`
		} `xml:"application"`
	} `xml:"server"`
}

func (p *Poller) fetchNginxRTMP(ctx context.Context) (*metrics.IngestSample, error) {
	body, err := p.get(ctx)
	if err != nil {
		return nil, err
	}

	var stats nginxRTMPStats
	if err := xml.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("parsing nginx-rtmp XML: %w", err)
	}

	for _, server := range stats.Servers {
		for _, app := range server.Applications {
			for _, stream := range app.Live.Streams {
				if stream.Name != p.cfg.StreamKey {
					continue
				}
				var bytesPerSec float64
				if _, err := fmt.Sscanf(stream.BWIn, "%f", &bytesPerSec); err != nil {
					continue
				}
				return &metrics.IngestSample{
					Source:           metrics.IngestNginxRTMP,
					BitrateKbps:      bytesPerSec * 8 / 1000,
					ConnectionActive: true,
				}, nil
			}
		}
	}

	// Stream not found in the stats tree: treat as not actively connected,
	// not as a poll failure.
	return &metrics.IngestSample{
		Source:           metrics.IngestNginxRTMP,
		BitrateKbps:      0,
		ConnectionActive: false,
	}, nil
}

type srtStats struct {
	Bitrate   float64 `json:"bitrate"`
	RTT       float64 `json:"rtt"`
	Connected bool    `json:"connected"`
}

func (p *Poller) fetchSRT(ctx context.Context) (*metrics.IngestSample, error) {
	body, err := p.get(ctx)
	if err != nil {
		return nil, err
	}

	var stats srtStats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("parsing SRT stats JSON: %w", err)
	}

	rtt := stats.RTT
	return &metrics.IngestSample{
		Source:           metrics.IngestSRT,
		BitrateKbps:      stats.Bitrate / 1000,
		ConnectionActive: stats.Connected,
		RTTMs:            &rtt,
	}, nil
}

type nodeMediaStreams struct {
	Streams []struct {
		App   string `json:"app"`
		Video struct {
			Bitrate float64 `json:"bitrate"`
		} `json:"video"`
		Audio struct {
			Bitrate float64 `json:"bitrate"`
		} `json:"audio"`
	} `json:"streams"`
}

func (p *Poller) fetchNodeMediaServer(ctx context.Context) (*metrics.IngestSample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.cfg.StatsURL, "/")+"/api/streams", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var stats nodeMediaStreams
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("parsing node-media-server JSON: %w", err)
	}

	wantApp := p.cfg.StreamKey
	if idx := strings.Index(wantApp, "/"); idx >= 0 {
		wantApp = wantApp[:idx]
	}

	for _, s := range stats.Streams {
		if s.App != wantApp {
			continue
		}
		totalKbps := (s.Video.Bitrate + s.Audio.Bitrate) / 1000
		return &metrics.IngestSample{
			Source:           metrics.IngestNodeMediaServer,
			BitrateKbps:      totalKbps,
			ConnectionActive: true,
		}, nil
	}

	return &metrics.IngestSample{
		Source:           metrics.IngestNodeMediaServer,
		BitrateKbps:      0,
		ConnectionActive: false,
	}, nil
}

func (p *Poller) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.StatsURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("ingest stats endpoint returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Latest returns the most recent successfully-polled sample, and whether
// one has ever been obtained.
func (p *Poller) Latest() (metrics.IngestSample, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.lastSample == nil {
		return metrics.IngestSample{}, false
	}
	return *p.lastSample, true
}

// Health reports the poller's success rate and last sample, matching the
// shape of the ingest-stats status endpoint.
type Health struct {
	Enabled            bool
	ServerType         ServerType
	TotalPolls         int64
	PollFailures       int64
	SuccessRatePercent float64
	LastSample         *metrics.IngestSample
}

func (p *Poller) Health() Health {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var successRate float64
	if p.totalPolls > 0 {
		successRate = float64(p.totalPolls-p.pollFailures) / float64(p.totalPolls) * 100
	}

	return Health{
		Enabled:            p.cfg.Enabled,
		ServerType:         p.cfg.ServerType,
		TotalPolls:         p.totalPolls,
		PollFailures:       p.pollFailures,
		SuccessRatePercent: successRate,
		LastSample:         p.lastSample,
	}
}
