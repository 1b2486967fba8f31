// Package aggregator reconciles the bonded-transport sample with the
// ingest poller's sample into a single AggregatedSample: a primary
// source, a health status and score, and cross-source divergence
// detection. It only advises; the state machine retains authority over
// transitions.
package aggregator

import (
	"time"

	"github.com/ridgeline-av/streamctl/internal/metrics"
)

// Thresholds configures the banding the aggregator scores against.
type Thresholds struct {
	LowBitrateKbps     float64 // default 500
	OfflineBitrateKbps float64 // default 450
	RTTMs              float64 // default 1000
}

// DefaultThresholds matches the production defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{LowBitrateKbps: 500, OfflineBitrateKbps: 450, RTTMs: 1000}
}

// Aggregator holds no mutable state of its own; Aggregate is a pure
// function of its two inputs plus the configured thresholds.
type Aggregator struct {
	thresholds Thresholds
}

func New(thresholds Thresholds) *Aggregator {
	return &Aggregator{thresholds: thresholds}
}

// Aggregate fuses a transport sample and an optional ingest sample into an
// AggregatedSample. ingestOK is false when the ingest poller has never
// produced a sample (feature disabled, or no successful poll yet).
func (a *Aggregator) Aggregate(transport metrics.TransportSample, transportOK bool, ingest metrics.IngestSample, ingestOK bool) metrics.AggregatedSample {
	out := metrics.AggregatedSample{Timestamp: time.Now()}

	if transportOK {
		out.TotalBandwidthBps = transport.TotalBandwidthBps
		out.PacketLossPercent = transport.PacketLossPercent
		out.MinRTTMs = transport.MinRTTMs
		out.MaxRTTMs = transport.MaxRTTMs
		out.ActiveSubflows = transport.ActiveSubflows
	}

	out.PrimarySource = a.primarySource(transportOK, ingestOK)
	out.HealthStatus = a.assessHealth(transport, transportOK, ingest, ingestOK)
	out.HealthScore = a.healthScore(transport, transportOK)
	out.SourcesDivergent = a.detectDivergence(out.PrimarySource, transport, ingest)

	return out
}

func (a *Aggregator) primarySource(transportOK, ingestOK bool) metrics.PrimarySource {
	switch {
	case transportOK && ingestOK:
		return metrics.PrimaryBoth
	case ingestOK:
		return metrics.PrimaryIngest
	case transportOK:
		return metrics.PrimaryMPTCP
	default:
		return metrics.PrimaryNone
	}
}

// effectiveBitrateKbps prefers the ingest-reported bitrate (ground truth
// for what was actually received) and falls back to the transport
// bandwidth discounted by an assumed encoding/framing efficiency.
func effectiveBitrateKbps(transport metrics.TransportSample, transportOK bool, ingest metrics.IngestSample, ingestOK bool) (kbps float64, known bool) {
	if ingestOK {
		return ingest.BitrateKbps, true
	}
	if transportOK {
		return transport.TotalBandwidthBps / 1000 * 0.8, true
	}
	return 0, false
}

func (a *Aggregator) assessHealth(transport metrics.TransportSample, transportOK bool, ingest metrics.IngestSample, ingestOK bool) metrics.HealthStatus {
	if ingestOK && !ingest.ConnectionActive {
		return metrics.HealthOffline
	}

	kbps, known := effectiveBitrateKbps(transport, transportOK, ingest, ingestOK)
	if !known {
		return metrics.HealthStatus("UNKNOWN")
	}

	if kbps < a.thresholds.OfflineBitrateKbps {
		return metrics.HealthOffline
	}
	if kbps < a.thresholds.LowBitrateKbps {
		return metrics.HealthCritical
	}
	if transportOK && (transport.PacketLossPercent > 2.0 || transport.MaxRTTMs > a.thresholds.RTTMs || transport.ActiveSubflows == 1) {
		return metrics.HealthDegraded
	}
	return metrics.HealthHealthy
}

// healthScore bands bitrate (<=40), loss (<=30), RTT (<=20), and subflow
// redundancy (<=10) into a single [0,100] score.
func (a *Aggregator) healthScore(transport metrics.TransportSample, transportOK bool) int {
	if !transportOK {
		return 0
	}

	score := bitrateScore(transport.TotalBandwidthBps/1000) +
		lossScore(transport.PacketLossPercent) +
		rttScore(transport.MaxRTTMs, a.thresholds.RTTMs) +
		redundancyScore(transport.ActiveSubflows)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func bitrateScore(kbps float64) int {
	switch {
	case kbps >= 2500:
		return 40
	case kbps >= 500:
		return int(40 * (kbps - 500) / 2000)
	default:
		return int(40 * kbps / 500)
	}
}

func lossScore(lossPercent float64) int {
	switch {
	case lossPercent <= 0:
		return 30
	case lossPercent < 1:
		return 25
	case lossPercent < 2:
		return 20
	case lossPercent < 5:
		return 10
	default:
		return 0
	}
}

func rttScore(rttMs, threshold float64) int {
	switch {
	case rttMs < 50:
		return 20
	case rttMs < 100:
		return 15
	case rttMs < 200:
		return 10
	case rttMs < threshold:
		return 5
	default:
		return 0
	}
}

func redundancyScore(subflows int) int {
	switch {
	case subflows >= 2:
		return 10
	case subflows == 1:
		return 5
	default:
		return 0
	}
}

// detectDivergence is only meaningful when both sources are present: it
// compares the bonded-transport bandwidth with the ingest-reported
// bitrate and flags a large gap (encoder trouble or a local bottleneck
// that the network layer can't see).
func (a *Aggregator) detectDivergence(primary metrics.PrimarySource, transport metrics.TransportSample, ingest metrics.IngestSample) bool {
	if primary != metrics.PrimaryBoth {
		return false
	}
	mptcpKbps := transport.TotalBandwidthBps / 1000
	ingestKbps := ingest.BitrateKbps
	if mptcpKbps <= 0 || ingestKbps <= 0 {
		return false
	}

	lo, hi := mptcpKbps, ingestKbps
	if hi < lo {
		lo, hi = hi, lo
	}
	ratio := lo / hi
	return ratio < 0.7
}

// DowngradeAdvice is the aggregator's non-binding recommendation to
// consider a downgrade, along with which source triggered it.
type DowngradeAdvice struct {
	ShouldDowngrade bool
	Source          metrics.PrimarySource
}

// ShouldDowngrade advises (never decides) whether conditions look bad
// enough to warrant a downgrade. The FSM retains sole authority over
// actual transitions.
func (a *Aggregator) ShouldDowngrade(sample metrics.AggregatedSample, ingest metrics.IngestSample, ingestOK bool) DowngradeAdvice {
	if ingestOK && ingest.BitrateKbps < a.thresholds.LowBitrateKbps {
		return DowngradeAdvice{true, metrics.PrimaryIngest}
	}
	if sample.TotalBandwidthBps/1000 < 500 {
		return DowngradeAdvice{true, metrics.PrimaryMPTCP}
	}
	if sample.HealthStatus == metrics.HealthCritical || sample.HealthStatus == metrics.HealthOffline {
		return DowngradeAdvice{true, sample.PrimarySource}
	}
	return DowngradeAdvice{false, metrics.PrimaryNone}
}
