// Package metrics holds the value types passed between the transport
// feeders, the ingest poller, the aggregator, and the state machine. None
// of these types carry behavior beyond simple derived fields; they are the
// wire between components that each own their own concurrency.
package metrics

import "time"

// TransportSample is a snapshot of the bonded-uplink transport layer
// (MPTCP subflows, or an SRTLA link group normalized to the same shape).
type TransportSample struct {
	Timestamp        time.Time
	TotalBandwidthBps float64
	PacketLossPercent float64
	MinRTTMs          float64
	MaxRTTMs          float64
	ActiveSubflows    int
}

// TotalBandwidthMbps is a convenience view for logging and status display.
func (s TransportSample) TotalBandwidthMbps() float64 {
	return s.TotalBandwidthBps / 1e6
}

// IngestSource names which wire format an IngestSample was parsed from.
type IngestSource string

const (
	IngestNginxRTMP      IngestSource = "nginx"
	IngestSRT            IngestSource = "srt"
	IngestNodeMediaServer IngestSource = "node-media-server"
)

// IngestSample is a snapshot of what the ingest server actually received,
// independent of what the transport layer reports was sent.
type IngestSample struct {
	Timestamp         time.Time
	Source            IngestSource
	BitrateKbps       float64
	ConnectionActive  bool
	RTTMs             *float64 // nil when the wire format doesn't report RTT
	PacketLossPercent *float64 // nil when the wire format doesn't report loss
}

// PrimarySource names which input the aggregator trusted most for a given
// AggregatedSample.
type PrimarySource string

const (
	PrimaryIngest PrimarySource = "ingest"
	PrimaryMPTCP  PrimarySource = "mptcp"
	PrimaryBoth   PrimarySource = "both"
	PrimaryNone   PrimarySource = "none"
)

// HealthStatus classifies an AggregatedSample from its bitrate, loss, RTT
// and subflow count.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthCritical HealthStatus = "CRITICAL"
	HealthOffline  HealthStatus = "OFFLINE"
)

// AggregatedSample is the single reconciled view of network conditions
// built on every tick for status reporting and persistence; the state
// machine itself is fed the raw transport sample.
type AggregatedSample struct {
	Timestamp         time.Time
	TotalBandwidthBps float64
	PacketLossPercent float64
	MinRTTMs          float64
	MaxRTTMs          float64
	ActiveSubflows    int
	PrimarySource     PrimarySource
	HealthStatus      HealthStatus
	HealthScore       int
	Issues            []string
	SourcesDivergent  bool
}

// NetworkMetrics is a read-friendly projection of an AggregatedSample,
// used by status endpoints and logs.
type NetworkMetrics struct {
	TotalBandwidthMbps float64
	PacketLossPercent  float64
	MinRTTMs           float64
	MaxRTTMs           float64
	ActiveSubflows     int
}

func (s AggregatedSample) NetworkMetrics() NetworkMetrics {
	return NetworkMetrics{
		TotalBandwidthMbps: s.TotalBandwidthBps / 1e6,
		PacketLossPercent:  s.PacketLossPercent,
		MinRTTMs:           s.MinRTTMs,
		MaxRTTMs:           s.MaxRTTMs,
		ActiveSubflows:     s.ActiveSubflows,
	}
}
