package eventsink

import "time"

// StreamSession is one run of the control loop, from startup to shutdown.
// gorm maps this onto the stream_sessions table.
type StreamSession struct {
	ID                    uint `gorm:"primaryKey"`
	StartedAt             time.Time
	EndedAt               *time.Time
	TotalDurationSeconds  int
	AvgBandwidthMbps      float64
	QualityChanges        int
	AlertsCount           int
	Notes                 string
}

func (StreamSession) TableName() string { return "stream_sessions" }

// QualityEvent is one recorded state-machine transition.
type QualityEvent struct {
	ID                uint `gorm:"primaryKey"`
	SessionID         uint
	Timestamp         time.Time
	FromState         string
	ToState           string
	Reason            string
	BandwidthMbps     float64
	PacketLossPercent float64
	RTTMs             float64
}

func (QualityEvent) TableName() string { return "quality_events" }

// NetworkMetricRow is one periodic aggregated-sample snapshot.
type NetworkMetricRow struct {
	ID                uint `gorm:"primaryKey"`
	SessionID         uint
	Timestamp         time.Time
	BandwidthBps      float64
	PacketLossPercent float64
	RTTMs             float64
	ActiveSubflows    int
}

func (NetworkMetricRow) TableName() string { return "network_metrics" }

// AlertRow is one operator-facing notice.
type AlertRow struct {
	ID           uint `gorm:"primaryKey"`
	SessionID    uint
	Timestamp    time.Time
	Level        string
	Message      string
	Acknowledged bool
}

func (AlertRow) TableName() string { return "alerts" }
