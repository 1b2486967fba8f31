package eventsink

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ridgeline-av/streamctl/internal/logging"
	"github.com/ridgeline-av/streamctl/internal/metrics"
	"github.com/ridgeline-av/streamctl/internal/workerpool"
)

var log = logging.L("eventsink")

// AsyncGormSinkConfig configures the bounded-queue SQLite sink.
type AsyncGormSinkConfig struct {
	DatabasePath string
	QueueSize    int // default 256
}

func (c AsyncGormSinkConfig) withDefaults() AsyncGormSinkConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	return c
}

// AsyncGormSink is a bounded in-memory queue in front of a single writer
// goroutine backed by gorm/SQLite. Record* calls enqueue and return
// immediately; if the queue is full the event is dropped and counted
// rather than blocking the control loop.
type AsyncGormSink struct {
	db   *gorm.DB
	pool *workerpool.Pool

	sessionID uint
	dropped   atomic.Int64

	// running session totals, mutated only from the single pool worker.
	qualityChanges  int
	alertsCount     int
	bandwidthSum    float64
	bandwidthCount  int
}

// NewAsyncGormSink opens (creating if necessary) a SQLite database at the
// given path, migrates the four persisted tables, opens a new stream
// session row, and starts the async writer.
func NewAsyncGormSink(cfg AsyncGormSinkConfig) (*AsyncGormSink, error) {
	cfg = cfg.withDefaults()

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&StreamSession{}, &QualityEvent{}, &NetworkMetricRow{}, &AlertRow{}); err != nil {
		return nil, err
	}

	session := StreamSession{StartedAt: time.Now()}
	if err := db.Create(&session).Error; err != nil {
		return nil, err
	}

	s := &AsyncGormSink{
		db:        db,
		pool:      workerpool.New(1, cfg.QueueSize), // single writer: SQLite serializes anyway
		sessionID: session.ID,
	}
	return s, nil
}

func (s *AsyncGormSink) submit(task func()) error {
	if !s.pool.Submit(task) {
		s.dropped.Add(1)
		log.Warn("eventsink queue full, dropping event", "dropped_total", s.dropped.Load())
	}
	return nil
}

func (s *AsyncGormSink) RecordTransition(ctx context.Context, t Transition) error {
	return s.submit(func() {
		row := QualityEvent{
			SessionID:         s.sessionID,
			Timestamp:         t.Timestamp,
			FromState:         t.From.String(),
			ToState:           t.To.String(),
			Reason:            t.Reason,
			BandwidthMbps:     t.BandwidthMbps,
			PacketLossPercent: t.PacketLossPercent,
			RTTMs:             t.RTTMs,
		}
		if err := s.db.Create(&row).Error; err != nil {
			log.Warn("failed to persist quality event", "error", err)
			return
		}
		s.qualityChanges++
	})
}

func (s *AsyncGormSink) RecordMetrics(ctx context.Context, sample metrics.AggregatedSample) error {
	return s.submit(func() {
		row := NetworkMetricRow{
			SessionID:         s.sessionID,
			Timestamp:         sample.Timestamp,
			BandwidthBps:      sample.TotalBandwidthBps,
			PacketLossPercent: sample.PacketLossPercent,
			RTTMs:             sample.MaxRTTMs,
			ActiveSubflows:    sample.ActiveSubflows,
		}
		if err := s.db.Create(&row).Error; err != nil {
			log.Warn("failed to persist network metric", "error", err)
			return
		}
		s.bandwidthSum += sample.TotalBandwidthBps / 1_000_000
		s.bandwidthCount++
	})
}

func (s *AsyncGormSink) RecordAlert(ctx context.Context, a Alert) error {
	return s.submit(func() {
		row := AlertRow{
			SessionID: s.sessionID,
			Timestamp: a.Timestamp,
			Level:     a.Level,
			Message:   a.Message,
		}
		if err := s.db.Create(&row).Error; err != nil {
			log.Warn("failed to persist alert", "error", err)
			return
		}
		s.alertsCount++
	})
}

// Close drains queued writes (bounded by ctx), closes out the session row
// with its final summary, and releases the database handle.
func (s *AsyncGormSink) Close(ctx context.Context) error {
	s.pool.StopAccepting()
	s.pool.Drain(ctx)

	now := time.Now()
	avgBandwidth := 0.0
	if s.bandwidthCount > 0 {
		avgBandwidth = s.bandwidthSum / float64(s.bandwidthCount)
	}

	var session StreamSession
	durationSeconds := 0
	if err := s.db.First(&session, s.sessionID).Error; err == nil {
		durationSeconds = int(now.Sub(session.StartedAt).Seconds())
	}

	err := s.db.Model(&StreamSession{}).Where("id = ?", s.sessionID).Updates(map[string]any{
		"ended_at":                now,
		"total_duration_seconds":  durationSeconds,
		"avg_bandwidth_mbps":      avgBandwidth,
		"quality_changes":         s.qualityChanges,
		"alerts_count":            s.alertsCount,
	}).Error
	if err != nil {
		log.Warn("failed to close out session row", "error", err)
	}

	sqlDB, dbErr := s.db.DB()
	if dbErr == nil {
		_ = sqlDB.Close()
	}
	return err
}

// Dropped returns the number of events discarded due to a full queue.
func (s *AsyncGormSink) Dropped() int64 { return s.dropped.Load() }

var _ Sink = (*AsyncGormSink)(nil)
