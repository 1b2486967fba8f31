package eventsink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/ridgeline-av/streamctl/internal/metrics"
	"github.com/ridgeline-av/streamctl/internal/quality"
)

func TestAsyncGormSinkPersistsTransitionAndMetrics(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "streamctl.db")
	sink, err := NewAsyncGormSink(AsyncGormSinkConfig{DatabasePath: dbPath})
	if err != nil {
		t.Fatalf("NewAsyncGormSink: %v", err)
	}

	if err := sink.RecordTransition(context.Background(), Transition{
		Timestamp: time.Now(), From: quality.High, To: quality.Medium, Reason: "test",
	}); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	if err := sink.RecordMetrics(context.Background(), metrics.AggregatedSample{
		Timestamp: time.Now(), TotalBandwidthBps: 2_000_000,
	}); err != nil {
		t.Fatalf("RecordMetrics: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sink.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Close released the sink's handle, so count through a fresh one.
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}

	var count int64
	db.Model(&QualityEvent{}).Count(&count)
	if count != 1 {
		t.Fatalf("quality_events count = %d, want 1", count)
	}
	db.Model(&NetworkMetricRow{}).Count(&count)
	if count != 1 {
		t.Fatalf("network_metrics count = %d, want 1", count)
	}
}

func TestAsyncGormSinkDropsUnderBackpressure(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "streamctl.db")
	sink, err := NewAsyncGormSink(AsyncGormSinkConfig{DatabasePath: dbPath, QueueSize: 1})
	if err != nil {
		t.Fatalf("NewAsyncGormSink: %v", err)
	}
	defer sink.Close(context.Background())

	// Flood far more events than the queue can hold; none of these calls
	// should block, and some should be counted as dropped.
	for i := 0; i < 200; i++ {
		_ = sink.RecordAlert(context.Background(), Alert{Timestamp: time.Now(), Level: "info", Message: "flood"})
	}

	if sink.Dropped() == 0 {
		t.Fatal("expected some events to be dropped under a one-slot queue flooded with 200 writes")
	}
}

func TestNullSinkNeverErrors(t *testing.T) {
	var s NullSink
	if err := s.RecordTransition(context.Background(), Transition{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RecordMetrics(context.Background(), metrics.AggregatedSample{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RecordAlert(context.Background(), Alert{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
