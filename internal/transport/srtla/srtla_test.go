package srtla

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sampleStatsJSON = `{
  "total_packets": 10000,
  "packets_reordered": 12,
  "links": [
    {"id": 1, "source_ip": "10.0.0.1", "packets_sent": 5000, "packets_acked": 4990, "packets_lost": 10, "rtt_ms": 40, "bandwidth_bps": 3000000, "active": true},
    {"id": 2, "source_ip": "10.0.0.2", "packets_sent": 5000, "packets_acked": 4970, "packets_lost": 30, "rtt_ms": 60, "bandwidth_bps": 2000000, "active": true},
    {"id": 3, "source_ip": "10.0.0.3", "packets_sent": 0, "packets_acked": 0, "packets_lost": 0, "rtt_ms": 0, "bandwidth_bps": 0, "active": false}
  ]
}`

func TestFetchFromAPISumsActiveLinksOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleStatsJSON))
	}))
	defer srv.Close()

	f := New(Config{Source: SourceAPI, StatsURL: srv.URL})
	stats, err := f.fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if stats.ActiveLinks != 2 {
		t.Fatalf("ActiveLinks = %d, want 2 (inactive link excluded)", stats.ActiveLinks)
	}
	if stats.TotalBandwidthBps != 5_000_000 {
		t.Fatalf("TotalBandwidthBps = %v, want 5000000", stats.TotalBandwidthBps)
	}
	if stats.MinRTTMs != 40 || stats.MaxRTTMs != 60 {
		t.Fatalf("RTT range = [%v,%v], want [40,60]", stats.MinRTTMs, stats.MaxRTTMs)
	}
}

func TestPollOnceUpdatesLatestSample(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleStatsJSON))
	}))
	defer srv.Close()

	f := New(Config{Source: SourceAPI, StatsURL: srv.URL})
	f.pollOnce(context.Background())

	sample, ok := f.Latest()
	if !ok {
		t.Fatal("expected a sample after a successful poll")
	}
	if sample.ActiveSubflows != 2 {
		t.Fatalf("ActiveSubflows = %d, want 2", sample.ActiveSubflows)
	}
}

func TestSocketSourceIsUnimplementedNoOp(t *testing.T) {
	f := New(Config{Source: SourceSocket})
	stats, err := f.fetch(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats != nil {
		t.Fatal("expected nil stats for the unimplemented socket source")
	}
}
