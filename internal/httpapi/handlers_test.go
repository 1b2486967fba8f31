package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ridgeline-av/streamctl/internal/aggregator"
	"github.com/ridgeline-av/streamctl/internal/broadcast"
	"github.com/ridgeline-av/streamctl/internal/clock"
	"github.com/ridgeline-av/streamctl/internal/controlloop"
	"github.com/ridgeline-av/streamctl/internal/metrics"
	"github.com/ridgeline-av/streamctl/internal/quality"
	"github.com/ridgeline-av/streamctl/internal/retry"
	"github.com/ridgeline-av/streamctl/internal/statemachine"
	"github.com/ridgeline-av/streamctl/internal/transport"
)

type staticFeeder struct{ sample metrics.TransportSample }

func (f staticFeeder) Run(ctx context.Context)                         { <-ctx.Done() }
func (f staticFeeder) Latest() (metrics.TransportSample, bool) { return f.sample, true }

var _ transport.Feeder = staticFeeder{}

func newTestServer(t *testing.T) (*Server, *controlloop.Loop) {
	t.Helper()
	clk := clock.NewManual(time.Now())
	fsm := statemachine.New(clk, quality.High)
	rw := retry.New(fsm, retry.Config{Enabled: false})
	agg := aggregator.New(aggregator.DefaultThresholds())

	loop := controlloop.New(controlloop.Config{
		FSM:        fsm,
		Retry:      rw,
		Aggregator: agg,
		Feeder:     staticFeeder{sample: metrics.TransportSample{TotalBandwidthBps: 8_000_000, ActiveSubflows: 2}},
		Switcher:   broadcast.NullSwitcher{},
		Interval:   time.Second,
	})
	s := New(Config{Loop: loop, Retry: rw, Features: Features{RetryLogic: false}})
	return s, loop
}

func TestHandleHealthReturnsOK(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "ok" {
		t.Fatalf("status field = %q, want ok", resp.Status)
	}
}

func TestHandleStatusReflectsSnapshot(t *testing.T) {
	s, loop := newTestServer(t)
	loop.Snapshot() // touch to ensure published

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleResetRetryRoundTrips(t *testing.T) {
	s, loop := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	time.Sleep(10 * time.Millisecond)

	req := httptest.NewRequest(http.MethodPost, "/api/state-machine/reset-retry", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestWebSocketRepliesPongToPing(t *testing.T) {
	s, loop := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "pong" {
		t.Fatalf("got %q, want pong", string(data))
	}
}
