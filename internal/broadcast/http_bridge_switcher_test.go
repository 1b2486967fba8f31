package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/ridgeline-av/streamctl/internal/quality"
)

func newBridgeSwitcher(t *testing.T, handler http.HandlerFunc, sceneMap map[quality.State]string) *HTTPBridgeSwitcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}

	return NewHTTPBridgeSwitcher(HTTPBridgeConfig{
		Host:     u.Hostname(),
		Port:     port,
		SceneMap: sceneMap,
	})
}

func TestSwitchForStateEmitsSceneChange(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	s := newBridgeSwitcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}, map[quality.State]string{quality.Low: "Simple Overlay"})

	if err := s.SwitchForState(context.Background(), quality.Low); err != nil {
		t.Fatalf("SwitchForState: %v", err)
	}
	if gotPath != "/emit/SetCurrentProgramScene" {
		t.Fatalf("path = %q, want /emit/SetCurrentProgramScene", gotPath)
	}
	if gotBody["sceneName"] != "Simple Overlay" {
		t.Fatalf("sceneName = %q, want Simple Overlay", gotBody["sceneName"])
	}
}

func TestSwitchForStateUnmappedIsNoOp(t *testing.T) {
	called := false
	s := newBridgeSwitcher(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}, map[quality.State]string{})

	if err := s.SwitchForState(context.Background(), quality.High); err != nil {
		t.Fatalf("SwitchForState: %v", err)
	}
	if called {
		t.Fatal("bridge should not be called for an unmapped state")
	}
}

func TestSwitchForStateNon200ReturnsError(t *testing.T) {
	// 400 is not in the retryable status set, so this fails on the first
	// attempt instead of paying the retry wrapper's backoff delays.
	s := newBridgeSwitcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}, map[quality.State]string{quality.High: "Main Camera"})

	if err := s.SwitchForState(context.Background(), quality.High); err == nil {
		t.Fatal("expected error on non-200 bridge response")
	}
}
