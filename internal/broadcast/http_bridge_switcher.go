package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ridgeline-av/streamctl/internal/httputil"
	"github.com/ridgeline-av/streamctl/internal/quality"
)

// HTTPBridgeConfig configures a switcher that drives an obs-websocket-http
// companion service instead of talking the v5 WebSocket protocol directly.
type HTTPBridgeConfig struct {
	Host     string
	Port     int
	AuthKey  string
	Timeout  time.Duration
	SceneMap map[quality.State]string
}

func (c HTTPBridgeConfig) withDefaults() HTTPBridgeConfig {
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

// HTTPBridgeSwitcher drives OBS scene switches over the bridge's
// fire-and-forget /emit REST endpoint rather than a WebSocket connection.
// Each call is a synchronous POST, retried with backoff and bounded by the
// caller's context and the client timeout. It fails gracefully: a failed
// switch is logged and returned, never a reason to reverse the quality
// decision that triggered it.
type HTTPBridgeSwitcher struct {
	cfg     HTTPBridgeConfig
	client  *http.Client
	baseURL string
}

// NewHTTPBridgeSwitcher constructs a switcher talking to the bridge at
// cfg.Host:cfg.Port.
func NewHTTPBridgeSwitcher(cfg HTTPBridgeConfig) *HTTPBridgeSwitcher {
	cfg = cfg.withDefaults()
	return &HTTPBridgeSwitcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
	}
}

// SwitchForState emits a SetCurrentProgramScene request for the scene
// mapped to state. A state with no mapped scene is a no-op, matching the
// bridge client's behavior when scene_map.get() returns nothing.
func (s *HTTPBridgeSwitcher) SwitchForState(ctx context.Context, state quality.State) error {
	scene, ok := s.cfg.SceneMap[state]
	if !ok || scene == "" {
		log.Debug("no scene mapped for state, skipping bridge switch", "state", state.String())
		return nil
	}
	return s.emit(ctx, "SetCurrentProgramScene", map[string]any{"sceneName": scene})
}

// Connected always reports true: the bridge is stateless HTTP, so
// reachability is observed per request instead of via a persistent
// connection.
func (s *HTTPBridgeSwitcher) Connected() bool { return true }

// Close is a no-op: the bridge switcher holds no persistent connection.
func (s *HTTPBridgeSwitcher) Close() error { return nil }

func (s *HTTPBridgeSwitcher) emit(ctx context.Context, requestType string, data map[string]any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}

	headers := http.Header{"Content-Type": []string{"application/json"}}
	if s.cfg.AuthKey != "" {
		headers.Set("Authorization", "Bearer "+s.cfg.AuthKey)
	}

	url := fmt.Sprintf("%s/emit/%s", s.baseURL, requestType)
	resp, err := httputil.Do(ctx, s.client, http.MethodPost, url, body, headers, httputil.DefaultRetryConfig())
	if err != nil {
		log.Warn("obs http bridge emit failed", "requestType", requestType, "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("obs http bridge emit rejected", "requestType", requestType, "status", resp.StatusCode)
		return fmt.Errorf("obs http bridge: %s returned %d", requestType, resp.StatusCode)
	}
	return nil
}

var _ Switcher = (*HTTPBridgeSwitcher)(nil)
