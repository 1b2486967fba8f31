package broadcast

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ridgeline-av/streamctl/internal/logging"
	"github.com/ridgeline-av/streamctl/internal/quality"
)

var log = logging.L("broadcast")

// obs-websocket v5 opcodes (see obs-websocket-5.x RPC protocol).
const (
	opHello            = 0
	opIdentify         = 1
	opIdentified       = 2
	opReidentify       = 3
	opEvent            = 5
	opRequest          = 6
	opRequestResponse  = 7
	rpcVersion         = 1
	identifiedEventSub = 0 // subscribe to nothing; we only issue requests
)

// OBSConfig configures the reconnecting obs-websocket client.
type OBSConfig struct {
	URL            string // e.g. ws://127.0.0.1:4455
	Password       string
	SceneMap       map[quality.State]string
	RequestTimeout time.Duration

	// InitialBackoff/MaxBackoff bound the reconnect delay. Defaults to the
	// production contract of 5s initial, 60s cap, factor 2.0, jitter 0.3.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (c OBSConfig) withDefaults() OBSConfig {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 3 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 5 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	return c
}

type pendingRequest struct {
	resultCh chan requestResult
}

type requestResult struct {
	ok  bool
	err string
}

// OBSClient is a reconnecting obs-websocket v5 client that maps quality
// states onto OBS scenes. Connection loss is handled by a background
// reconnect loop with exponential backoff; callers never block on
// reconnection, only on an individual SwitchForState call's own timeout.
type OBSClient struct {
	cfg OBSConfig

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]pendingRequest

	identified chanBool
	stopOnce   sync.Once
	stopChan   chan struct{}
	doneChan   chan struct{}
}

// chanBool is a reusable "is it ready" gate backed by close-once semantics.
type chanBool struct {
	mu sync.Mutex
	ch chan struct{}
}

func newChanBool() *chanBool { return &chanBool{ch: make(chan struct{})} }

func (c *chanBool) set() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ch:
	default:
		close(c.ch)
	}
}

func (c *chanBool) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.ch:
		c.ch = make(chan struct{})
	default:
	}
}

func (c *chanBool) ready() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

func (c *chanBool) isSet() bool {
	select {
	case <-c.ready():
		return true
	default:
		return false
	}
}

// NewOBSClient creates a client and starts its reconnect loop. Call Close
// to stop it.
func NewOBSClient(cfg OBSConfig) *OBSClient {
	cfg = cfg.withDefaults()
	c := &OBSClient{
		cfg:        cfg,
		pending:    make(map[string]pendingRequest),
		identified: newChanBool(),
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}
	go c.reconnectLoop()
	return c
}

func (c *OBSClient) Connected() bool {
	return c.identified.isSet()
}

func (c *OBSClient) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		// Unblock a read loop waiting on an idle connection.
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.Unlock()
	})
	<-c.doneChan
	return nil
}

func (c *OBSClient) reconnectLoop() {
	defer close(c.doneChan)

	backoff := c.cfg.InitialBackoff
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		if err := c.connectAndServe(); err != nil {
			log.Warn("obs-websocket connection ended", "error", err)
		}
		c.identified.reset()

		jitter := time.Duration(float64(backoff) * 0.3 * (rand.Float64()*2 - 1))
		wait := backoff + jitter
		if wait < 0 {
			wait = backoff
		}

		select {
		case <-c.stopChan:
			return
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * 2.0)
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// connectAndServe dials, performs the Hello/Identify/Identified handshake,
// and then pumps frames until the connection drops or the client is
// asked to stop. It blocks for the lifetime of one connection.
func (c *OBSClient) connectAndServe() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	var hello struct {
		Op int `json:"op"`
		D  struct {
			RPCVersion         int    `json:"rpcVersion"`
			Authentication     struct {
				Challenge string `json:"challenge"`
				Salt      string `json:"salt"`
			} `json:"authentication"`
		} `json:"d"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("unexpected opcode %d waiting for Hello", hello.Op)
	}

	identify := map[string]any{
		"op": opIdentify,
		"d": map[string]any{
			"rpcVersion":        rpcVersion,
			"eventSubscriptions": identifiedEventSub,
		},
	}
	if hello.D.Authentication.Challenge != "" {
		identify["d"].(map[string]any)["authentication"] = buildAuthResponse(
			c.cfg.Password, hello.D.Authentication.Salt, hello.D.Authentication.Challenge)
	}
	if err := conn.WriteJSON(identify); err != nil {
		return fmt.Errorf("write identify: %w", err)
	}

	var identified struct {
		Op int `json:"op"`
	}
	if err := conn.ReadJSON(&identified); err != nil {
		return fmt.Errorf("read identified: %w", err)
	}
	if identified.Op != opIdentified {
		return fmt.Errorf("identify rejected, opcode %d", identified.Op)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.identified.set()
	log.Info("obs-websocket identified", "url", c.cfg.URL)

	return c.readLoop(conn)
}

// buildAuthResponse implements the obs-websocket v5 password-challenge
// scheme: base64(sha256(base64(sha256(password+salt)) + challenge)).
func buildAuthResponse(password, salt, challenge string) string {
	secretHash := sha256.Sum256([]byte(password + salt))
	secretBase64 := base64.StdEncoding.EncodeToString(secretHash[:])
	authHash := sha256.Sum256([]byte(secretBase64 + challenge))
	return base64.StdEncoding.EncodeToString(authHash[:])
}

func (c *OBSClient) readLoop(conn *websocket.Conn) error {
	for {
		var frame struct {
			Op int             `json:"op"`
			D  json.RawMessage `json:"d"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}

		switch frame.Op {
		case opRequestResponse:
			c.handleResponse(frame.D)
		case opEvent:
			// scene/stream state events are not consumed; this client is
			// write-only toward OBS.
		default:
			log.Debug("unhandled obs-websocket frame", "op", frame.Op)
		}

		select {
		case <-c.stopChan:
			return nil
		default:
		}
	}
}

func (c *OBSClient) handleResponse(raw json.RawMessage) {
	var resp struct {
		RequestID     string `json:"requestId"`
		RequestStatus struct {
			Result bool   `json:"result"`
			Code   int    `json:"code"`
			Comment string `json:"comment"`
		} `json:"requestStatus"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.Warn("malformed request response from obs-websocket", "error", err)
		return
	}

	c.pendingMu.Lock()
	p, ok := c.pending[resp.RequestID]
	delete(c.pending, resp.RequestID)
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	p.resultCh <- requestResult{ok: resp.RequestStatus.Result, err: resp.RequestStatus.Comment}
}

func (c *OBSClient) nextRequestID() string {
	return uuid.NewString()
}

// SwitchForState sends a SetCurrentProgramScene request for the scene
// mapped to the given quality state and waits for OBS to acknowledge it.
func (c *OBSClient) SwitchForState(ctx context.Context, state quality.State) error {
	scene, ok := c.cfg.SceneMap[state]
	if !ok || scene == "" {
		return nil // no scene configured for this state; nothing to do
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil || !c.identified.isSet() {
		return errors.New("obs-websocket not connected")
	}

	reqID := c.nextRequestID()
	resultCh := make(chan requestResult, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = pendingRequest{resultCh: resultCh}
	c.pendingMu.Unlock()

	request := map[string]any{
		"op": opRequest,
		"d": map[string]any{
			"requestType": "SetCurrentProgramScene",
			"requestId":   reqID,
			"requestData": map[string]any{"sceneName": scene},
		},
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(request)
	c.writeMu.Unlock()
	if err != nil {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		return fmt.Errorf("send scene switch: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	select {
	case res := <-resultCh:
		if !res.ok {
			return fmt.Errorf("obs rejected scene switch to %q: %s", scene, res.err)
		}
		log.Info("switched obs scene", "state", state.String(), "scene", scene)
		return nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
		return fmt.Errorf("timed out waiting for obs to ack scene switch to %q", scene)
	}
}

var _ Switcher = (*OBSClient)(nil)
