package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/good-yellow-bee/sentinel/internal/api/auth"
	"github.com/good-yellow-bee/sentinel/internal/api/health"
	"github.com/good-yellow-bee/sentinel/internal/api/middleware"
	alertsvc "github.com/good-yellow-bee/sentinel/internal/alerts"
	"github.com/good-yellow-bee/sentinel/internal/bus"
	"github.com/good-yellow-bee/sentinel/internal/hub"
	"github.com/good-yellow-bee/sentinel/internal/models"
	"github.com/good-yellow-bee/sentinel/internal/ratelimit"
	"github.com/good-yellow-bee/sentinel/internal/storage"
)

var testSecret = []byte("test-jwt-secret-32-bytes-long!!")

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	hub    *hub.Hub
	bus    *bus.MemoryBus
	bridge *bus.Bridge
}

// testServer wires a server over sqlite, the memory bus and a running bridge.
func testServer(t *testing.T, rateLimit int) *testEnv {
	t.Helper()

	store := storage.NewSQLStorage(storage.DriverSQLite, filepath.Join(t.TempDir(), "sentinel-test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate storage: %v", err)
	}

	mb := bus.NewMemoryBus(64)
	t.Cleanup(func() { mb.Close() })

	svc, err := alertsvc.NewService(alertsvc.Options{Store: store, Publisher: mb})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}

	h := hub.New(nil)
	bridge := bus.NewBridge(mb, h, bus.BridgeConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = bridge.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	limiter := ratelimit.NewMemory(time.Minute)
	t.Cleanup(func() { limiter.Close() })

	cfg := &Config{
		Address:   "127.0.0.1:0",
		JWTSecret: testSecret,
		RateLimit: middleware.RateLimitConfig{Requests: rateLimit, Window: time.Minute},
	}
	srv, err := New(cfg, Deps{Service: svc, Hub: h, Limiter: limiter})
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	srv.RegisterHealthChecker(health.NewDatabaseChecker(store))
	srv.RegisterHealthChecker(health.NewBridgeChecker(bridge.Healthy))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		h.CloseAll()
		ts.Close()
	})

	waitFor(t, func() bool {
		return mb.Subscribers(bus.TopicAlerts) == 1 && mb.Subscribers(bus.TopicDetections) == 1
	})

	return &testEnv{srv: srv, http: ts, hub: h, bus: mb, bridge: bridge}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.http.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp, env.Data
}

func (e *testEnv) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) bus.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	msg, err := bus.Decode(raw)
	if err != nil {
		t.Fatalf("decode websocket message %s: %v", raw, err)
	}
	return msg
}

func TestDetectionToWebsocket(t *testing.T) {
	env := testServer(t, 1000)

	alertsConn := env.dial(t, "/ws/alerts")
	detConn := env.dial(t, "/ws/detections?camera_id=cam-1")
	waitFor(t, func() bool {
		return env.hub.Count(hub.ChannelAlerts) == 1 && env.hub.Count(hub.ChannelDetections) == 1
	})

	resp, _ := env.do(t, "POST", "/api/v1/rules", "", map[string]any{
		"name":       "watchlist",
		"rule_type":  "blacklist",
		"priority":   8,
		"conditions": map[string]any{"subject_types": []string{"blacklist"}},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status = %d", resp.StatusCode)
	}

	// Another camera's detection is filtered out of the camera-scoped stream.
	resp, _ = env.do(t, "POST", "/api/v1/detections", "", models.Detection{
		CameraID: "cam-2", SubjectType: "visitor", SubjectID: "s-0", Confidence: 0.5,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unmatched detection status = %d, want 202", resp.StatusCode)
	}

	resp, data := env.do(t, "POST", "/api/v1/detections", "", models.Detection{
		CameraID: "cam-1", SubjectType: "blacklist", SubjectID: "s-1", Confidence: 0.97,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("matched detection status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		Alert models.Alert `json:"alert"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("decode alert: %v", err)
	}
	if created.Alert.Priority != 8 || created.Alert.Status != models.AlertStatusOpen {
		t.Errorf("alert = %+v", created.Alert)
	}

	msg := readMessage(t, detConn)
	if msg.Type != bus.TypeDetection || !strings.Contains(string(msg.Data), `"cam-1"`) {
		t.Errorf("detection message = %s %s", msg.Type, msg.Data)
	}

	msg = readMessage(t, alertsConn)
	if msg.Type != bus.TypeAlert || !strings.Contains(string(msg.Data), created.Alert.ID) {
		t.Errorf("alert message = %s %s", msg.Type, msg.Data)
	}
}

func TestAcknowledgeRecordsActor(t *testing.T) {
	env := testServer(t, 1000)
	alertsConn := env.dial(t, "/ws/alerts")
	waitFor(t, func() bool { return env.hub.Count(hub.ChannelAlerts) == 1 })

	env.do(t, "POST", "/api/v1/rules", "", map[string]any{"name": "any", "rule_type": "crowd", "cooldown_seconds": 0})
	_, data := env.do(t, "POST", "/api/v1/detections", "", models.Detection{CameraID: "cam-1", Confidence: 0.8})
	var created struct {
		Alert models.Alert `json:"alert"`
	}
	if err := json.Unmarshal(data, &created); err != nil || created.Alert.ID == "" {
		t.Fatalf("no alert created: %v %s", err, data)
	}
	readMessage(t, alertsConn)

	token, err := auth.NewJWTService(testSecret, time.Minute, "").GenerateToken("u-1", "night-shift")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	resp, data := env.do(t, "POST", "/api/v1/alerts/"+created.Alert.ID+"/acknowledge", token, map[string]string{"notes": "checking"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge status = %d", resp.StatusCode)
	}
	var acked models.Alert
	if err := json.Unmarshal(data, &acked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if acked.AcknowledgedBy != "night-shift" {
		t.Errorf("acknowledged_by = %q, want night-shift", acked.AcknowledgedBy)
	}

	msg := readMessage(t, alertsConn)
	if msg.Type != bus.TypeAcknowledged {
		t.Errorf("update type = %q, want %q", msg.Type, bus.TypeAcknowledged)
	}

	resp, _ = env.do(t, "POST", "/api/v1/alerts/"+created.Alert.ID+"/acknowledge", token, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second acknowledge status = %d, want 409", resp.StatusCode)
	}

	resp, _ = env.do(t, "GET", "/api/v1/alerts", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("invalid token status = %d, want 401", resp.StatusCode)
	}
}

func TestRateLimitedRoutes(t *testing.T) {
	env := testServer(t, 2)

	for i := 0; i < 2; i++ {
		resp, _ := env.do(t, "GET", "/api/v1/alerts", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d status = %d", i+1, resp.StatusCode)
		}
	}
	resp, _ := env.do(t, "GET", "/api/v1/alerts", "", nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", resp.Header.Get("Retry-After"))
	}

	// Health checks are never limited.
	for i := 0; i < 3; i++ {
		resp, _ := env.do(t, "GET", "/health/ready", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("ready status = %d, want 200", resp.StatusCode)
		}
	}
}

func TestRunShutdown(t *testing.T) {
	env := testServer(t, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- env.srv.Run(ctx) }()

	waitFor(t, func() bool { return env.srv.Address() != "127.0.0.1:0" })
	resp, err := http.Get("http://" + env.srv.Address() + "/health/live")
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(&Config{}, Deps{}); err == nil {
		t.Error("expected error without service")
	}
	if _, err := New(nil, Deps{}); err == nil {
		t.Error("expected error without config")
	}
}
