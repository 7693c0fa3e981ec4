package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/drivelink/internal/command"
	"github.com/nerrad567/drivelink/internal/connection"
	"github.com/nerrad567/drivelink/internal/driver"
	"github.com/nerrad567/drivelink/internal/driver/sim"
	"github.com/nerrad567/drivelink/internal/infrastructure/config"
	"github.com/nerrad567/drivelink/internal/infrastructure/database"
	"github.com/nerrad567/drivelink/internal/infrastructure/logging"
	"github.com/nerrad567/drivelink/internal/journal"
	"github.com/nerrad567/drivelink/migrations"
)

const testSerial driver.Identity = "0x3a1f2b3c4d5e"

// testEnv is a server wired to a simulated bus and an in-memory journal.
type testEnv struct {
	srv     *Server
	bus     *sim.Bus
	manager *connection.Manager
	handler http.Handler
}

func testConnectionConfig() connection.Config {
	cfg := connection.DefaultConfig()
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.ReconnectTimeout = 50 * time.Millisecond
	cfg.RebootReconnectTimeout = 200 * time.Millisecond
	cfg.RebootGracePeriod = 20 * time.Millisecond
	cfg.RebootCheckGrace = 0
	cfg.RetryDelay = 10 * time.Millisecond
	cfg.RebootRetryDelay = 10 * time.Millisecond
	cfg.MaxReconnectAttempts = 50
	cfg.PollInterval = 0
	cfg.ScanTimeout = 50 * time.Millisecond
	cfg.ReturnTimeout = time.Second
	return cfg
}

func testServer(t *testing.T, opts sim.Options, tune func(*connection.Config)) *testEnv {
	t.Helper()

	bus := sim.NewBus(opts)
	cfg := testConnectionConfig()
	if tune != nil {
		tune(&cfg)
	}
	mgr := connection.NewManager(cfg, bus)
	t.Cleanup(mgr.Close)

	db, err := database.Open(context.Background(), database.Config{Path: ":memory:", BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	repo := journal.NewRepository(db.DB, log)
	mgr.AddSink(repo)

	executor := command.NewExecutor(mgr)
	executor.SetRateLimit(0)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       config.WebSocketConfig{Path: "/api/ws", MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:   log,
		Manager:  mgr,
		Executor: executor,
		Journal:  repo,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	mgr.AddSink(srv.Hub())

	return &testEnv{srv: srv, bus: bus, manager: mgr, handler: srv.buildRouter()}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	e.bus.Plug(testSerial)
	if rec := e.do(t, http.MethodPost, "/api/odrive/connect", ""); rec.Code != http.StatusOK {
		t.Fatalf("connect status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return out
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	var e Error
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body: %v", err)
	}
	if e.Code != code || e.Status != status {
		t.Errorf("error = %+v, want code %q", e, code)
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger error = nil")
	}
	if _, err := New(Deps{Logger: logging.Default()}); err == nil {
		t.Error("New() without manager error = nil")
	}
}

func TestHealth(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)

	rec := env.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["status"] != "ok" || body["version"] != "test" || body["connected"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestConnect_NoDevice(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)

	rec := env.do(t, http.MethodPost, "/api/odrive/connect", `{"device":{"serial":"0x3a1f2b3c4d5e"}}`)
	expectError(t, rec, http.StatusNotFound, ErrCodeNoDevice)
}

func TestConnect_InvalidBody(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)

	rec := env.do(t, http.MethodPost, "/api/odrive/connect", `{"device":`)
	expectError(t, rec, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestConnectDisconnect(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)
	env.bus.Plug(testSerial)

	rec := env.do(t, http.MethodPost, "/api/odrive/connect", `{"device":{"serial":"0x3a1f2b3c4d5e"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	conn, _ := body["connection"].(map[string]any)
	if conn["connected"] != true || conn["device_serial"] != string(testSerial) {
		t.Errorf("connection = %v", conn)
	}
	if conn["session_id"] == "" || conn["session_id"] == nil {
		t.Error("session_id missing")
	}

	rec = env.do(t, http.MethodPost, "/api/odrive/disconnect", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d", rec.Code)
	}
	if env.manager.IsConnected() {
		t.Error("manager still connected after disconnect")
	}

	// Disconnect is idempotent.
	if rec := env.do(t, http.MethodPost, "/api/odrive/disconnect", ""); rec.Code != http.StatusOK {
		t.Errorf("second disconnect status = %d", rec.Code)
	}
}

func TestConnectionStatus_DetectsUnplug(t *testing.T) {
	env := testServer(t, sim.Options{}, func(c *connection.Config) { c.RetryDelay = time.Hour })
	env.connect(t)

	env.bus.Unplug(testSerial)
	rec := env.do(t, http.MethodGet, "/api/odrive/connection_status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["connected"] != false || body["connection_lost"] != true {
		t.Errorf("status = %v, want lost", body)
	}
	if body["device_serial"] != string(testSerial) {
		t.Errorf("device_serial = %v, want the serial retained", body["device_serial"])
	}
}

func TestScan(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)
	env.bus.Plug(testSerial)
	env.bus.Plug("0x20873592524b")

	rec := env.do(t, http.MethodGet, "/api/odrive/scan", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["count"] != float64(2) {
		t.Errorf("count = %v, want 2", body["count"])
	}
	if env.manager.IsConnected() {
		t.Error("scan connected the manager")
	}
}

func TestCommand(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)
	env.connect(t)

	rec := env.do(t, http.MethodPost, "/api/odrive/command", `{"command":"odrv0.vbus_voltage"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["result"] != 24.1 || body["command"] != "device.vbus_voltage" {
		t.Errorf("body = %v", body)
	}

	rec = env.do(t, http.MethodPost, "/api/odrive/command", `{"command":"dev0.axis0.requested_state = 8"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d, body = %s", rec.Code, rec.Body.String())
	}
	v, err := env.manager.Get(context.Background(), "axis0.current_state")
	if err != nil || v != 8 {
		t.Errorf("current_state = %v, %v; want 8", v, err)
	}
}

func TestCommand_Errors(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"invalid json", `{`, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty", `{"command":""}`, http.StatusBadRequest, ErrCodeValidation},
		{"syntax", `{"command":"__import__('os').system('ls')"}`, http.StatusBadRequest, ErrCodeValidation},
		{"not connected", `{"command":"odrv0.vbus_voltage"}`, http.StatusServiceUnavailable, ErrCodeNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/odrive/command", tt.body)
			expectError(t, rec, tt.status, tt.code)
		})
	}
}

func TestProperties(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)
	env.connect(t)

	rec := env.do(t, http.MethodPost, "/api/odrive/set_property", `{"path":"axis0.controller.config.vel_limit","value":3.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/odrive/property", `{"path":"axis0.controller.config.vel_limit"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if body := decode(t, rec); body["value"] != 3.5 {
		t.Errorf("value = %v, want 3.5", body["value"])
	}

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown path", "/api/odrive/property", `{"path":"axis9.error"}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid path", "/api/odrive/property", `{"path":"axis0.error; rm"}`, http.StatusBadRequest, ErrCodeValidation},
		{"read only", "/api/odrive/set_property", `{"path":"vbus_voltage","value":12}`, http.StatusBadRequest, ErrCodeBadRequest},
		{"missing value", "/api/odrive/set_property", `{"path":"axis0.requested_state"}`, http.StatusBadRequest, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, env.do(t, http.MethodPost, tt.path, tt.body), tt.status, tt.code)
		})
	}
}

func TestReboot_BlocksAccessUntilBack(t *testing.T) {
	env := testServer(t, sim.Options{}, func(c *connection.Config) { c.RebootGracePeriod = time.Hour })
	env.connect(t)

	rec := env.do(t, http.MethodPost, "/api/odrive/reboot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reboot status = %d, body = %s", rec.Code, rec.Body.String())
	}
	conn, _ := decode(t, rec)["connection"].(map[string]any)
	if conn["is_rebooting"] != true {
		t.Errorf("connection = %v, want is_rebooting", conn)
	}

	rec = env.do(t, http.MethodPost, "/api/odrive/property", `{"path":"vbus_voltage"}`)
	expectError(t, rec, http.StatusServiceUnavailable, ErrCodeRebooting)

	rec = env.do(t, http.MethodPost, "/api/odrive/save_config", "")
	expectError(t, rec, http.StatusServiceUnavailable, ErrCodeRebooting)
}

func TestSaveAndReboot(t *testing.T) {
	env := testServer(t, sim.Options{BootDelay: 30 * time.Millisecond}, nil)
	env.connect(t)

	if rec := env.do(t, http.MethodPost, "/api/odrive/set_property", `{"path":"axis0.motor.config.pole_pairs","value":14}`); rec.Code != http.StatusOK {
		t.Fatalf("set status = %d", rec.Code)
	}

	rec := env.do(t, http.MethodPost, "/api/odrive/save_and_reboot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("save_and_reboot status = %d, body = %s", rec.Code, rec.Body.String())
	}
	waitFor(t, 2*time.Second, "reconnection after reboot", env.manager.IsConnected)

	v, err := env.manager.Get(context.Background(), "axis0.motor.config.pole_pairs")
	if err != nil || v != float64(14) {
		t.Errorf("pole_pairs = %v, %v; want 14 after reboot", v, err)
	}
}

func TestEraseConfig(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)
	env.connect(t)

	if rec := env.do(t, http.MethodPost, "/api/odrive/set_property", `{"path":"axis0.motor.config.pole_pairs","value":14}`); rec.Code != http.StatusOK {
		t.Fatalf("set status = %d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/odrive/save_config", ""); rec.Code != http.StatusOK {
		t.Fatalf("save status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec := env.do(t, http.MethodPost, "/api/odrive/erase_config", ""); rec.Code != http.StatusOK {
		t.Fatalf("erase status = %d, body = %s", rec.Code, rec.Body.String())
	}
	waitFor(t, 2*time.Second, "reconnection after erase", env.manager.IsConnected)

	v, err := env.manager.Get(context.Background(), "axis0.motor.config.pole_pairs")
	if err != nil || v != 7 {
		t.Errorf("pole_pairs = %v, %v; want factory value 7", v, err)
	}
}

func TestListEvents(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)
	env.connect(t)
	env.do(t, http.MethodPost, "/api/odrive/disconnect", "")

	var body map[string]any
	waitFor(t, 2*time.Second, "journal entries", func() bool {
		rec := env.do(t, http.MethodGet, "/api/odrive/events?limit=10", "")
		if rec.Code != http.StatusOK {
			return false
		}
		body = decode(t, rec)
		return body["count"] == float64(2)
	})

	events, _ := body["events"].([]any)
	first, _ := events[0].(map[string]any)
	if first["kind"] != string(connection.EventDisconnected) {
		t.Errorf("newest event = %v, want disconnected", first)
	}

	rec := env.do(t, http.MethodGet, "/api/odrive/events?limit=abc", "")
	expectError(t, rec, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestListEvents_NoJournal(t *testing.T) {
	mgr := connection.NewManager(testConnectionConfig(), sim.NewBus(sim.Options{}))
	defer mgr.Close()

	srv, err := New(Deps{Logger: logging.Default(), Manager: mgr})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/odrive/events", nil))
	expectError(t, rec, http.StatusServiceUnavailable, ErrCodeUnavailable)
}

func TestMiddleware_RequestIDAndCORS(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/odrive/connect", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want echoed", got)
	}

	rec = env.do(t, http.MethodGet, "/api/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}
}

func TestMiddleware_Recovery(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)

	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	expectError(t, rec, http.StatusInternalServerError, ErrCodeInternal)
}

func TestMiddleware_BodyLimit(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)

	big := fmt.Sprintf(`{"command":"%s"}`, strings.Repeat("a", maxRequestBodySize))
	rec := env.do(t, http.MethodPost, "/api/odrive/command", big)
	expectError(t, rec, http.StatusBadRequest, ErrCodeBadRequest)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{command.ErrSyntax, http.StatusBadRequest},
		{fmt.Errorf("x: %w", driver.ErrReadOnly), http.StatusBadRequest},
		{command.ErrRateLimited, http.StatusTooManyRequests},
		{connection.ErrNoDeviceFound, http.StatusNotFound},
		{connection.ErrConnectAborted, http.StatusConflict},
		{connection.ErrRebooting, http.StatusServiceUnavailable},
		{connection.ErrReconnectExhausted, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: save: flash", connection.ErrProtectedOperationFailed), http.StatusBadGateway},
		{errors.New("anything else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if status, _ := classifyError(tt.err); status != tt.status {
				t.Errorf("classifyError(%v) = %d, want %d", tt.err, status, tt.status)
			}
		})
	}
}

func TestWebSocket_StateChanges(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	resp.Body.Close()

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelConnectionStateChanged}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var ack WSMessage
	if err := ws.ReadJSON(&ack); err != nil {
		t.Fatalf("read subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("ack = %+v", ack)
	}

	env.connect(t)

	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.EventType != ChannelConnectionStateChanged {
		t.Fatalf("message = %+v", msg)
	}
	payload, _ := msg.Payload.(map[string]any)
	if payload["kind"] != string(connection.EventConnected) || payload["device_serial"] != string(testSerial) {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebSocket_PingAndInvalid(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	resp.Body.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong WSMessage
	if err := ws.ReadJSON(&pong); err != nil || pong.Type != WSTypePong || pong.ID != "p1" {
		t.Fatalf("pong = %+v, %v", pong, err)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write invalid: %v", err)
	}
	var errMsg WSMessage
	if err := ws.ReadJSON(&errMsg); err != nil || errMsg.Type != WSTypeError {
		t.Fatalf("error message = %+v, %v", errMsg, err)
	}
}

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	resp.Body.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	return ws
}

func TestWebSocket_StatusOnSubscribe(t *testing.T) {
	env := testServer(t, sim.Options{}, nil)
	ws := dialWS(t, env)

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: []string{ChannelConnectionStatus}},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	var ack WSMessage
	if err := ws.ReadJSON(&ack); err != nil || ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("ack = %+v, %v", ack, err)
	}

	var initial WSMessage
	if err := ws.ReadJSON(&initial); err != nil {
		t.Fatalf("read initial status: %v", err)
	}
	if initial.Type != WSTypeEvent || initial.EventType != ChannelConnectionStatus {
		t.Fatalf("initial message = %+v", initial)
	}
	if payload, _ := initial.Payload.(map[string]any); payload["connected"] != false {
		t.Errorf("initial status = %v, want disconnected", payload)
	}

	env.connect(t)

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			t.Fatalf("read status: %v", err)
		}
		if msg.EventType != ChannelConnectionStatus {
			t.Fatalf("message on %q, want only %q", msg.EventType, ChannelConnectionStatus)
		}
		payload, _ := msg.Payload.(map[string]any)
		if payload["connected"] == true {
			if payload["device_serial"] != string(testSerial) {
				t.Errorf("status = %v, want serial %s", payload, testSerial)
			}
			return
		}
	}
}

func TestWebSocket_SubscribeRejectsUnknownChannel(t *testing.T) {
	tests := []struct {
		name     string
		channels []string
	}{
		{name: "unknown channel", channels: []string{"device.telemetry"}},
		{name: "mixed known and unknown", channels: []string{ChannelConnectionStateChanged, "device.telemetry"}},
		{name: "no channels", channels: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, sim.Options{}, nil)
			ws := dialWS(t, env)

			if err := ws.WriteJSON(WSMessage{
				Type:    WSTypeSubscribe,
				ID:      "sub-x",
				Payload: WSSubscribePayload{Channels: tt.channels},
			}); err != nil {
				t.Fatalf("write subscribe: %v", err)
			}
			var reply WSMessage
			if err := ws.ReadJSON(&reply); err != nil {
				t.Fatalf("read reply: %v", err)
			}
			if reply.Type != WSTypeError || reply.ID != "sub-x" {
				t.Errorf("reply = %+v, want an error", reply)
			}
		})
	}
}

func TestHub_RunClosesClientsAndRefusesLateOnes(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	hub := NewHub(config.WebSocketConfig{}, log)

	client := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	if !hub.Register(client) {
		t.Fatal("Register() = false on an open hub")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	cancel()
	<-done

	if _, ok := <-client.send; ok {
		t.Error("client send channel still open after Run returned")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}

	// Unregister after Run must not close the channel again.
	hub.Unregister(client)

	late := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	if hub.Register(late) {
		t.Error("Register() = true after Run returned")
	}
	hub.Broadcast(ChannelConnectionStatus, connection.Snapshot{})
}
