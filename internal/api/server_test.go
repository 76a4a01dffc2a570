package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-zigbee/internal/bridges/zigbee"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/logging"
)

// fakeBridge implements Bridge with canned figures.
type fakeBridge struct {
	mu         sync.Mutex
	metrics    zigbee.BridgeMetrics
	devices    []zigbee.DeviceAdapter
	pairErr    error
	pairings   []int
	pairOpen   bool
	pairCloses time.Time
}

func (f *fakeBridge) GetMetrics() zigbee.BridgeMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metrics
}

func (f *fakeBridge) StartPairing(_ context.Context, seconds int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pairErr != nil {
		return "", f.pairErr
	}
	if seconds == 0 {
		seconds = 60
	}
	if seconds < 0 || seconds > 254 {
		return "", zigbee.ErrInvalidPairingTime
	}
	f.pairings = append(f.pairings, seconds)
	f.pairOpen = true
	f.pairCloses = time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC)
	return "Pairing mode enabled", nil
}

func (f *fakeBridge) PairingState() (bool, time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pairOpen, f.pairCloses
}

func (f *fakeBridge) Devices() []zigbee.DeviceAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]zigbee.DeviceAdapter(nil), f.devices...)
}

func (f *fakeBridge) Pairings() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.pairings...)
}

type fakeStore struct {
	nodes []zigbee.RecordedNode
	err   error
}

func (f *fakeStore) Nodes(context.Context) ([]zigbee.RecordedNode, error) { return f.nodes, f.err }
func (f *fakeStore) Endpoints(context.Context) ([]zigbee.RecordedEndpoint, error) {
	return nil, f.err
}
func (f *fakeStore) Devices(context.Context) ([]zigbee.RecordedDevice, error) { return nil, f.err }

type fakeLink bool

func (l fakeLink) IsConnected() bool { return bool(l) }

type fakePool struct{}

func (fakePool) Stats() sql.DBStats { return sql.DBStats{OpenConnections: 1, Idle: 1} }

func testDevice(endpoint uint8) zigbee.DeviceAdapter {
	ieee := zigbee.IEEEAddress(0x00124B0001ABCDEF)
	cluster := zigbee.NewBoundCluster(nil, ieee, endpoint, zigbee.LookupCluster(zigbee.ClusterOnOff),
		func() zigbee.NetworkAddress { return 0x1A2B })
	return zigbee.NewOnOffAdapter(cluster, zigbee.AdapterMeta{
		Key:      "zigbee00124b0001abcdef" + string(rune('0'+endpoint)),
		Name:     "On/Off - Switch1",
		Category: zigbee.CategoryOnOff,
	}, zigbee.AdapterOptions{})
}

func testServer(t *testing.T, bridge *fakeBridge, mutate func(*Deps)) *Server {
	t.Helper()
	deps := Deps{
		Config:   config.APIConfig{Host: "127.0.0.1", Port: 0},
		Logger:   logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test"),
		Bridge:   bridge,
		Gatherer: prometheus.NewRegistry(),
		Version:  "test",
	}
	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.Default()
	if _, err := New(Deps{Bridge: &fakeBridge{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without bridge should fail")
	}
}

func TestHealth(t *testing.T) {
	bridge := &fakeBridge{metrics: zigbee.BridgeMetrics{Connected: true, Firmware: "2.7.1"}}
	srv := testServer(t, bridge, func(d *Deps) { d.MQTT = fakeLink(true) })

	rec := do(t, srv, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[HealthResponse](t, rec)
	if resp.Status != "ok" || resp.Version != "test" || resp.MQTT != "connected" || resp.Coordinator.Firmware != "2.7.1" {
		t.Errorf("health = %+v", resp)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	bridge.mu.Lock()
	bridge.metrics.Connected = false
	bridge.mu.Unlock()
	rec = do(t, srv, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 with the coordinator down", rec.Code)
	}
	if resp := decode[HealthResponse](t, rec); resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	srv := testServer(t, &fakeBridge{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestMetrics_JSON(t *testing.T) {
	bridge := &fakeBridge{metrics: zigbee.BridgeMetrics{
		Connected: true, Status: "healthy", FramesTx: 10, FramesRx: 12,
		Nodes: 3, DevicesManaged: 4, PendingRetries: 1,
	}}
	srv := testServer(t, bridge, func(d *Deps) { d.Database = fakePool{} })

	rec := do(t, srv, http.MethodGet, "/api/v1/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	m := decode[SystemMetrics](t, rec)
	if m.Zigbee.FramesRx != 12 || m.Zigbee.DevicesManaged != 4 || m.Zigbee.PendingRetries != 1 {
		t.Errorf("zigbee = %+v", m.Zigbee)
	}
	if m.MQTT.Status != "disabled" {
		t.Errorf("mqtt = %q, want disabled", m.MQTT.Status)
	}
	if m.Database == nil || m.Database.OpenConnections != 1 {
		t.Errorf("database = %+v", m.Database)
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime goroutines not reported")
	}
}

func TestMetrics_Prometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "graylogic_zigbee_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	srv := testServer(t, &fakeBridge{}, func(d *Deps) { d.Gatherer = reg })

	rec := do(t, srv, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "graylogic_zigbee_test_total 3") {
		t.Errorf("exposition missing counter:\n%s", rec.Body.String())
	}
}

func TestDiscovery(t *testing.T) {
	bridge := &fakeBridge{
		devices: []zigbee.DeviceAdapter{testDevice(1), testDevice(2)},
		metrics: zigbee.BridgeMetrics{PendingRetries: 2},
	}
	store := &fakeStore{nodes: []zigbee.RecordedNode{
		{IEEEAddress: "00124b0001abcdef", Status: "bound"},
		{IEEEAddress: "00124b0000000001", Status: "pending"},
	}}
	srv := testServer(t, bridge, func(d *Deps) { d.Store = store })

	rec := do(t, srv, http.MethodGet, "/api/v1/discovery", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	data := decode[DiscoveryData](t, rec)

	if len(data.Devices) != 2 || data.Devices[0].Key != "zigbee00124b0001abcdef1" || data.Devices[0].Category != 238 {
		t.Errorf("devices = %+v", data.Devices)
	}
	if !data.Devices[0].Writable || data.Devices[0].Node != "00124b0001abcdef" || data.Devices[0].Cluster != zigbee.ClusterNameOnOff {
		t.Errorf("device[0] = %+v", data.Devices[0])
	}
	if data.Summary.LiveDevices != 2 || data.Summary.ByCategory["On/Off"] != 2 || data.Summary.PendingRetries != 2 {
		t.Errorf("summary = %+v", data.Summary)
	}
	if data.Recorded == nil || len(data.Recorded.Nodes) != 2 || data.Recorded.Endpoints == nil {
		t.Fatalf("recorded = %+v", data.Recorded)
	}
	if data.Summary.NodesByStatus["bound"] != 1 || data.Summary.NodesByStatus["pending"] != 1 {
		t.Errorf("nodes by status = %v", data.Summary.NodesByStatus)
	}
}

func TestDiscovery_WithoutStore(t *testing.T) {
	srv := testServer(t, &fakeBridge{}, nil)

	rec := do(t, srv, http.MethodGet, "/api/v1/discovery", "")
	data := decode[DiscoveryData](t, rec)
	if data.Recorded != nil {
		t.Errorf("recorded = %+v, want omitted without a store", data.Recorded)
	}
	if data.Devices == nil {
		t.Error("devices should be an empty list, not null")
	}
}

func TestDiscovery_StoreError(t *testing.T) {
	srv := testServer(t, &fakeBridge{}, func(d *Deps) { d.Store = &fakeStore{err: errors.New("disk gone")} })

	rec := do(t, srv, http.MethodGet, "/api/v1/discovery", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if e := decode[Error](t, rec); e.Code != ErrCodeInternal {
		t.Errorf("error = %+v", e)
	}
}

func TestPairing(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantTime   int
	}{
		{"explicit", `{"pairing_time": 90}`, http.StatusOK, 90},
		{"string", `{"pairing_time": "30"}`, http.StatusOK, 30},
		{"empty body", ``, http.StatusOK, 60},
		{"empty object", `{}`, http.StatusOK, 60},
		{"out of range", `{"pairing_time": 300}`, http.StatusBadRequest, 0},
		{"fraction", `{"pairing_time": 2.5}`, http.StatusBadRequest, 0},
		{"bad json", `{"pairing_time":`, http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := &fakeBridge{}
			srv := testServer(t, bridge, nil)

			rec := do(t, srv, http.MethodPost, "/api/v1/pairing", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if len(bridge.Pairings()) != 0 {
					t.Errorf("pairing opened for a rejected request: %v", bridge.Pairings())
				}
				return
			}
			resp := decode[PairingResponse](t, rec)
			if resp.Message == "" || resp.ClosesAt != "2026-03-01T12:01:00Z" {
				t.Errorf("response = %+v", resp)
			}
			if p := bridge.Pairings(); len(p) != 1 || p[0] != tt.wantTime {
				t.Errorf("pairings = %v, want [%d]", p, tt.wantTime)
			}
		})
	}
}

func TestPairing_BridgeFailure(t *testing.T) {
	srv := testServer(t, &fakeBridge{pairErr: zigbee.ErrTimeout}, nil)

	rec := do(t, srv, http.MethodPost, "/api/v1/pairing", `{"pairing_time": 10}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRouting(t *testing.T) {
	srv := testServer(t, &fakeBridge{}, nil)

	if rec := do(t, srv, http.MethodGet, "/api/v1/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/api/v1/pairing", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /pairing status = %d, want 405", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv := testServer(t, &fakeBridge{}, nil)

	h := srv.requestIDMiddleware(srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServerLifecycle(t *testing.T) {
	srv := testServer(t, &fakeBridge{}, nil)

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
