package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/teslashibe/go-soundcheck/internal/analysis"
	"github.com/teslashibe/go-soundcheck/internal/audio"
	"github.com/teslashibe/go-soundcheck/internal/config"
	"github.com/teslashibe/go-soundcheck/internal/doa"
	"github.com/teslashibe/go-soundcheck/internal/health"
	"github.com/teslashibe/go-soundcheck/internal/store"
	"github.com/teslashibe/go-soundcheck/internal/xvf3800"
)

const testRate = 16000

type testEnv struct {
	server   *Server
	store    *store.Store
	recorder *doa.Recorder
	reports  []analysis.Report
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.ServerConfig{
		Port:            9000,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		GracefulTimeout: 5 * time.Second,
		BodyLimitMB:     16,
	}

	logger := slog.Default()

	runner, err := analysis.NewRunner(analysis.Config{Workers: 1}, logger)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	st, err := store.Open(store.Options{InMemory: true}, logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	source := xvf3800.NewMockSource()
	source.SetAzimuth(45)
	source.SetSpeaking(true)
	recorder := doa.NewRecorder(source, doa.RecorderConfig{PollInterval: 10 * time.Millisecond}, logger)

	env := &testEnv{store: st, recorder: recorder}
	env.server = New(cfg, Deps{
		Runner:   runner,
		Store:    st,
		Recorder: recorder,
		Health:   health.NewChecker("test"),
		Config:   config.Default(),
		OnReport: func(r analysis.Report) { env.reports = append(env.reports, r) },
	}, logger, "test")

	return env
}

// wavBytes encodes samples as a mono 16-bit WAV file
func wavBytes(t *testing.T, x []float64) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := audio.WriteWAV(path, audio.Mono(x, testRate), 16); err != nil {
		t.Fatalf("failed to write wav: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read wav: %v", err)
	}
	return data
}

func noise(n int, seed int64, amp float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * (rng.Float64()*2 - 1)
	}
	return out
}

func multipartRequest(t *testing.T, target string, files map[string][]byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for field, data := range files {
		part, err := w.CreateFormFile(field, field+".wav")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest("POST", target, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func doJSON(t *testing.T, s *Server, req *http.Request, wantStatus int, out any) {
	t.Helper()

	resp, err := s.app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	if resp.StatusCode != wantStatus {
		t.Fatalf("expected status %d, got %d: %s", wantStatus, resp.StatusCode, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("failed to parse JSON: %v", err)
		}
	}
}

func TestServer_Health(t *testing.T) {
	env := setupTestServer(t)

	var result map[string]interface{}
	doJSON(t, env.server, httptest.NewRequest("GET", "/health", nil), 200, &result)

	if result["version"] != "test" {
		t.Errorf("expected version 'test', got %v", result["version"])
	}

	if _, ok := result["uptime_seconds"]; !ok {
		t.Error("expected uptime_seconds in response")
	}
}

func TestServer_HealthUnhealthy(t *testing.T) {
	env := setupTestServer(t)
	env.server.deps.Health.Register("store", true, func() (bool, string) {
		return false, "closed"
	})

	var result health.Status
	doJSON(t, env.server, httptest.NewRequest("GET", "/health", nil), 503, &result)

	if result.Status != health.StatusUnhealthy {
		t.Errorf("expected unhealthy, got %s", result.Status)
	}
}

func TestServer_Quality(t *testing.T) {
	env := setupTestServer(t)

	x := noise(3*testRate, 11, 0.5)
	late := make([]float64, 400, 400+len(x))
	late = append(late, audio.Scale(x, 0.5)...)

	req := multipartRequest(t, "/api/quality", map[string][]byte{
		"reference": wavBytes(t, x),
		"degraded":  wavBytes(t, late),
	}, nil)

	var rep analysis.Report
	doJSON(t, env.server, req, 200, &rep)

	if rep.Kind != analysis.KindQuality || rep.Quality == nil {
		t.Fatalf("expected quality report, got %+v", rep)
	}
	if rep.Quality.Status != "ok" {
		t.Fatalf("expected status ok, got %s (%s)", rep.Quality.Status, rep.Quality.Error)
	}
	if rep.Quality.OffsetSamples != 400 {
		t.Errorf("expected offset 400, got %d", rep.Quality.OffsetSamples)
	}
	if rep.Quality.Reference != "reference.wav" || rep.Quality.File != "degraded.wav" {
		t.Errorf("unexpected file names %q, %q", rep.Quality.Reference, rep.Quality.File)
	}
	if len(rep.Quality.Scores) == 0 {
		t.Error("expected scores")
	}

	// Published to the store and the hook
	if _, err := env.store.Get(t.Context(), rep.ID); err != nil {
		t.Errorf("expected report in store: %v", err)
	}
	if len(env.reports) != 1 || env.reports[0].ID != rep.ID {
		t.Errorf("expected hook to see report %s, got %d reports", rep.ID, len(env.reports))
	}
}

func TestServer_QualityBatch(t *testing.T) {
	env := setupTestServer(t)

	x := noise(3*testRate, 5, 0.5)
	late := make([]float64, 200, 200+len(x))
	late = append(late, x...)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, f := range []struct {
		field, name string
		data        []byte
	}{
		{"reference", "ref.wav", wavBytes(t, x)},
		{"degraded", "late.wav", wavBytes(t, late)},
		{"degraded", "short.wav", wavBytes(t, x[:testRate/2])},
	} {
		part, err := w.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(f.data)
	}
	w.Close()

	req := httptest.NewRequest("POST", "/api/quality/batch", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())

	var result struct {
		Summary analysis.Summary  `json:"summary"`
		Reports []analysis.Report `json:"reports"`
	}
	doJSON(t, env.server, req, 200, &result)

	if result.Summary.Total != 2 || result.Summary.OK != 1 {
		t.Errorf("expected 2 total and 1 ok, got %+v", result.Summary)
	}
	if len(result.Reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(result.Reports))
	}
	if result.Reports[0].File() != "late.wav" || result.Reports[1].File() != "short.wav" {
		t.Errorf("expected upload names in order, got %s, %s", result.Reports[0].File(), result.Reports[1].File())
	}
	if result.Reports[0].Quality.Reference != "ref.wav" {
		t.Errorf("expected reference ref.wav, got %s", result.Reports[0].Quality.Reference)
	}
	if result.Reports[1].Status() != "too_short" {
		t.Errorf("expected too_short, got %s", result.Reports[1].Status())
	}
	if len(env.reports) != 2 {
		t.Errorf("expected 2 published reports, got %d", len(env.reports))
	}
}

func TestServer_QualityBatchNeedsFiles(t *testing.T) {
	env := setupTestServer(t)

	req := multipartRequest(t, "/api/quality/batch", map[string][]byte{
		"reference": wavBytes(t, noise(testRate, 1, 0.5)),
	}, nil)

	doJSON(t, env.server, req, 400, nil)
}

func TestServer_QualityMissingFile(t *testing.T) {
	env := setupTestServer(t)

	req := multipartRequest(t, "/api/quality", map[string][]byte{
		"reference": wavBytes(t, noise(testRate, 1, 0.5)),
	}, nil)

	var result map[string]string
	doJSON(t, env.server, req, 400, &result)

	if !strings.Contains(result["error"], "degraded") {
		t.Errorf("expected error to name the degraded field, got %q", result["error"])
	}
}

func TestServer_QualityBadChannel(t *testing.T) {
	env := setupTestServer(t)

	x := noise(testRate, 2, 0.5)
	req := multipartRequest(t, "/api/quality", map[string][]byte{
		"reference": wavBytes(t, x),
		"degraded":  wavBytes(t, x),
	}, map[string]string{"channel": "3"})

	doJSON(t, env.server, req, 422, nil)
}

func TestServer_DOAUpload(t *testing.T) {
	env := setupTestServer(t)

	// SSL channel: silence with one talker at 90 degrees
	ssl := make([]float64, 2*testRate)
	for i := range ssl {
		ssl[i] = 1
	}
	for i := 4000; i < 12000; i++ {
		ssl[i] = 0.5 * doa.DetectionLimit
	}

	req := multipartRequest(t, "/api/doa", map[string][]byte{
		"file": wavBytes(t, ssl),
	}, nil)

	var rep analysis.Report
	doJSON(t, env.server, req, 200, &rep)

	if rep.DOA == nil || rep.DOA.Status != "ok" {
		t.Fatalf("expected ok doa report, got %+v", rep.DOA)
	}
	if len(rep.DOA.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(rep.DOA.Blocks))
	}
	if d := rep.DOA.Blocks[0].MeanDeg; d < 89.9 || d > 90.1 {
		t.Errorf("expected mean near 90, got %f", d)
	}
}

func TestServer_DOAUploadNotWAV(t *testing.T) {
	env := setupTestServer(t)

	req := multipartRequest(t, "/api/doa", map[string][]byte{
		"file": []byte("not a wav file"),
	}, nil)

	doJSON(t, env.server, req, 400, nil)
}

func TestServer_Live(t *testing.T) {
	env := setupTestServer(t)

	var rep analysis.Report
	doJSON(t, env.server, httptest.NewRequest("POST", "/api/doa/live?duration=1200ms", nil), 200, &rep)

	if rep.DOA == nil {
		t.Fatal("expected doa report")
	}
	if rep.DOA.File != "live:mock" {
		t.Errorf("expected file live:mock, got %s", rep.DOA.File)
	}
	if rep.DOA.SampleRate != 100 {
		t.Errorf("expected sample rate 100, got %d", rep.DOA.SampleRate)
	}
}

func TestServer_LiveBadDuration(t *testing.T) {
	env := setupTestServer(t)

	for _, d := range []string{"soon", "-1s", "1h"} {
		doJSON(t, env.server, httptest.NewRequest("POST", "/api/doa/live?duration="+d, nil), 400, nil)
	}
}

func TestServer_Reports(t *testing.T) {
	env := setupTestServer(t)

	runner, err := analysis.NewRunner(analysis.Config{Workers: 1}, nil)
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}
	short := runner.DOABuffer("short.wav", audio.Mono(make([]float64, 100), testRate), 0)
	if err := env.store.Put(t.Context(), short); err != nil {
		t.Fatalf("failed to store report: %v", err)
	}

	var list struct {
		Count   int               `json:"count"`
		Reports []analysis.Report `json:"reports"`
	}
	doJSON(t, env.server, httptest.NewRequest("GET", "/api/reports?kind=doa", nil), 200, &list)
	if list.Count != 1 || list.Reports[0].ID != short.ID {
		t.Errorf("expected the stored report, got %+v", list)
	}

	doJSON(t, env.server, httptest.NewRequest("GET", "/api/reports?kind=quality", nil), 200, &list)
	if list.Count != 0 {
		t.Errorf("expected no quality reports, got %d", list.Count)
	}

	doJSON(t, env.server, httptest.NewRequest("GET", "/api/reports?kind=bogus", nil), 400, nil)

	var got analysis.Report
	doJSON(t, env.server, httptest.NewRequest("GET", "/api/reports/"+short.ID, nil), 200, &got)
	if got.File() != "short.wav" {
		t.Errorf("expected short.wav, got %s", got.File())
	}

	doJSON(t, env.server, httptest.NewRequest("GET", "/api/reports/missing", nil), 404, nil)
}

func TestServer_Stats(t *testing.T) {
	env := setupTestServer(t)

	if _, err := env.recorder.Record(t.Context(), 50*time.Millisecond); err != nil {
		t.Fatalf("failed to record: %v", err)
	}

	var stats doa.RecorderStats
	doJSON(t, env.server, httptest.NewRequest("GET", "/api/stats", nil), 200, &stats)

	if stats.PollCount == 0 {
		t.Error("expected non-zero poll count")
	}
	if !stats.SourceHealthy {
		t.Error("expected healthy source")
	}
}

func TestServer_Metrics(t *testing.T) {
	env := setupTestServer(t)
	env.server.Publish(env.server.deps.Runner.DOABuffer("x.wav", audio.Mono(make([]float64, 10), testRate), 0))

	resp, err := env.server.app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	bodyStr := string(body)

	expectedMetrics := []string{
		`soundcheck_reports_total{kind="doa",status="too_short"}`,
		"soundcheck_poll_count",
		"soundcheck_source_healthy",
		"soundcheck_uptime_seconds",
		"soundcheck_websocket_clients",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("expected metric %s in response", metric)
		}
	}
}

func TestServer_Config(t *testing.T) {
	env := setupTestServer(t)

	var result map[string]interface{}
	doJSON(t, env.server, httptest.NewRequest("GET", "/api/config", nil), 200, &result)

	serverCfg := result["server"].(map[string]interface{})
	if serverCfg["port"].(float64) != 9000 {
		t.Errorf("expected port 9000, got %v", serverCfg["port"])
	}

	capture := result["capture"].(map[string]interface{})
	if capture["source"] != "usb" {
		t.Errorf("expected capture source usb, got %v", capture["source"])
	}
}

func TestServer_Events_UpgradeRequired(t *testing.T) {
	env := setupTestServer(t)

	// Non-WebSocket request should get 426
	doJSON(t, env.server, httptest.NewRequest("GET", "/api/events", nil), 426, nil)
}

func TestServer_NoStore(t *testing.T) {
	server := New(config.ServerConfig{Port: 9000}, Deps{}, nil, "test")

	doJSON(t, server, httptest.NewRequest("GET", "/api/reports", nil), 503, nil)
	doJSON(t, server, httptest.NewRequest("POST", "/api/doa/live", nil), 503, nil)
	doJSON(t, server, httptest.NewRequest("GET", "/health", nil), 200, nil)
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	env := setupTestServer(t)

	req := httptest.NewRequest("GET", "/api/config", nil)
	req.Header.Set(RequestIDHeader, "abc")
	resp, err := env.server.app.Test(req, -1)
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	resp.Body.Close()

	if got := resp.Header.Get(RequestIDHeader); got != "abc" {
		t.Errorf("expected request id abc, got %q", got)
	}
}
