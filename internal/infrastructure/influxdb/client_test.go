package influxdb_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/spherolink/internal/infrastructure/config"
	"github.com/nerrad567/spherolink/internal/infrastructure/influxdb"
)

// fakeInflux answers /ping and records /api/v2/write bodies.
type fakeInflux struct {
	mu     sync.Mutex
	writes []string
	status int
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		f.mu.Lock()
		f.writes = append(f.writes, string(body))
		status := f.status
		f.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		w.WriteHeader(status)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) body() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "")
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "lab",
		Bucket:        "spherolink",
		BatchSize:     10,
		FlushInterval: 60,
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false
	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	if _, err := influxdb.Connect(testConfig("http://127.0.0.1:1")); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWriteSessionSample(t *testing.T) {
	fake := &fakeInflux{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.WriteSessionSample(influxdb.SessionSample{
		Toy: "SB-1234", Kind: "bolt", State: "connected",
		FramesRx: 42, Timeouts: 1,
	})
	client.Flush()

	body := fake.body()
	for _, want := range []string{"toy_session,", "toy=SB-1234", "kind=bolt", "frames_rx=42u", "timeouts=1u"} {
		if !strings.Contains(body, want) {
			t.Errorf("write body %q missing %q", body, want)
		}
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
	if err := client.HealthCheck(t.Context()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
	client.WriteSessionSample(influxdb.SessionSample{Toy: "after-close"})
	if strings.Contains(fake.body(), "after-close") {
		t.Error("sample written after Close")
	}
	if got := client.Queued(); got != 1 {
		t.Errorf("Queued() = %d, want 1", got)
	}
	if got := client.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestWriteErrorsReported(t *testing.T) {
	fake := &fakeInflux{status: http.StatusBadRequest}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	client, err := influxdb.Connect(testConfig(srv.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	errs := make(chan error, 4)
	client.SetOnError(func(err error) { errs <- err })
	client.WriteSessionSample(influxdb.SessionSample{Toy: "SM-1", Kind: "mini", State: "connected"})
	client.Flush()

	select {
	case err := <-errs:
		if !errors.Is(err, influxdb.ErrWriteFailed) {
			t.Errorf("error = %v, want ErrWriteFailed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no write error reported")
	}
}

func TestNewSessionPoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p := influxdb.NewSessionPoint(influxdb.SessionSample{
		Toy: "RV-1", Kind: "rvr", State: "disconnected",
		Connects: 2, LinkLosses: 1, Pending: 0, EventsDropped: 3,
	}, at)

	line := write.PointToLineProtocol(p, time.Second)
	for _, want := range []string{
		"toy_session,kind=rvr,state=disconnected,toy=RV-1 ",
		"connects=2u", "link_losses=1u", "events_dropped=3u", "pending=0i",
		" 1700000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
}
