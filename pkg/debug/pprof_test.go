package debug

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return resp, body
}

func TestStartPprofServer(t *testing.T) {
	s, err := StartPprofServer("127.0.0.1:0", nil, quietLogger())
	if err != nil {
		t.Fatalf("StartPprofServer: %v", err)
	}
	defer s.Stop()

	resp, _ := get(t, "http://"+s.Addr()+"/debug/pprof/cmdline")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected pprof cmdline to be served, got %s", resp.Status)
	}
	resp, _ = get(t, "http://"+s.Addr()+TimingsPath)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected no timings without a recorder, got %s", resp.Status)
	}
}

func TestPprofServerServesTimings(t *testing.T) {
	rec := NewRecorder()
	rec.Observe(opCapture, 2*time.Millisecond)
	rec.Observe(opCapture, 4*time.Millisecond)

	s, err := StartPprofServer("127.0.0.1:0", rec, quietLogger())
	if err != nil {
		t.Fatalf("StartPprofServer: %v", err)
	}
	defer s.Stop()

	resp, body := get(t, "http://"+s.Addr()+TimingsPath)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %s", resp.Status)
	}
	var got []jsonTiming
	if err := jsoniter.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	want := []jsonTiming{{Name: opCapture, Count: 2, P50Ms: 2, P95Ms: 4, MaxMs: 4, TotalMs: 6}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("timings mismatch (-want +got):\n%s", diff)
	}

	// Later observations show up on the next request.
	rec.Observe(opRefresh, time.Millisecond)
	_, body = get(t, "http://"+s.Addr()+TimingsPath)
	if err := jsoniter.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if len(got) != 2 || got[1].Name != opRefresh {
		t.Fatalf("expected the refresh timing to appear, got %+v", got)
	}
}

func TestStartPprofServerBadAddress(t *testing.T) {
	if _, err := StartPprofServer("256.0.0.1:bad", nil, quietLogger()); err == nil {
		t.Fatal("expected an invalid address to fail")
	}
}
