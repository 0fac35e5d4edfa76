package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"":        LevelInfo,
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"verbose": LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLevel(input); got != want {
			t.Fatalf("ParseLevel(%q)=%v, want %v", input, got, want)
		}
	}
}

func TestLogWritesJSONAboveThreshold(t *testing.T) {
	var buf bytes.Buffer
	Logger().SetOutput(&buf)
	defer SetLevel(LevelWarn)

	SetLevel(LevelWarn)
	Log(LevelInfo, "hidden", nil)
	Log(LevelWarn, "corrupt blob", map[string]any{"key": "serviceHistory_Alice", "err": errors.New("bad json")})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["level"] != "warn" || entry["msg"] != "corrupt blob" || entry["err"] != "bad json" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestMetricsCountAndServe(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(dutyEnded.WithLabelValues("liveness"))
	DutyEnded("liveness")
	if got := testutil.ToFloat64(dutyEnded.WithLabelValues("liveness")); got != before+1 {
		t.Fatalf("dtt_duty_ended_total{reason=liveness}=%v, want %v", got, before+1)
	}

	MonitorStarted()
	MonitorStopped()
	if got := testutil.ToFloat64(livenessMonitors); got != 0 {
		t.Fatalf("dtt_liveness_monitors=%v, want 0", got)
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "dtt_duty_ended_total") {
		t.Fatal("metrics output misses dtt_duty_ended_total")
	}
}
