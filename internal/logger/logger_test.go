package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	l.Info().Msg("hidden")
	l.Warn().Msg("shown")

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["message"] != "shown" || lines[0]["service"] != "docrev" {
		t.Errorf("unexpected line %v", lines[0])
	}
}

func TestUnknownLevel(t *testing.T) {
	if _, err := New(Config{Level: "loud"}); err == nil {
		t.Error("expected an error for an unknown level")
	}
}

func TestStructuredHelpers(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "debug", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	l.GrpcLogger("/docrev.v1.VersionService/CreateVersion").LogGrpcRequest("OK", 3*time.Millisecond, nil)
	l.GrpcLogger("/docrev.v1.VersionService/LockDocument").LogGrpcRequest("FailedPrecondition", time.Millisecond, errors.New("lock conflict"))
	l.DbLogger("sweep_retention").LogDbOperation(time.Millisecond, 2, nil)
	l.Component("engine").Info().Msg("tagged")

	lines := decodeLines(t, &buf)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d", len(lines))
	}
	if lines[0]["level"] != "info" || lines[0]["code"] != "OK" || lines[0]["component"] != "grpc" ||
		lines[0]["method"] != "/docrev.v1.VersionService/CreateVersion" {
		t.Errorf("unexpected success line %v", lines[0])
	}
	if lines[1]["level"] != "error" || lines[1]["error"] != "lock conflict" {
		t.Errorf("unexpected failure line %v", lines[1])
	}
	if lines[2]["record_count"] != float64(2) || lines[2]["operation"] != "sweep_retention" ||
		lines[2]["component"] != "database" {
		t.Errorf("unexpected db line %v", lines[2])
	}
	if lines[3]["component"] != "engine" {
		t.Errorf("unexpected component line %v", lines[3])
	}
}
