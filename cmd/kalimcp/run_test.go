package main

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jkaninda/kalimcp/internal/sandbox"
)

func TestResultViewJSON(t *testing.T) {
	code := 0
	result := &sandbox.ExecutionResult{
		RequestID:  "req-1",
		Tool:       "nmap",
		Stdout:     "open ports\n",
		ReturnCode: &code,
		Duration:   1500 * time.Millisecond,
		Outcome:    sandbox.OutcomeSuccess,
	}

	out, err := json.Marshal(resultView(result))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var view map[string]any
	if err := json.Unmarshal(out, &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view["duration_ms"] != float64(1500) {
		t.Errorf("duration_ms = %v, want 1500", view["duration_ms"])
	}
	if view["outcome"] != "success" {
		t.Errorf("outcome = %v, want success", view["outcome"])
	}
	if view["return_code"] != float64(0) {
		t.Errorf("return_code = %v, want 0", view["return_code"])
	}
}

func TestResultViewOmitsSpawnError(t *testing.T) {
	result := &sandbox.ExecutionResult{
		RequestID:  "req-2",
		Tool:       "whois",
		Outcome:    sandbox.OutcomeSpawnFailed,
		SpawnError: "fork/exec /usr/bin/whois: permission denied",
	}

	out, err := json.Marshal(resultView(result))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(out), "permission denied") {
		t.Errorf("view leaks raw spawn error: %s", out)
	}
	if strings.Contains(string(out), "spawn_error") {
		t.Errorf("view carries spawn_error field: %s", out)
	}

	var view map[string]any
	if err := json.Unmarshal(out, &view); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if view["return_code"] != nil {
		t.Errorf("return_code = %v, want null", view["return_code"])
	}
}
