package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/tiger/agent-slo-pipeline/api/telemetry"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestRunHelp(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	if err := run([]string{"--help"}, &stdout, &bytes.Buffer{}, fixedNow); err != nil {
		t.Fatalf("unexpected help error: %v", err)
	}
	if !strings.Contains(stdout.String(), "aslo-collector usage") {
		t.Fatalf("expected usage output, got %q", stdout.String())
	}
}

func TestRunSchemasListsEveryEventType(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	if err := run([]string{"schemas"}, &stdout, &bytes.Buffer{}, fixedNow); err != nil {
		t.Fatalf("unexpected schemas error: %v", err)
	}
	for _, eventType := range telemetry.EventTypes() {
		if !strings.Contains(stdout.String(), eventType) {
			t.Fatalf("schemas output missing %s:\n%s", eventType, stdout.String())
		}
	}
}

func TestServeRespectsDisabledCollector(t *testing.T) {
	t.Setenv("ASLO_COLLECTOR_ENABLED", "false")

	var stdout bytes.Buffer
	if err := run(nil, &stdout, &bytes.Buffer{}, fixedNow); err != nil {
		t.Fatalf("unexpected error with intake disabled: %v", err)
	}
	if !strings.Contains(stdout.String(), "intake disabled") {
		t.Fatalf("expected disabled notice, got %q", stdout.String())
	}
}
