package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tiger/agent-slo-pipeline/api/slo"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if !cfg.CollectorEnabled {
		t.Fatalf("collector disabled by default")
	}
	if cfg.QueueCapacity != 1024 || cfg.Workers != 4 || cfg.ExportTimeoutMS != 200 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestFromEnvOverridesAndErrors(t *testing.T) {
	t.Setenv(EnvCollectorEnabled, "false")
	t.Setenv(EnvCollectorQueueCapacity, "64")
	t.Setenv(EnvCollectorWorkers, "2")
	t.Setenv(EnvExportOTLPHTTPEndpoint, "http://collector.internal:4318")
	t.Setenv(EnvReceiptSigningKey, "a1b2c3")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.CollectorEnabled || cfg.QueueCapacity != 64 || cfg.Workers != 2 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.OTLPHTTPEndpoint != "http://collector.internal:4318" {
		t.Fatalf("endpoint = %q", cfg.OTLPHTTPEndpoint)
	}
	if cfg.ReceiptSigningKey != "a1b2c3" {
		t.Fatalf("signing key = %q", cfg.ReceiptSigningKey)
	}

	t.Setenv(EnvCollectorWorkers, "zero")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("non-integer worker count accepted")
	}
	t.Setenv(EnvCollectorWorkers, "0")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("zero worker count accepted")
	}
}

func TestLoadAlertConfigs(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "alerts.yaml")
	content := `alerts:
  - alert_id: alert-decision-success
    slo_objective: 0.99
    sli_id: sli-a-decision-success
    windows:
      fast:
        duration: 5m
        burn_threshold: 14.4
      confirm:
        duration: 1h
        burn_threshold: 6
    min_traffic: 10
  - alert_id: alert-latency
    slo_objective: 0.95
    sli_id: sli-b-latency
    windows:
      fast:
        duration: 10m
        burn_threshold: 10
      confirm:
        duration: 2h
        burn_threshold: 4
    min_traffic: 25
    routing_mode: page
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	configs, err := LoadAlertConfigs(path)
	if err != nil {
		t.Fatalf("LoadAlertConfigs: %v", err)
	}
	if len(configs) != 2 {
		t.Fatalf("loaded %d configs, want 2", len(configs))
	}
	first := configs[0]
	if first.Windows.Fast.Duration != 5*time.Minute || first.Windows.Confirm.Duration != time.Hour {
		t.Fatalf("window durations = %+v", first.Windows)
	}
	if first.RoutingMode != slo.RouteTicket {
		t.Fatalf("routing default = %q, want ticket", first.RoutingMode)
	}
	if configs[1].RoutingMode != slo.RoutePage {
		t.Fatalf("explicit routing = %q, want page", configs[1].RoutingMode)
	}
}

func TestLoadAlertConfigsRejectsDuplicatesAndBadWindows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	dup := filepath.Join(dir, "dup.yaml")
	dupContent := `alerts:
  - alert_id: alert-a
    slo_objective: 0.99
    sli_id: sli-a-decision-success
    windows:
      fast: {duration: 5m, burn_threshold: 14.4}
      confirm: {duration: 1h, burn_threshold: 6}
  - alert_id: alert-a
    slo_objective: 0.99
    sli_id: sli-a-decision-success
    windows:
      fast: {duration: 5m, burn_threshold: 14.4}
      confirm: {duration: 1h, burn_threshold: 6}
`
	if err := os.WriteFile(dup, []byte(dupContent), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadAlertConfigs(dup); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("duplicate alert_id err = %v", err)
	}

	inverted := filepath.Join(dir, "inverted.yaml")
	invertedContent := `alerts:
  - alert_id: alert-a
    slo_objective: 0.99
    sli_id: sli-a-decision-success
    windows:
      fast: {duration: 1h, burn_threshold: 14.4}
      confirm: {duration: 5m, burn_threshold: 6}
`
	if err := os.WriteFile(inverted, []byte(invertedContent), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadAlertConfigs(inverted); err == nil {
		t.Fatalf("confirm shorter than fast accepted")
	}
}

func TestLoadActionPolicies(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "actions.yaml")
	content := `actions:
  - action_id: act-throttle-background
    action_type: throttle
    confidence_gate:
      min_confidence: 0.8
    policy_authorization_required: true
  - action_id: act-prewarm-cache
    action_type: prewarm
    enabled: true
    confidence_gate:
      min_confidence: 0.9
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	actions, err := LoadActionPolicies(path)
	if err != nil {
		t.Fatalf("LoadActionPolicies: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("loaded %d actions, want 2", len(actions))
	}
	if actions[0].Enabled {
		t.Fatalf("enabled must default to false")
	}
	if !actions[1].Enabled {
		t.Fatalf("explicit enabled flag lost")
	}
}
