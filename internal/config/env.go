package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// EnvCollectorEnabled toggles event intake entirely.
	EnvCollectorEnabled = "ASLO_COLLECTOR_ENABLED"
	// EnvCollectorListenAddr sets the collector listen address.
	EnvCollectorListenAddr = "ASLO_COLLECTOR_LISTEN_ADDR"
	// EnvCollectorQueueCapacity sets the bounded intake queue size.
	EnvCollectorQueueCapacity = "ASLO_COLLECTOR_QUEUE_CAPACITY"
	// EnvCollectorWorkers sets the processing worker count.
	EnvCollectorWorkers = "ASLO_COLLECTOR_WORKERS"
	// EnvExportOTLPHTTPEndpoint sets the OTLP/HTTP export base URL.
	EnvExportOTLPHTTPEndpoint = "ASLO_EXPORT_OTLP_HTTP_ENDPOINT"
	// EnvExportJSONLPath sets the JSONL export file path.
	EnvExportJSONLPath = "ASLO_EXPORT_JSONL_PATH"
	// EnvExportTimeoutMS sets the per-event export timeout in milliseconds.
	EnvExportTimeoutMS = "ASLO_EXPORT_TIMEOUT_MS"
	// EnvRedisAddr enables the shared alert dedup store when set.
	EnvRedisAddr = "ASLO_REDIS_ADDR"
	// EnvAlertConfigPath points at the YAML burn-rate alert definitions.
	EnvAlertConfigPath = "ASLO_ALERT_CONFIG_PATH"
	// EnvActionConfigPath points at the YAML prevent-first action policies.
	EnvActionConfigPath = "ASLO_ACTION_CONFIG_PATH"
	// EnvReceiptLedgerDir sets the receipt ledger directory.
	EnvReceiptLedgerDir = "ASLO_RECEIPT_LEDGER_DIR"
	// EnvReceiptSigningKey holds the hex ed25519 receipt signing key. When
	// unset the evaluator mints an ephemeral keypair per process.
	EnvReceiptSigningKey = "ASLO_RECEIPT_SIGNING_KEY"
	// EnvAlertCooldownMS sets the alert dedup cool-down in milliseconds.
	EnvAlertCooldownMS = "ASLO_ALERT_COOLDOWN_MS"
)

// Runtime captures env-configured pipeline settings.
type Runtime struct {
	CollectorEnabled  bool
	ListenAddr        string
	QueueCapacity     int
	Workers           int
	OTLPHTTPEndpoint  string
	JSONLPath         string
	ExportTimeoutMS   int
	RedisAddr         string
	AlertConfigPath   string
	ActionConfigPath  string
	ReceiptLedgerDir  string
	ReceiptSigningKey string
	AlertCooldownMS   int
}

// FromEnv parses runtime config from the process environment.
func FromEnv() (Runtime, error) {
	cfg := Runtime{
		CollectorEnabled:  true,
		ListenAddr:        ":8443",
		QueueCapacity:     1024,
		Workers:           4,
		OTLPHTTPEndpoint:  strings.TrimSpace(os.Getenv(EnvExportOTLPHTTPEndpoint)),
		JSONLPath:         strings.TrimSpace(os.Getenv(EnvExportJSONLPath)),
		ExportTimeoutMS:   200,
		RedisAddr:         strings.TrimSpace(os.Getenv(EnvRedisAddr)),
		AlertConfigPath:   strings.TrimSpace(os.Getenv(EnvAlertConfigPath)),
		ActionConfigPath:  strings.TrimSpace(os.Getenv(EnvActionConfigPath)),
		ReceiptLedgerDir:  strings.TrimSpace(os.Getenv(EnvReceiptLedgerDir)),
		ReceiptSigningKey: strings.TrimSpace(os.Getenv(EnvReceiptSigningKey)),
		AlertCooldownMS:   15 * 60 * 1000,
	}

	if raw := strings.TrimSpace(os.Getenv(EnvCollectorEnabled)); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return Runtime{}, fmt.Errorf("%s parse error: %w", EnvCollectorEnabled, err)
		}
		cfg.CollectorEnabled = enabled
	}
	if raw := strings.TrimSpace(os.Getenv(EnvCollectorListenAddr)); raw != "" {
		cfg.ListenAddr = raw
	}

	intVars := []struct {
		key string
		dst *int
	}{
		{EnvCollectorQueueCapacity, &cfg.QueueCapacity},
		{EnvCollectorWorkers, &cfg.Workers},
		{EnvExportTimeoutMS, &cfg.ExportTimeoutMS},
		{EnvAlertCooldownMS, &cfg.AlertCooldownMS},
	}
	for _, v := range intVars {
		raw := strings.TrimSpace(os.Getenv(v.key))
		if raw == "" {
			continue
		}
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return Runtime{}, fmt.Errorf("%s must be integer >=1", v.key)
		}
		*v.dst = parsed
	}

	return cfg, nil
}
