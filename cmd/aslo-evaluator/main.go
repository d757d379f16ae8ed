package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tiger/agent-slo-pipeline/api/governance"
	"github.com/tiger/agent-slo-pipeline/api/slo"
	"github.com/tiger/agent-slo-pipeline/api/telemetry"
	"github.com/tiger/agent-slo-pipeline/internal/burnrate"
	"github.com/tiger/agent-slo-pipeline/internal/config"
	"github.com/tiger/agent-slo-pipeline/internal/export"
	"github.com/tiger/agent-slo-pipeline/internal/forecast"
	"github.com/tiger/agent-slo-pipeline/internal/prevent"
	"github.com/tiger/agent-slo-pipeline/internal/receipt"
	"github.com/tiger/agent-slo-pipeline/internal/sli"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr, time.Now); err != nil {
		fmt.Fprintf(os.Stderr, "aslo-evaluator: %v\n", err)
		os.Exit(1)
	}
}

// evaluationReport is the one-shot evaluation artifact.
type evaluationReport struct {
	EvaluatedAtUTC string               `json:"evaluated_at_utc"`
	EventsRead     int                  `json:"events_read"`
	Indicators     []slo.SLIValue       `json:"indicators"`
	Alerts         []slo.AlertEvent     `json:"alerts,omitempty"`
	Forecasts      []slo.ForecastSignal `json:"forecasts,omitempty"`
	Receipts       []governance.Receipt `json:"receipts,omitempty"`
}

func run(args []string, stdout, stderr io.Writer, now func() time.Time) error {
	if len(args) > 0 {
		switch args[0] {
		case "help", "-h", "--help":
			printUsage(stdout)
			return nil
		case "verify-ledger":
			return verifyLedger(args[1:], stdout)
		case "evaluate":
			args = args[1:]
		}
	}
	return evaluate(args, stdout, stderr, now)
}

func evaluate(args []string, stdout, stderr io.Writer, now func() time.Time) error {
	envCfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("aslo-evaluator", flag.ContinueOnError)
	eventsPath := fs.String("events", envCfg.JSONLPath, "collector JSONL export to evaluate")
	alertsPath := fs.String("alerts", envCfg.AlertConfigPath, "burn-rate alert definitions (YAML)")
	actionsPath := fs.String("actions", envCfg.ActionConfigPath, "prevent-first action policies (YAML)")
	ledgerDir := fs.String("ledger", envCfg.ReceiptLedgerDir, "receipt ledger directory")
	signingKey := fs.String("signing-key", envCfg.ReceiptSigningKey, "hex ed25519 receipt signing key (seed or full key)")
	reportPath := fs.String("report", "", "write the evaluation report to this path instead of stdout")
	asOf := fs.String("as-of", "", "evaluate as of this RFC3339 instant (default now)")
	interval := fs.Duration("interval", 0, "re-evaluate on this period instead of one-shot")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *eventsPath == "" {
		return fmt.Errorf("an events file is required (-events or %s)", config.EnvExportJSONLPath)
	}
	if *alertsPath == "" {
		return fmt.Errorf("an alert config is required (-alerts or %s)", config.EnvAlertConfigPath)
	}

	alerts, err := config.LoadAlertConfigs(*alertsPath)
	if err != nil {
		return err
	}

	// evalEnd advances per tick; the engines close over it so dedup and
	// firing state carry across evaluations.
	evalEnd := now().UTC()
	if *asOf != "" {
		parsed, err := time.Parse(time.RFC3339, *asOf)
		if err != nil {
			return fmt.Errorf("parse -as-of: %w", err)
		}
		evalEnd = parsed.UTC()
	}

	calculator := sli.NewCalculator(sli.DefaultConfig())
	engine := burnrate.NewEngine(burnrate.Config{
		Store:    buildDedupStore(envCfg.RedisAddr),
		Cooldown: time.Duration(envCfg.AlertCooldownMS) * time.Millisecond,
		Now:      func() time.Time { return evalEnd },
	})
	forecaster := forecast.NewEngine(forecast.Config{Now: func() time.Time { return evalEnd }})

	var actions *prevent.Engine
	if *actionsPath != "" {
		actions, err = buildActionEngine(*ledgerDir, *signingKey, stderr, func() time.Time { return evalEnd })
		if err != nil {
			return err
		}
	}

	tick := func() error {
		events, err := export.ReadJSONLEvents(*eventsPath)
		if err != nil {
			return err
		}

		report := evaluationReport{
			EvaluatedAtUTC: evalEnd.Format(time.RFC3339Nano),
			EventsRead:     len(events),
		}
		var signals []slo.ForecastSignal

		for _, alert := range alerts {
			fastWindow := sli.Window{Start: evalEnd.Add(-alert.Windows.Fast.Duration), End: evalEnd}
			confirmWindow := sli.Window{Start: evalEnd.Add(-alert.Windows.Confirm.Duration), End: evalEnd}

			fast, err := calculator.Compute(alert.SLIID, events, fastWindow)
			if err != nil {
				return fmt.Errorf("alert %s: %w", alert.AlertID, err)
			}
			confirm, err := calculator.Compute(alert.SLIID, events, confirmWindow)
			if err != nil {
				return fmt.Errorf("alert %s: %w", alert.AlertID, err)
			}
			report.Indicators = append(report.Indicators, fast, confirm)

			event, err := engine.Evaluate(context.Background(), alert, "", fast, confirm)
			if err != nil {
				return fmt.Errorf("alert %s: %w", alert.AlertID, err)
			}
			if event != nil {
				report.Alerts = append(report.Alerts, *event)
			}

			signal, err := forecastAlert(forecaster, calculator, alert, events, evalEnd)
			if err != nil {
				return fmt.Errorf("alert %s forecast: %w", alert.AlertID, err)
			}
			if signal != nil {
				signals = append(signals, *signal)
			}
		}
		report.Forecasts = signals

		if actions != nil && len(signals) > 0 {
			receipts, err := runActions(actions, *actionsPath, signals)
			if err != nil {
				return err
			}
			report.Receipts = receipts
		}

		return writeReport(report, *reportPath, stdout)
	}

	if *interval <= 0 {
		return tick()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := tick(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			evalEnd = now().UTC()
		}
	}
}

// forecastAlert samples the SLI at fast-window steps across the confirm
// window and extrapolates the trend.
func forecastAlert(engine *forecast.Engine, calculator sli.Calculator, alert slo.AlertConfig, events []telemetry.Event, evalEnd time.Time) (*slo.ForecastSignal, error) {
	step := alert.Windows.Fast.Duration
	span := alert.Windows.Confirm.Duration
	var samples []forecast.Sample
	for at := evalEnd.Add(-span).Add(step); !at.After(evalEnd); at = at.Add(step) {
		window := sli.Window{Start: at.Add(-step), End: at}
		value, err := calculator.Compute(alert.SLIID, events, window)
		if err != nil {
			return nil, err
		}
		if value.InsufficientData {
			continue
		}
		samples = append(samples, forecast.Sample{At: at, Value: value.Value})
	}

	signal, err := engine.Forecast(alert.SLIID, alert.SLOObjective, samples)
	if err != nil {
		if errors.Is(err, forecast.ErrInsufficientSamples) {
			return nil, nil
		}
		return nil, err
	}
	return signal, nil
}

// buildDedupStore returns the shared Redis dedup backend when an address
// is configured, or nil so the engine falls back to its in-memory store.
func buildDedupStore(redisAddr string) burnrate.DedupStore {
	if redisAddr == "" {
		return nil
	}
	return burnrate.NewRedisDedupStore(redis.NewClient(&redis.Options{Addr: redisAddr}), "")
}

// buildActionEngine wires the signing key and per-actor ledger for the
// gated action engine. With no configured key an ephemeral keypair is
// minted and its public key announced, so the ledger stays verifiable
// after the process exits.
func buildActionEngine(ledgerDir, signingKey string, stderr io.Writer, now func() time.Time) (*prevent.Engine, error) {
	if ledgerDir == "" {
		return nil, fmt.Errorf("a ledger directory is required when actions are configured (-ledger or %s)", config.EnvReceiptLedgerDir)
	}
	var signer *receipt.Signer
	if signingKey != "" {
		private, err := receipt.ParsePrivateKey(signingKey)
		if err != nil {
			return nil, err
		}
		signer, err = receipt.NewSigner(private)
		if err != nil {
			return nil, err
		}
	} else {
		generated, err := receipt.GenerateSigner()
		if err != nil {
			return nil, err
		}
		signer = generated
		_, _ = fmt.Fprintf(stderr, "aslo-evaluator: no signing key configured (-signing-key or %s); minted ephemeral key, public key %s\n",
			config.EnvReceiptSigningKey, signer.PublicKeyHex())
	}
	ledger, err := receipt.NewLedger(ledgerDir, signer.PublicKey())
	if err != nil {
		return nil, err
	}
	return prevent.NewEngine(prevent.Config{
		Signer: signer,
		Ledger: ledger,
		Now:    now,
	})
}

// runActions pushes every forecast signal through the gated action
// engine and returns the signed receipts.
func runActions(engine *prevent.Engine, actionsPath string, signals []slo.ForecastSignal) ([]governance.Receipt, error) {
	actions, err := config.LoadActionPolicies(actionsPath)
	if err != nil {
		return nil, err
	}
	var receipts []governance.Receipt
	for _, signal := range signals {
		for _, action := range actions {
			rec, err := engine.Invoke(context.Background(), action, signal)
			if err != nil {
				return nil, err
			}
			receipts = append(receipts, rec)
		}
	}
	return receipts, nil
}

func verifyLedger(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("aslo-evaluator verify-ledger", flag.ContinueOnError)
	ledgerDir := fs.String("ledger", os.Getenv(config.EnvReceiptLedgerDir), "receipt ledger directory")
	keyHex := fs.String("public-key", "", "hex-encoded ed25519 public key")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *ledgerDir == "" || *keyHex == "" {
		return fmt.Errorf("verify-ledger requires -ledger and -public-key")
	}

	public, err := receipt.ParsePublicKey(*keyHex)
	if err != nil {
		return err
	}
	ledger, err := receipt.NewLedger(*ledgerDir, public)
	if err != nil {
		return err
	}
	actors, err := ledger.Actors()
	if err != nil {
		return err
	}
	for _, actor := range actors {
		verified, err := ledger.VerifyLedger(actor)
		if err != nil {
			return fmt.Errorf("actor %s: %w", actor, err)
		}
		anchor, err := ledger.AnchorHash(actor)
		if err != nil {
			return fmt.Errorf("actor %s: %w", actor, err)
		}
		_, _ = fmt.Fprintf(stdout, "%s: %d receipts verified, anchor %s\n", actor, verified, anchor)
	}
	return nil
}

func writeReport(report evaluationReport, path string, stdout io.Writer) error {
	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	encoded = append(encoded, '\n')
	if path == "" {
		_, err := stdout.Write(encoded)
		return err
	}
	if err := os.WriteFile(path, encoded, 0o600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "aslo-evaluator usage:")
	_, _ = fmt.Fprintln(w, "  aslo-evaluator [evaluate] -events events.jsonl -alerts alerts.yaml [-actions actions.yaml -ledger dir -signing-key hex] [-as-of RFC3339] [-interval 1m] [-report out.json]")
	_, _ = fmt.Fprintln(w, "  aslo-evaluator verify-ledger -ledger dir -public-key hex")
}
