package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tiger/agent-slo-pipeline/api/slo"
)

// windowSpec carries durations as strings ("5m", "1h") so operators can
// write them the way Go parses them.
type windowSpec struct {
	Duration      string  `yaml:"duration"`
	BurnThreshold float64 `yaml:"burn_threshold"`
}

func (w windowSpec) toWindow() (slo.AlertWindow, error) {
	d, err := time.ParseDuration(w.Duration)
	if err != nil {
		return slo.AlertWindow{}, fmt.Errorf("duration %q: %w", w.Duration, err)
	}
	return slo.AlertWindow{Duration: d, BurnThreshold: w.BurnThreshold}, nil
}

type alertSpec struct {
	AlertID      string  `yaml:"alert_id"`
	SLOObjective float64 `yaml:"slo_objective"`
	SLIID        string  `yaml:"sli_id"`
	Windows      struct {
		Fast    windowSpec `yaml:"fast"`
		Confirm windowSpec `yaml:"confirm"`
	} `yaml:"windows"`
	MinTraffic  float64 `yaml:"min_traffic"`
	RoutingMode string  `yaml:"routing_mode"`
}

type alertFile struct {
	Alerts []alertSpec `yaml:"alerts"`
}

type actionFile struct {
	Actions []slo.ActionPolicy `yaml:"actions"`
}

// LoadAlertConfigs reads and validates burn-rate alert definitions.
// Duplicate alert IDs are a configuration error.
func LoadAlertConfigs(path string) ([]slo.AlertConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alert config: %w", err)
	}
	var file alertFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse alert config: %w", err)
	}

	seen := map[string]bool{}
	configs := make([]slo.AlertConfig, 0, len(file.Alerts))
	for i, spec := range file.Alerts {
		fast, err := spec.Windows.Fast.toWindow()
		if err != nil {
			return nil, fmt.Errorf("alert %d: fast window: %w", i, err)
		}
		confirm, err := spec.Windows.Confirm.toWindow()
		if err != nil {
			return nil, fmt.Errorf("alert %d: confirm window: %w", i, err)
		}
		cfg := slo.AlertConfig{
			AlertID:      spec.AlertID,
			SLOObjective: spec.SLOObjective,
			SLIID:        spec.SLIID,
			Windows:      slo.AlertWindows{Fast: fast, Confirm: confirm},
			MinTraffic:   spec.MinTraffic,
			RoutingMode:  slo.RoutingMode(spec.RoutingMode),
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("alert %d: %w", i, err)
		}
		if seen[cfg.AlertID] {
			return nil, fmt.Errorf("alert %d: duplicate alert_id %q", i, cfg.AlertID)
		}
		seen[cfg.AlertID] = true
		configs = append(configs, cfg)
	}
	return configs, nil
}

// LoadActionPolicies reads and validates prevent-first action policies.
func LoadActionPolicies(path string) ([]slo.ActionPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read action config: %w", err)
	}
	var file actionFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse action config: %w", err)
	}
	seen := map[string]bool{}
	for i, action := range file.Actions {
		if err := action.Validate(); err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		if seen[action.ActionID] {
			return nil, fmt.Errorf("action %d: duplicate action_id %q", i, action.ActionID)
		}
		seen[action.ActionID] = true
	}
	return file.Actions, nil
}
