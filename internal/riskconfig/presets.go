package riskconfig

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"dealdesk/internal/model"
)

// Builtin preset names.
const (
	PresetConservative = "conservative"
	PresetStandard     = "standard"
	PresetAggressive   = "aggressive"
)

// builtinPresets are the default policy bundles shipped with the engine.
// A YAML preset file may add to or override these.
func builtinPresets() map[string]RiskConfig {
	return map[string]RiskConfig{
		PresetConservative: {
			StopLoss: StopLoss{Mode: StopSimple, TriggerPct: -2},
			ProfitTaking: ProfitTaking{
				Enabled: true,
				Targets: []Rung{{TriggerPct: 5, ExitPct: 100}},
			},
			Execution: Execution{OrderType: model.OrderTypeMarket},
		},
		PresetStandard: {
			StopLoss: StopLoss{
				Mode: StopLaddered,
				Rungs: []Rung{
					{TriggerPct: -2, ExitPct: 33},
					{TriggerPct: -4, ExitPct: 50},
					{TriggerPct: -6, ExitPct: 100},
				},
			},
			ProfitTaking: ProfitTaking{
				Enabled: true,
				Targets: []Rung{
					{TriggerPct: 5, ExitPct: 33},
					{TriggerPct: 10, ExitPct: 50},
				},
				Trailing: &Trailing{ActivationPct: 5, TrailPct: 3},
			},
			Execution: Execution{OrderType: model.OrderTypeLimit, LimitOffsetBps: 10},
		},
		PresetAggressive: {
			StopLoss: StopLoss{Mode: StopSimple, TriggerPct: -8},
			ProfitTaking: ProfitTaking{
				Enabled:  true,
				Trailing: &Trailing{ActivationPct: 10, TrailPct: 5},
			},
			Execution: Execution{OrderType: model.OrderTypeMarket},
		},
	}
}

// Presets holds named RiskConfig bundles.
type Presets struct {
	byName map[string]RiskConfig
}

// LoadPresets returns the builtin presets, merged with the YAML file at path
// when path is non-empty. File entries override builtins of the same name.
// Every preset is validated; a bad preset fails the whole load.
func LoadPresets(path string) (*Presets, error) {
	merged := builtinPresets()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("presets: read %s: %w", path, err)
		}
		var fromFile map[string]RiskConfig
		if err := yaml.Unmarshal(raw, &fromFile); err != nil {
			return nil, fmt.Errorf("presets: parse %s: %w", path, err)
		}
		for name, cfg := range fromFile {
			merged[name] = cfg
		}
	}

	for name, cfg := range merged {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("presets: %q: %w", name, err)
		}
	}

	return &Presets{byName: merged}, nil
}

// Get returns the preset with the given name.
func (p *Presets) Get(name string) (RiskConfig, bool) {
	cfg, ok := p.byName[name]
	return cfg, ok
}

// All returns a copy of every preset keyed by name.
func (p *Presets) All() map[string]RiskConfig {
	out := make(map[string]RiskConfig, len(p.byName))
	for n, cfg := range p.byName {
		out[n] = cfg
	}
	return out
}

// Names returns all preset names, sorted.
func (p *Presets) Names() []string {
	names := make([]string, 0, len(p.byName))
	for n := range p.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
