package riskconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinPresetsAreValid(t *testing.T) {
	p, err := LoadPresets("")
	if err != nil {
		t.Fatalf("builtin presets failed validation: %v", err)
	}

	for _, name := range []string{PresetConservative, PresetStandard, PresetAggressive} {
		if _, ok := p.Get(name); !ok {
			t.Errorf("builtin preset %q missing", name)
		}
	}

	std, _ := p.Get(PresetStandard)
	if std.StopLoss.Mode != StopLaddered || len(std.StopLoss.Rungs) != 3 {
		t.Fatalf("standard preset shape changed: %+v", std.StopLoss)
	}
}

func TestLoadPresetsFileOverridesAndAdds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "presets.yaml")
	yaml := `
standard:
  stop_loss:
    mode: simple
    trigger_pct: -1.5
scalp:
  stop_loss:
    mode: simple
    trigger_pct: -0.5
  profit_taking:
    enabled: true
    targets:
      - trigger_pct: 1
        exit_pct: 100
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write presets file: %v", err)
	}

	p, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}

	// File entry overrides the builtin of the same name.
	std, ok := p.Get("standard")
	if !ok {
		t.Fatal("standard preset missing after override")
	}
	if std.StopLoss.Mode != StopSimple || std.StopLoss.TriggerPct != -1.5 {
		t.Fatalf("override not applied: %+v", std.StopLoss)
	}

	// New entry added alongside the builtins.
	if _, ok := p.Get("scalp"); !ok {
		t.Fatal("scalp preset missing")
	}
	if _, ok := p.Get(PresetAggressive); !ok {
		t.Fatal("untouched builtin lost during merge")
	}
}

func TestLoadPresetsRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	yaml := `
broken:
  stop_loss:
    mode: simple
    trigger_pct: 2
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write presets file: %v", err)
	}

	if _, err := LoadPresets(path); err == nil {
		t.Fatal("invalid preset file accepted")
	}

	if _, err := LoadPresets(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("missing preset file accepted")
	}
}

func TestPresetsNamesSorted(t *testing.T) {
	p, err := LoadPresets("")
	if err != nil {
		t.Fatalf("LoadPresets: %v", err)
	}
	names := p.Names()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
}
