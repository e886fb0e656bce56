package config

import (
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MinimumCount != 5 {
		t.Errorf("MinimumCount = %d, want 5", cfg.MinimumCount)
	}
	if !reflect.DeepEqual(cfg.Prefixes, []string{"Q"}) {
		t.Errorf("Prefixes = %v, want [Q]", cfg.Prefixes)
	}
	if cfg.WeightColumn != "weight" {
		t.Errorf("WeightColumn = %q, want weight", cfg.WeightColumn)
	}
	if cfg.Ranking == "" || cfg.Grid == "" {
		t.Errorf("patterns missing: %+v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	want := &Global{
		MinimumCount: 10,
		Prefixes:     []string{"Q", "F"},
		WeightColumn: "w",
	}
	if err := Save(want, path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.MinimumCount != 10 || got.WeightColumn != "w" {
		t.Errorf("got %+v", got)
	}
	if !reflect.DeepEqual(got.Prefixes, []string{"Q", "F"}) {
		t.Errorf("Prefixes = %v", got.Prefixes)
	}
}

func TestLoadSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	doc := `
nan_values:
  "99": null
  "999": null
  "98": 3
minimum_count: 7
weighting:
  dimensions:
    - column: region
      targets:
        North: 500
        South: 500
  tolerance: 0.001
categories:
  - name: Region
    type: column
    column: region
question_filters:
  Q5: "screener == 1"
areas:
  - name: Service
    questions: [Q1, Q2]
correlate_area: Service
scale: [0, 100]
metadata:
  Q1:
    label: "Overall satisfaction"
    values:
      "1": "Yes"
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	g, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s, err := LoadSpec(path, g)
	if err != nil {
		t.Fatalf("LoadSpec: %v", err)
	}

	if s.MinimumCount != 7 {
		t.Errorf("MinimumCount = %d, want 7", s.MinimumCount)
	}
	// Unset fields fall back to global defaults.
	if !reflect.DeepEqual(s.Prefixes, []string{"Q"}) {
		t.Errorf("Prefixes = %v, want [Q]", s.Prefixes)
	}
	if s.WeightColumn != "weight" {
		t.Errorf("WeightColumn = %q", s.WeightColumn)
	}

	// Codes with a concrete replacement are substitutions, not missing values.
	codes := s.NaNCodes()
	sort.Float64s(codes)
	if !reflect.DeepEqual(codes, []float64{99, 999}) {
		t.Errorf("NaNCodes = %v", codes)
	}
	if repl := s.Replacements(); len(repl) != 1 || repl[98] != 3 {
		t.Errorf("Replacements = %v", repl)
	}

	if s.Weighting == nil || len(s.Weighting.Dimensions) != 1 {
		t.Fatalf("Weighting = %+v", s.Weighting)
	}
	dim := s.Weighting.Dimensions[0]
	if dim.Column != "region" || dim.Targets["North"] != 500 {
		t.Errorf("dimension = %+v", dim)
	}

	if len(s.Categories) != 1 || s.Categories[0].Type != "column" {
		t.Errorf("Categories = %+v", s.Categories)
	}
	if s.QuestionFilters["Q5"] != "screener == 1" {
		t.Errorf("QuestionFilters = %v", s.QuestionFilters)
	}
	if len(s.Areas) != 1 || s.Areas[0].Questions[1] != "Q2" {
		t.Errorf("Areas = %+v", s.Areas)
	}
	if s.CorrelateArea != "Service" {
		t.Errorf("CorrelateArea = %q", s.CorrelateArea)
	}

	r := s.ScaleRange()
	if r == nil || r[0] != 0 || r[1] != 100 {
		t.Errorf("ScaleRange = %v", r)
	}

	side := s.Sidecar()
	if side == nil || side.Columns["Q1"].Label != "Overall satisfaction" {
		t.Errorf("Sidecar = %+v", side)
	}
}

func TestScaleRangeMalformed(t *testing.T) {
	s := &Spec{Scale: []float64{5}}
	if s.ScaleRange() != nil {
		t.Error("malformed scale should yield nil")
	}
	s = &Spec{}
	if s.ScaleRange() != nil {
		t.Error("absent scale should yield nil")
	}
}
