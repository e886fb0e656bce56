package pipeline

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/tabloom/tabloom-cli/internal/category"
	"github.com/tabloom/tabloom-cli/internal/config"
	"github.com/tabloom/tabloom-cli/internal/dataset"
	"github.com/tabloom/tabloom-cli/internal/index"
	"github.com/tabloom/tabloom-cli/internal/tabulate"
	"github.com/tabloom/tabloom-cli/internal/weights"
)

func pipelineDataset(t *testing.T) *dataset.Dataset {
	t.Helper()
	ds := dataset.New(6)
	cols := []*dataset.Column{
		dataset.NewNumericColumn("Q1", []float64{1, 2, 1, 1, 2, 99}, nil),
		dataset.NewNumericColumn("Q2", []float64{3, 4, 5, 2, 3, 4}, nil),
		dataset.NewNumericColumn("region", []float64{1, 1, 1, 2, 2, 2}, nil),
		dataset.NewStringColumn("Q9open", []string{"fast delivery", "", "  ", "good value", "", ""},
			[]bool{false, true, false, false, true, true}),
	}
	for _, c := range cols {
		if err := ds.AddColumn(c); err != nil {
			t.Fatalf("add %s: %v", c.Name, err)
		}
	}
	ds.SetMeta("Q1", dataset.VarMeta{
		Label:       "Overall satisfaction",
		ValueLabels: map[float64]string{1: "Yes", 2: "No", 99: "Don't know"},
	})
	ds.SetMeta("Q2", dataset.VarMeta{
		Label:       "Service rating",
		ValueLabels: map[float64]string{1: "Very poor", 2: "Poor", 3: "Fair", 4: "Good", 5: "Very good"},
	})
	ds.SetMeta("region", dataset.VarMeta{ValueLabels: map[float64]string{1: "North", 2: "South"}})
	return ds
}

func pipelineSpec() *config.Spec {
	return &config.Spec{
		Prefixes:     []string{"Q"},
		SingleChoice: `^Q\d+[a-zA-Z]?$`,
		NaNValues:    map[string]*float64{"99": nil},
		MinimumCount: 2,
		Categories: []category.Spec{
			{Name: "Region", Type: "column", Column: "region"},
		},
		Areas:         []index.Area{{Name: "Service", Questions: []string{"Q2"}}},
		CorrelateArea: "Service",
	}
}

func TestRunEndToEnd(t *testing.T) {
	ds := pipelineDataset(t)
	res, err := Run(ds, pipelineSpec())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.RunID == "" {
		t.Error("run id missing")
	}
	if got := len(res.Schema.Questions); got != 3 {
		t.Errorf("classified %d questions, want 3", got)
	}
	if got := len(res.Categories); got != 2 {
		t.Fatalf("built %d categories, want 2", got)
	}

	var yesNorth *tabulate.Cell
	for i := range res.Tabulation.Cells {
		c := &res.Tabulation.Cells[i]
		if c.Question == "Q1" && c.Answer == "1" && c.Metric == tabulate.Count && c.Category == "North Region" {
			yesNorth = c
		}
	}
	if yesNorth == nil || yesNorth.Value != 2 {
		t.Errorf("North Yes count = %+v, want 2", yesNorth)
	}

	if res.Index == nil || len(res.Index.Questions) == 0 {
		t.Fatal("index missing")
	}
	var northQ2 *index.QuestionIndex
	for i := range res.Index.Questions {
		q := &res.Index.Questions[i]
		if q.Category == "North Region" && q.Question == "Q2" {
			northQ2 = q
		}
	}
	if northQ2 == nil || northQ2.Value == nil {
		t.Fatalf("North Q2 index = %+v", northQ2)
	}
	if math.Abs(*northQ2.Value-4) > 1e-12 {
		t.Errorf("North Q2 mean = %v, want 4", *northQ2.Value)
	}

	if len(res.Correlation) == 0 {
		t.Error("correlation table missing")
	}
	for _, r := range res.Correlation {
		if r.Correlation < 0 || r.Correlation > 1 {
			t.Errorf("correlation %v outside [0,1]", r.Correlation)
		}
	}

	if got := len(res.OpenText); got != 2 {
		t.Fatalf("open text rows = %d, want 2", got)
	}
	if res.OpenText[0].Response != "fast delivery" || res.OpenText[1].Response != "good value" {
		t.Errorf("open text = %+v", res.OpenText)
	}
}

func TestRunEmptySchema(t *testing.T) {
	ds := dataset.New(2)
	if err := ds.AddColumn(dataset.NewNumericColumn("region", []float64{1, 2}, nil)); err != nil {
		t.Fatalf("add: %v", err)
	}
	_, err := Run(ds, &config.Spec{Prefixes: []string{"Q"}})
	if !errors.Is(err, ErrEmptySchema) {
		t.Errorf("err = %v, want ErrEmptySchema", err)
	}
}

func TestRunIPFWeighting(t *testing.T) {
	ds := pipelineDataset(t)
	spec := pipelineSpec()
	spec.Weighting = &config.Weighting{
		Dimensions: []weights.Dimension{
			{Column: "region", Targets: map[string]float64{"North": 2, "South": 4}},
		},
	}
	res, err := Run(ds, spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Weights == nil || !res.Weights.Converged {
		t.Fatalf("weights = %+v", res.Weights)
	}
	var north, south float64
	for i, w := range res.Weights.Weights {
		if i < 3 {
			north += w
		} else {
			south += w
		}
	}
	if math.Abs(north-2) > 1e-6 || math.Abs(south-4) > 1e-6 {
		t.Errorf("weighted margins = %v / %v, want 2 / 4", north, south)
	}
	// The weighted sums must flow into the tabulation.
	found := false
	for _, c := range res.Tabulation.Cells {
		if c.Metric == tabulate.WeightedSum {
			found = true
			break
		}
	}
	if !found {
		t.Error("tabulation carries no weighted sums")
	}
}

func TestRunWeightColumnFallback(t *testing.T) {
	ds := pipelineDataset(t)
	if err := ds.AddColumn(dataset.NewNumericColumn("weight", []float64{2, 1, 1, 1, 1, 1}, nil)); err != nil {
		t.Fatalf("add weight: %v", err)
	}
	spec := pipelineSpec()
	spec.WeightColumn = "weight"

	res, err := Run(ds, spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var yesNorthW *tabulate.Cell
	for i := range res.Tabulation.Cells {
		c := &res.Tabulation.Cells[i]
		if c.Question == "Q1" && c.Answer == "1" && c.Metric == tabulate.WeightedSum && c.Category == "North Region" {
			yesNorthW = c
		}
	}
	if yesNorthW == nil || yesNorthW.Value != 3 {
		t.Errorf("North Yes weighted_sum = %+v, want 3", yesNorthW)
	}
}

func TestRunAppliesReplacements(t *testing.T) {
	ds := pipelineDataset(t)
	spec := pipelineSpec()
	two := 2.0
	// 99 becomes a real "No" answer instead of a missing value.
	spec.NaNValues = map[string]*float64{"99": &two}

	res, err := Run(ds, spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, c := range res.Tabulation.Cells {
		if c.Question == "Q1" && c.Answer == "2" && c.Metric == tabulate.Count && c.Category == "South Region" {
			if c.Value != 2 {
				t.Errorf("South No count = %v, want 2", c.Value)
			}
			return
		}
	}
	t.Fatal("South No cell missing")
}

func TestRunBrokenFilterWarns(t *testing.T) {
	ds := pipelineDataset(t)
	spec := pipelineSpec()
	spec.QuestionFilters = map[string]string{"Q1": "region =="}

	res, err := Run(ds, spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "question filter") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want filter notice", res.Warnings)
	}
}
