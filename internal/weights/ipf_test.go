package weights

import (
	"math"
	"strings"
	"testing"

	"github.com/tabloom/tabloom-cli/internal/dataset"
)

func weightDataset(t *testing.T, region, gender []float64) *dataset.Dataset {
	t.Helper()
	ds := dataset.New(len(region))
	if err := ds.AddColumn(dataset.NewNumericColumn("region", region, nil)); err != nil {
		t.Fatalf("add region: %v", err)
	}
	if err := ds.AddColumn(dataset.NewNumericColumn("gender", gender, nil)); err != nil {
		t.Fatalf("add gender: %v", err)
	}
	ds.SetMeta("region", dataset.VarMeta{ValueLabels: map[float64]string{1: "North", 2: "South"}})
	ds.SetMeta("gender", dataset.VarMeta{ValueLabels: map[float64]string{1: "Man", 2: "Woman"}})
	return ds
}

func marginal(ds *dataset.Dataset, weights []float64, col string, value float64) float64 {
	c, _ := ds.Column(col)
	var sum float64
	for i := 0; i < c.Len(); i++ {
		if !c.IsNull(i) && c.Num(i) == value {
			sum += weights[i]
		}
	}
	return sum
}

func TestComputeMatchesMargins(t *testing.T) {
	// Observed: North 4, South 2; Man 3, Woman 3.
	region := []float64{1, 1, 1, 1, 2, 2}
	gender := []float64{1, 1, 2, 2, 1, 2}
	ds := weightDataset(t, region, gender)

	dims := []Dimension{
		{Column: "region", Targets: map[string]float64{"North": 3, "South": 3}},
		{Column: "gender", Targets: map[string]float64{"Man": 2, "Woman": 4}},
	}
	res, err := Compute(ds, dims, DefaultOptions())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if !res.Converged {
		t.Fatalf("did not converge in %d iterations: %v", res.Iterations, res.Warnings)
	}

	checks := []struct {
		col    string
		value  float64
		target float64
	}{
		{"region", 1, 3},
		{"region", 2, 3},
		{"gender", 1, 2},
		{"gender", 2, 4},
	}
	for _, c := range checks {
		got := marginal(ds, res.Weights, c.col, c.value)
		if math.Abs(got-c.target) > 1e-4 {
			t.Errorf("%s=%v marginal = %v, want %v", c.col, c.value, got, c.target)
		}
	}
	for i, w := range res.Weights {
		if w < 0 {
			t.Errorf("weight[%d] = %v, negative", i, w)
		}
	}
}

func TestComputeOutsideCrossProduct(t *testing.T) {
	region := []float64{1, 1, 3} // 3 has no target
	gender := []float64{1, 2, 1}
	ds := weightDataset(t, region, gender)

	dims := []Dimension{
		{Column: "region", Targets: map[string]float64{"North": 2}},
		{Column: "gender", Targets: map[string]float64{"Man": 1, "Woman": 1}},
	}
	res, err := Compute(ds, dims, DefaultOptions())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if res.Weights[2] != 0 {
		t.Errorf("outside-cross-product weight = %v, want 0", res.Weights[2])
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "outside the target cross-product") {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v, want outside-cross-product notice", res.Warnings)
	}
}

func TestComputeRawValueKeys(t *testing.T) {
	// Without a value dictionary, targets key on the raw value text.
	ds := dataset.New(4)
	if err := ds.AddColumn(dataset.NewNumericColumn("age", []float64{1, 1, 2, 2}, nil)); err != nil {
		t.Fatalf("add: %v", err)
	}
	dims := []Dimension{{Column: "age", Targets: map[string]float64{"1": 1, "2": 3}}}
	res, err := Compute(ds, dims, DefaultOptions())
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if got := res.Weights[0] + res.Weights[1]; math.Abs(got-1) > 1e-6 {
		t.Errorf("age=1 marginal = %v, want 1", got)
	}
	if got := res.Weights[2] + res.Weights[3]; math.Abs(got-3) > 1e-6 {
		t.Errorf("age=2 marginal = %v, want 3", got)
	}
}

func TestComputeErrors(t *testing.T) {
	ds := weightDataset(t, []float64{1}, []float64{1})
	if _, err := Compute(ds, nil, DefaultOptions()); err == nil {
		t.Error("expected error with no dimensions")
	}
	if _, err := Compute(ds, []Dimension{{Column: "missing", Targets: map[string]float64{"x": 1}}}, DefaultOptions()); err == nil {
		t.Error("expected error for unknown column")
	}
	if _, err := Compute(ds, []Dimension{{Column: "region"}}, DefaultOptions()); err == nil {
		t.Error("expected error for dimension without targets")
	}
}
