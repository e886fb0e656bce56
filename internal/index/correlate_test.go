package index

import (
	"math"
	"testing"

	"github.com/tabloom/tabloom-cli/internal/dataset"
)

func corrDataset(t *testing.T, vals map[string][]float64, rows int) *dataset.Dataset {
	t.Helper()
	ds := dataset.New(rows)
	for name, v := range vals {
		if err := ds.AddColumn(dataset.NewNumericColumn(name, v, nil)); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	return ds
}

func findCorrelation(rows []CorrelationRow, q string) *CorrelationRow {
	for i := range rows {
		if rows[i].Question == q {
			return &rows[i]
		}
	}
	return nil
}

func TestCorrelatePerfectPositive(t *testing.T) {
	ds := corrDataset(t, map[string][]float64{
		"Q1": {1, 2, 3, 4},
		"Q2": {2, 4, 6, 8}, // perfectly aligned with Q1
	}, 4)
	opt := Options{Areas: []Area{
		{Name: "Overall rating", Questions: []string{"Q1"}},
		{Name: "Service", Questions: []string{"Q2"}},
	}}
	rows, warns := Correlate(ds, opt, "Overall rating")
	if len(warns) != 0 {
		t.Fatalf("warnings: %v", warns)
	}
	q2 := findCorrelation(rows, "Q2")
	if q2 == nil {
		t.Fatal("Q2 correlation missing")
	}
	if math.Abs(q2.Correlation-1) > 1e-12 {
		t.Errorf("correlation = %v, want 1", q2.Correlation)
	}
	if q2.Area != "Overall rating" {
		t.Errorf("area = %q", q2.Area)
	}
}

func TestCorrelateClampsNegative(t *testing.T) {
	ds := corrDataset(t, map[string][]float64{
		"Q1": {1, 2, 3, 4},
		"Q2": {8, 6, 4, 2}, // perfectly inverted
	}, 4)
	opt := Options{Areas: []Area{
		{Name: "Overall rating", Questions: []string{"Q1"}},
		{Name: "Service", Questions: []string{"Q2"}},
	}}
	rows, _ := Correlate(ds, opt, "Overall rating")
	q2 := findCorrelation(rows, "Q2")
	if q2 == nil {
		t.Fatal("Q2 correlation missing")
	}
	if q2.Correlation != 0 {
		t.Errorf("negative correlation = %v, want clamp to 0", q2.Correlation)
	}
}

func TestCorrelateConstantSeries(t *testing.T) {
	ds := corrDataset(t, map[string][]float64{
		"Q1": {1, 2, 3, 4},
		"Q2": {5, 5, 5, 5}, // zero variance
	}, 4)
	opt := Options{Areas: []Area{
		{Name: "Overall rating", Questions: []string{"Q1"}},
		{Name: "Service", Questions: []string{"Q2"}},
	}}
	rows, _ := Correlate(ds, opt, "Overall rating")
	q2 := findCorrelation(rows, "Q2")
	if q2 == nil {
		t.Fatal("Q2 correlation missing")
	}
	if q2.Correlation != 0 {
		t.Errorf("non-computable correlation = %v, want 0", q2.Correlation)
	}
}

func TestCorrelatePairwiseDeletion(t *testing.T) {
	// Row 2 misses Q2; it must drop from the pair without disturbing the rest.
	ds := dataset.New(4)
	if err := ds.AddColumn(dataset.NewNumericColumn("Q1", []float64{1, 2, 3, 4}, nil)); err != nil {
		t.Fatalf("add Q1: %v", err)
	}
	err := ds.AddColumn(dataset.NewNumericColumn("Q2",
		[]float64{1, 2, 0, 4}, []bool{false, false, true, false}))
	if err != nil {
		t.Fatalf("add Q2: %v", err)
	}
	opt := Options{Areas: []Area{
		{Name: "Overall rating", Questions: []string{"Q1"}},
		{Name: "Service", Questions: []string{"Q2"}},
	}}
	rows, _ := Correlate(ds, opt, "Overall rating")
	q2 := findCorrelation(rows, "Q2")
	if q2 == nil {
		t.Fatal("Q2 correlation missing")
	}
	if math.Abs(q2.Correlation-1) > 1e-12 {
		t.Errorf("correlation = %v, want 1", q2.Correlation)
	}
}

func TestCorrelateBounds(t *testing.T) {
	ds := corrDataset(t, map[string][]float64{
		"Q1": {1, 5, 2, 4, 3},
		"Q2": {2, 4, 1, 5, 3},
		"Q3": {5, 1, 4, 2, 3},
	}, 5)
	opt := Options{Areas: []Area{
		{Name: "Overall rating", Questions: []string{"Q1"}},
		{Name: "Service", Questions: []string{"Q2", "Q3"}},
	}}
	rows, _ := Correlate(ds, opt, "Overall rating")
	for _, r := range rows {
		if r.Correlation < 0 || r.Correlation > 1 {
			t.Errorf("%s correlation = %v, outside [0,1]", r.Question, r.Correlation)
		}
	}
}

func TestCorrelateMissingReferenceArea(t *testing.T) {
	ds := corrDataset(t, map[string][]float64{"Q1": {1, 2}}, 2)
	opt := Options{Areas: []Area{{Name: "Service", Questions: []string{"Q1"}}}}
	rows, warns := Correlate(ds, opt, "Nope")
	if rows != nil || len(warns) != 1 {
		t.Errorf("rows = %v, warnings = %v", rows, warns)
	}
}

func TestCorrelateMissingCodes(t *testing.T) {
	// The 99s must be excluded from both the reference mean and the pairs.
	ds := corrDataset(t, map[string][]float64{
		"Q1": {1, 2, 99, 3},
		"Q2": {1, 2, 2, 3},
	}, 4)
	opt := Options{
		Areas: []Area{
			{Name: "Overall rating", Questions: []string{"Q1"}},
			{Name: "Service", Questions: []string{"Q2"}},
		},
		NaNCodes: []float64{99},
	}
	rows, _ := Correlate(ds, opt, "Overall rating")
	q2 := findCorrelation(rows, "Q2")
	if q2 == nil {
		t.Fatal("Q2 correlation missing")
	}
	if math.Abs(q2.Correlation-1) > 1e-12 {
		t.Errorf("correlation = %v, want 1", q2.Correlation)
	}
}
