package index

import (
	"fmt"
	"math"

	"github.com/tabloom/tabloom-cli/internal/category"
	"github.com/tabloom/tabloom-cli/internal/dataset"
)

// CorrelationRow is one correlation coefficient: a question's values against
// the reference area's per-respondent row mean, within one category.
type CorrelationRow struct {
	Category    string
	Area        string
	Question    string
	Correlation float64
}

// Correlate computes, per category, the Pearson correlation between each
// area-map question and the row-wise mean of the reference area's questions.
// Respondents missing either side are dropped pairwise. Negative and
// non-computable coefficients are clamped to 0, matching the tabulation's
// display convention, so results always land in [0, 1].
func Correlate(ds *dataset.Dataset, opt Options, refArea string) ([]CorrelationRow, []string) {
	var warnings []string

	var ref *Area
	for i := range opt.Areas {
		if opt.Areas[i].Name == refArea {
			ref = &opt.Areas[i]
			break
		}
	}
	if ref == nil {
		return nil, []string{fmt.Sprintf("correlate area %q not found in area map", refArea)}
	}
	if len(ref.Questions) == 0 {
		return nil, []string{fmt.Sprintf("correlate area %q has no questions", refArea)}
	}

	nan := codeSet(opt.NaNCodes)
	cell := func(colName string, i int) (float64, bool) {
		col, ok := ds.Column(colName)
		if !ok || col.Kind != dataset.Numeric || col.IsNull(i) {
			return 0, false
		}
		v := col.Num(i)
		if _, isNaN := nan[v]; isNaN {
			return 0, false
		}
		return v, true
	}

	// Reference row mean across the area's member questions.
	rows := ds.NumRows()
	refMean := make([]float64, rows)
	refOK := make([]bool, rows)
	for i := 0; i < rows; i++ {
		var sum float64
		var n int
		for _, q := range ref.Questions {
			if v, ok := cell(q, i); ok {
				sum += v
				n++
			}
		}
		if n > 0 {
			refMean[i] = sum / float64(n)
			refOK[i] = true
		}
	}

	var questions []string
	for _, a := range opt.Areas {
		for _, q := range a.Questions {
			if _, ok := ds.Column(q); ok {
				questions = append(questions, q)
			}
		}
	}
	if len(questions) == 0 {
		return nil, append(warnings, "no area-map questions present in dataset")
	}

	cats := opt.Categories
	if len(cats) == 0 {
		cats = []category.Category{category.Overall(rows)}
	}

	var out []CorrelationRow
	for _, cat := range cats {
		members := cat.Members()
		for _, q := range questions {
			// Pairwise accumulation over rows with both values present.
			var n, sumX, sumY, sumXX, sumYY, sumXY float64
			for i := 0; i < rows; i++ {
				if !members[i] || !refOK[i] {
					continue
				}
				x, ok := cell(q, i)
				if !ok {
					continue
				}
				y := refMean[i]
				n++
				sumX += x
				sumY += y
				sumXX += x * x
				sumYY += y * y
				sumXY += x * y
			}
			out = append(out, CorrelationRow{
				Category:    cat.Name,
				Area:        ref.Name,
				Question:    q,
				Correlation: clampCorrelation(pearson(n, sumX, sumY, sumXX, sumYY, sumXY)),
			})
		}
	}
	return out, warnings
}

func pearson(n, sumX, sumY, sumXX, sumYY, sumXY float64) float64 {
	if n < 2 {
		return math.NaN()
	}
	denom := math.Sqrt((n*sumXX - sumX*sumX) * (n*sumYY - sumY*sumY))
	if denom == 0 {
		return math.NaN()
	}
	r := (n*sumXY - sumX*sumY) / denom
	if r > 1 {
		r = 1
	} else if r < -1 {
		r = -1
	}
	return r
}

// clampCorrelation applies the display policy: negative and non-computable
// coefficients become 0. A policy choice carried over for compatibility, not
// a numerical necessity.
func clampCorrelation(r float64) float64 {
	if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
		return 0
	}
	return r
}
