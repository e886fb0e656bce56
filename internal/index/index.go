// Package index computes per-question and per-area composite index scores
// with minimum-sample suppression and optional linear rescaling, plus the
// area correlation table.
package index

import (
	"fmt"
	"sort"

	"github.com/tabloom/tabloom-cli/internal/category"
	"github.com/tabloom/tabloom-cli/internal/dataset"
)

// Area is a named group of questions whose composite mean forms one index
// dimension.
type Area struct {
	Name      string   `yaml:"name"`
	Questions []string `yaml:"questions"`
}

// Options configures one index run.
type Options struct {
	Areas []Area
	// NaNCodes are answer codes replaced with null in the pre-pass; replaced
	// values count toward the suppression denominator but not the mean.
	NaNCodes []float64
	// MinimumCount suppresses an individual index when the question's
	// valid+replaced sample within a category falls below it.
	MinimumCount int
	// Scale, when non-nil, linearly remaps each question's values from its
	// value-label range into [Scale[0], Scale[1]] before averaging.
	Scale *[2]float64
	// Weights is the per-respondent weight vector; nil averages unweighted.
	Weights []float64
	// Categories are the segment columns; empty falls back to "Overall".
	Categories []category.Category
}

// QuestionIndex is one individual index: the (weighted) mean of a question
// within a category, or nil when suppressed.
type QuestionIndex struct {
	Category   string
	Area       string
	Question   string
	Value      *float64
	ValidCount float64
	NaNCount   float64
}

// AreaIndex is one composite index: the (weighted) mean over every value of
// the area's questions within a category.
type AreaIndex struct {
	Category string
	Area     string
	Value    float64
	Valid    bool
}

// Result carries individual and composite indices plus non-fatal warnings.
type Result struct {
	Questions []QuestionIndex
	Areas     []AreaIndex
	Warnings  []string
}

// Run computes the index table. The missing-code pre-pass, suppression rule
// and rescaling follow the documented conventions: replaced codes count
// toward the suppression denominator, suppression yields null rather than an
// unstable mean, and questions lacking numeric value-label metadata are left
// unscaled.
func Run(ds *dataset.Dataset, opt Options) *Result {
	res := &Result{}

	cats := opt.Categories
	if len(cats) == 0 {
		cats = []category.Category{category.Overall(ds.NumRows())}
	}

	nan := codeSet(opt.NaNCodes)
	weighted := opt.Weights != nil

	type colInfo struct {
		col   *dataset.Column
		lo    float64
		hi    float64
		scale bool
	}
	resolve := func(q string) (colInfo, bool) {
		col, ok := ds.Column(q)
		if !ok || col.Kind != dataset.Numeric {
			return colInfo{}, false
		}
		info := colInfo{col: col}
		if opt.Scale != nil {
			lo, hi, ok := labelRange(ds.ValueLabels(q), nan)
			if ok && hi > lo {
				info.lo, info.hi, info.scale = lo, hi, true
			}
		}
		return info, true
	}

	for _, cat := range cats {
		members := cat.Members()
		for _, area := range opt.Areas {
			var areaSum, areaWeight float64
			areaValid := false

			for _, q := range area.Questions {
				info, ok := resolve(q)
				if !ok {
					res.Warnings = append(res.Warnings,
						fmt.Sprintf("index question %q: not a numeric column, skipped", q))
					continue
				}

				var sum, wsum, count, nanCount float64
				for i := 0; i < info.col.Len(); i++ {
					if !members[i] || info.col.IsNull(i) {
						continue
					}
					v := info.col.Num(i)
					if _, isNaN := nan[v]; isNaN {
						nanCount++
						continue
					}
					if info.scale {
						v = rescale(v, info.lo, info.hi, opt.Scale[0], opt.Scale[1])
					}
					w := 1.0
					if weighted {
						w = opt.Weights[i]
					}
					sum += v * w
					wsum += w
					count++
					areaSum += v * w
					areaWeight += w
					areaValid = true
				}

				qi := QuestionIndex{
					Category:   cat.Name,
					Area:       area.Name,
					Question:   q,
					ValidCount: count,
					NaNCount:   nanCount,
				}
				if count+nanCount >= float64(opt.MinimumCount) && wsum > 0 {
					mean := sum / wsum
					qi.Value = &mean
				}
				res.Questions = append(res.Questions, qi)
			}

			ai := AreaIndex{Category: cat.Name, Area: area.Name}
			if areaValid && areaWeight > 0 {
				ai.Value = areaSum / areaWeight
				ai.Valid = true
			}
			res.Areas = append(res.Areas, ai)
		}
	}
	return res
}

// rescale maps v from [lo,hi] onto [tlo,thi] linearly.
func rescale(v, lo, hi, tlo, thi float64) float64 {
	return (v-lo)*((thi-tlo)/(hi-lo)) + tlo
}

// labelRange derives the [min,max] metadata range of a question from the
// numeric keys of its value dictionary, excluding missing codes.
func labelRange(labels map[float64]string, nan map[float64]struct{}) (lo, hi float64, ok bool) {
	var vals []float64
	for v := range labels {
		if _, isNaN := nan[v]; isNaN {
			continue
		}
		vals = append(vals, v)
	}
	if len(vals) == 0 {
		return 0, 0, false
	}
	sort.Float64s(vals)
	return vals[0], vals[len(vals)-1], true
}

func codeSet(codes []float64) map[float64]struct{} {
	out := make(map[float64]struct{}, len(codes))
	for _, c := range codes {
		out[c] = struct{}{}
	}
	return out
}

// Table is the pivoted presentation: one row per category, one column per
// (area, question) individual index followed by the area composite, in
// area-map order.
type Table struct {
	Columns []string
	Rows    []TableRow
}

// TableRow holds one category's indices; suppressed cells are nil.
type TableRow struct {
	Category string
	Values   map[string]*float64
}

// Pivot reshapes the result to the wide presentation form.
func (r *Result) Pivot(areas []Area) *Table {
	t := &Table{}
	for _, a := range areas {
		t.Columns = append(t.Columns, a.Questions...)
		t.Columns = append(t.Columns, a.Name)
	}

	rows := make(map[string]int)
	rowFor := func(cat string) *TableRow {
		i, ok := rows[cat]
		if !ok {
			rows[cat] = len(t.Rows)
			t.Rows = append(t.Rows, TableRow{Category: cat, Values: make(map[string]*float64)})
			i = len(t.Rows) - 1
		}
		return &t.Rows[i]
	}
	for _, qi := range r.Questions {
		rowFor(qi.Category).Values[qi.Question] = qi.Value
	}
	for _, ai := range r.Areas {
		row := rowFor(ai.Category)
		if ai.Valid {
			v := ai.Value
			row.Values[ai.Area] = &v
		} else {
			row.Values[ai.Area] = nil
		}
	}
	return t
}
