// Package tabulate computes cross-tabulated counts and percentages per
// question group and category. Aggregates are produced as a normalized long
// relation keyed by (question, answer value, metric type, category); pivoting
// categories into columns is a presentation transform applied at the
// boundary.
package tabulate

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tabloom/tabloom-cli/internal/category"
	"github.com/tabloom/tabloom-cli/internal/dataset"
	"github.com/tabloom/tabloom-cli/internal/schema"
)

// MetricType names one aggregate of the long relation.
type MetricType string

const (
	Count          MetricType = "count"
	Percentage     MetricType = "percentage"
	WeightedSum    MetricType = "weighted_sum"
	TotalCount     MetricType = "total_count"
	NaNCount       MetricType = "nan_count"
	NaNPercentage  MetricType = "nan_percentage"
	NaNWeightedSum MetricType = "nan_weighted_sum"
)

// Cell is one long-relation row: a single aggregate value for one question,
// answer value, metric, and category. Answer is empty for column-level
// metrics (total_count and the nan bucket).
type Cell struct {
	Question     string
	BaseQuestion string
	Answer       string
	Metric       MetricType
	Category     string
	Value        float64
}

// Options configures one tabulation run.
type Options struct {
	// NaNCodes are sentinel answer codes excluded from the valid denominator
	// and counted in the nan bucket.
	NaNCodes []float64
	// Weights is the per-respondent weight vector; nil tabulates unweighted.
	Weights []float64
	// Categories are the segment columns; empty falls back to an "Overall"
	// pseudo-category covering all respondents.
	Categories []category.Category
	// Filters restricts rows per base question before tabulating its group.
	Filters map[string]*category.Predicate
}

// Result carries the long tabulation relation, the ranking table for
// ranking-type groups, and non-fatal warnings.
type Result struct {
	Cells    []Cell
	Ranking  []RankingRow
	Warnings []string
}

// Run tabulates every classified question group against every category.
// Ranking groups are routed to the ranking aggregator; open_text and
// numeric_other groups have no value-based tabulation and are skipped.
// Failure is local: a group with unusable metadata is skipped with a warning
// and sibling groups continue.
func Run(ds *dataset.Dataset, sch *schema.Schema, opt Options) *Result {
	res := &Result{}

	cats := opt.Categories
	if len(cats) == 0 {
		cats = []category.Category{category.Overall(ds.NumRows())}
	}

	for _, g := range sch.Groups() {
		switch g.Type {
		case schema.SingleChoice, schema.MultiResponse, schema.Grid:
			res.tabulateGroup(ds, g, cats, opt)
		case schema.Ranking:
			res.rankGroup(ds, g, cats, opt)
		default:
			// open_text / numeric_other: no value-based tabulation.
		}
	}
	return res
}

func (r *Result) tabulateGroup(ds *dataset.Dataset, g schema.Group, cats []category.Category, opt Options) {
	possible := possibleValues(g.ValueLabels, opt.NaNCodes)
	if len(g.ValueLabels) == 0 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("question %q: no value labels, group skipped", g.BaseQuestion))
		return
	}
	if len(possible) == 0 {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("question %q: all labelled values are missing codes, group skipped", g.BaseQuestion))
		return
	}

	rowMask, ok := r.filterMask(ds, g.BaseQuestion, opt)
	if !ok {
		return
	}

	nan := codeSet(opt.NaNCodes)
	weighted := opt.Weights != nil

	for _, cat := range cats {
		inCat := cat.Mask()
		for _, qname := range g.Columns {
			col, ok := ds.Column(qname)
			if !ok || col.Kind != dataset.Numeric {
				continue
			}

			counts := make(map[float64]float64, len(possible))
			wsums := make(map[float64]float64, len(possible))
			var validCount, validWeight, nanCount, nanWeight float64

			for i := 0; i < col.Len(); i++ {
				if !inCat[i] || (rowMask != nil && !rowMask[i]) || col.IsNull(i) {
					continue
				}
				v := col.Num(i)
				w := 1.0
				if weighted {
					w = opt.Weights[i]
				}
				if _, isNaN := nan[v]; isNaN {
					nanCount++
					nanWeight += w
					continue
				}
				validCount++
				validWeight += w
				counts[v]++
				wsums[v] += w
			}

			emit := func(answer string, metric MetricType, value float64) {
				r.Cells = append(r.Cells, Cell{
					Question:     qname,
					BaseQuestion: g.BaseQuestion,
					Answer:       answer,
					Metric:       metric,
					Category:     cat.Name,
					Value:        value,
				})
			}

			denom := validCount
			nanNum := nanCount
			nanDen := validCount + nanCount
			if weighted {
				denom = validWeight
				nanNum = nanWeight
				nanDen = validWeight + nanWeight
			}
			for _, v := range possible {
				answer := formatAnswer(v)
				emit(answer, Count, counts[v])
				num := counts[v]
				if weighted {
					emit(answer, WeightedSum, wsums[v])
					num = wsums[v]
				}
				emit(answer, Percentage, ratio(num, denom))
			}
			emit("", TotalCount, validCount)
			emit("", NaNCount, nanCount)
			if weighted {
				emit("", NaNWeightedSum, nanWeight)
			}
			emit("", NaNPercentage, ratio(nanNum, nanDen))
		}
	}
}

// filterMask resolves the group's question-level filter, if configured. A
// broken filter skips the group rather than failing the run.
func (r *Result) filterMask(ds *dataset.Dataset, base string, opt Options) ([]bool, bool) {
	pred, ok := opt.Filters[base]
	if !ok || pred == nil {
		return nil, true
	}
	mask, err := pred.Mask(ds)
	if err != nil {
		r.Warnings = append(r.Warnings,
			fmt.Sprintf("question %q: filter %q: %v, group skipped", base, pred.String(), err))
		return nil, false
	}
	return mask, true
}

func possibleValues(labels map[float64]string, nanCodes []float64) []float64 {
	nan := codeSet(nanCodes)
	out := make([]float64, 0, len(labels))
	for v := range labels {
		if _, isNaN := nan[v]; isNaN {
			continue
		}
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

func codeSet(codes []float64) map[float64]struct{} {
	out := make(map[float64]struct{}, len(codes))
	for _, c := range codes {
		out[c] = struct{}{}
	}
	return out
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func formatAnswer(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Table is the pivoted presentation of the long relation: one row per
// (question, answer, metric), one value column per category.
type Table struct {
	Categories []string
	Rows       []TableRow
}

// TableRow is one pivoted row; Values is keyed by category name and holds
// only categories that produced a value.
type TableRow struct {
	Question string
	Answer   string
	Metric   MetricType
	Values   map[string]float64
}

// Pivot reshapes the long relation so categories become columns. Row order is
// (question, answer, metric); category order is first-seen.
func Pivot(cells []Cell) *Table {
	t := &Table{}
	seenCat := make(map[string]bool)
	index := make(map[string]int)
	for _, c := range cells {
		if !seenCat[c.Category] {
			seenCat[c.Category] = true
			t.Categories = append(t.Categories, c.Category)
		}
		key := c.Question + "\x00" + c.Answer + "\x00" + string(c.Metric)
		i, ok := index[key]
		if !ok {
			index[key] = len(t.Rows)
			t.Rows = append(t.Rows, TableRow{
				Question: c.Question,
				Answer:   c.Answer,
				Metric:   c.Metric,
				Values:   make(map[string]float64),
			})
			i = len(t.Rows) - 1
		}
		t.Rows[i].Values[c.Category] = c.Value
	}
	sort.SliceStable(t.Rows, func(i, j int) bool {
		a, b := t.Rows[i], t.Rows[j]
		if a.Question != b.Question {
			return a.Question < b.Question
		}
		if a.Answer != b.Answer {
			return answerLess(a.Answer, b.Answer)
		}
		return a.Metric < b.Metric
	})
	return t
}

func answerLess(a, b string) bool {
	af, aerr := strconv.ParseFloat(a, 64)
	bf, berr := strconv.ParseFloat(b, 64)
	if aerr == nil && berr == nil {
		return af < bf
	}
	return strings.Compare(a, b) < 0
}
