// Package pipeline orchestrates one tabulation run: classification, category
// synthesis, weighting, tabulation, index and correlation. State flows as
// explicit values between engines; every engine reads the dataset snapshot
// and returns new result values, so independent category/question
// computations never share mutable state.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/tabloom/tabloom-cli/internal/category"
	"github.com/tabloom/tabloom-cli/internal/config"
	"github.com/tabloom/tabloom-cli/internal/dataset"
	"github.com/tabloom/tabloom-cli/internal/index"
	"github.com/tabloom/tabloom-cli/internal/schema"
	"github.com/tabloom/tabloom-cli/internal/tabulate"
	"github.com/tabloom/tabloom-cli/internal/weights"
)

// ErrEmptySchema reports a dataset with zero eligible columns after
// classification: there is nothing to tabulate.
var ErrEmptySchema = errors.New("no eligible survey columns after classification")

// OpenTextRow is one verbatim open-ended response.
type OpenTextRow struct {
	Question string
	Response string
}

// Results carries every table one run produces, plus the non-fatal warnings
// collected along the way.
type Results struct {
	RunID string

	Schema      *schema.Schema
	Categories  []category.Category
	Weights     *weights.Result
	Tabulation  *tabulate.Result
	Index       *index.Result
	Correlation []index.CorrelationRow
	OpenText    []OpenTextRow

	Warnings []string
}

// Run executes the full pipeline against a dataset. Failure inside one
// category or question group is recorded as a warning and never aborts
// sibling computations; the only fatal data condition is an empty
// classification, reported as ErrEmptySchema.
func Run(ds *dataset.Dataset, spec *config.Spec) (*Results, error) {
	res := &Results{RunID: uuid.NewString()}

	sch, err := schema.Classify(ds, schema.Options{
		Prefixes:      spec.Prefixes,
		MultiResponse: spec.MultiResponse,
		Ranking:       spec.Ranking,
		Grid:          spec.Grid,
		SingleChoice:  spec.SingleChoice,
	})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if len(sch.Questions) == 0 {
		return nil, ErrEmptySchema
	}
	res.Schema = sch

	applyReplacements(ds, spec.Replacements())

	cats, warns := category.Build(ds, spec.Categories)
	res.Categories = cats
	res.Warnings = append(res.Warnings, warns...)

	weightVec, err := resolveWeights(ds, spec, res)
	if err != nil {
		return nil, err
	}

	nanCodes := spec.NaNCodes()

	filters := make(map[string]*category.Predicate)
	for base, expr := range spec.QuestionFilters {
		pred, err := category.ParsePredicate(expr)
		if err != nil {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("question filter %q: %v, ignored", base, err))
			continue
		}
		filters[base] = pred
	}

	res.Tabulation = tabulate.Run(ds, sch, tabulate.Options{
		NaNCodes:   nanCodes,
		Weights:    weightVec,
		Categories: cats,
		Filters:    filters,
	})
	res.Warnings = append(res.Warnings, res.Tabulation.Warnings...)

	if len(spec.Areas) > 0 {
		idxOpt := index.Options{
			Areas:        spec.Areas,
			NaNCodes:     nanCodes,
			MinimumCount: spec.MinimumCount,
			Scale:        spec.ScaleRange(),
			Weights:      weightVec,
			Categories:   cats,
		}
		res.Index = index.Run(ds, idxOpt)
		res.Warnings = append(res.Warnings, res.Index.Warnings...)

		if spec.CorrelateArea != "" {
			rows, warns := index.Correlate(ds, idxOpt, spec.CorrelateArea)
			res.Correlation = rows
			res.Warnings = append(res.Warnings, warns...)
		}
	}

	res.OpenText = collectOpenText(ds, sch)
	return res, nil
}

// resolveWeights picks the run's weight vector: an IPF fit when configured,
// otherwise a precomputed weight column when present, otherwise unweighted.
func resolveWeights(ds *dataset.Dataset, spec *config.Spec, res *Results) ([]float64, error) {
	if spec.Weighting != nil {
		opt := weights.DefaultOptions()
		if spec.Weighting.MaxIterations > 0 {
			opt.MaxIterations = spec.Weighting.MaxIterations
		}
		if spec.Weighting.Tolerance > 0 {
			opt.Tolerance = spec.Weighting.Tolerance
		}
		wr, err := weights.Compute(ds, spec.Weighting.Dimensions, opt)
		if err != nil {
			return nil, fmt.Errorf("weights: %w", err)
		}
		res.Weights = wr
		res.Warnings = append(res.Warnings, wr.Warnings...)
		return wr.Weights, nil
	}
	if spec.WeightColumn != "" {
		col, ok := ds.Column(spec.WeightColumn)
		if ok && col.Kind == dataset.Numeric {
			vec := make([]float64, col.Len())
			for i := 0; i < col.Len(); i++ {
				if !col.IsNull(i) {
					vec[i] = col.Num(i)
				}
			}
			return vec, nil
		}
		// The default column name is configured globally, so an absent column
		// just means an unweighted run. A present non-numeric one is worth a
		// warning.
		if ok {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("weight column %q is not numeric, running unweighted", spec.WeightColumn))
		}
	}
	return nil, nil
}

// applyReplacements substitutes concrete-valued entries of the missing-value
// map across all numeric columns. Runs once at the load boundary, before any
// engine reads the dataset.
func applyReplacements(ds *dataset.Dataset, repl map[float64]float64) {
	if len(repl) == 0 {
		return
	}
	for _, name := range ds.Names() {
		col, _ := ds.Column(name)
		if col.Kind != dataset.Numeric {
			continue
		}
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				continue
			}
			if v, ok := repl[col.Nums[i]]; ok {
				col.Nums[i] = v
			}
		}
	}
}

// collectOpenText gathers non-empty responses of open_text questions into a
// long (question, response) table.
func collectOpenText(ds *dataset.Dataset, sch *schema.Schema) []OpenTextRow {
	var out []OpenTextRow
	for _, q := range sch.Questions {
		if q.Type != schema.OpenText {
			continue
		}
		col, ok := ds.Column(q.ID)
		if !ok || col.Kind != dataset.String {
			continue
		}
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				continue
			}
			s := strings.TrimSpace(col.Str(i))
			if s == "" {
				continue
			}
			out = append(out, OpenTextRow{Question: q.BaseQuestion, Response: s})
		}
	}
	return out
}
