// Package weights computes per-respondent survey weights via iterative
// proportional fitting, so weighted respondent counts match external
// population totals.
package weights

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tabloom/tabloom-cli/internal/dataset"
)

// Dimension is one grouping dimension with its population margin targets.
// Target keys are matched against the column's value labels when a value
// dictionary exists, otherwise against the raw value's string form.
type Dimension struct {
	Column  string             `yaml:"column"`
	Targets map[string]float64 `yaml:"targets"`
}

// Options bounds the fitting loop. The iteration cap guarantees termination
// on non-convergent inputs.
type Options struct {
	MaxIterations int
	Tolerance     float64
}

// DefaultOptions returns the standard fitting bounds.
func DefaultOptions() Options {
	return Options{MaxIterations: 100, Tolerance: 1e-6}
}

// Result carries the per-respondent weight vector and fitting diagnostics.
type Result struct {
	Weights    []float64
	Iterations int
	Converged  bool
	Warnings   []string
}

type cell struct {
	keys     []string
	observed float64
	fitted   float64
}

// Compute runs IPF over the full cross-product of target categories
// (including empty cells) and assigns each respondent its cell's fitted total
// divided by the cell's observed count, so that weights summed within a cell
// reproduce the fitted total. Respondents falling outside the cross-product
// receive weight 0.
func Compute(ds *dataset.Dataset, dims []Dimension, opt Options) (*Result, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("no weighting dimensions configured")
	}
	if opt.MaxIterations <= 0 {
		opt.MaxIterations = 100
	}
	if opt.Tolerance <= 0 {
		opt.Tolerance = 1e-6
	}

	res := &Result{Weights: make([]float64, ds.NumRows())}

	// Resolve each respondent's key along every dimension.
	rowKeys := make([][]string, ds.NumRows())
	for d, dim := range dims {
		col, ok := ds.Column(dim.Column)
		if !ok {
			return nil, fmt.Errorf("unknown weighting column %q", dim.Column)
		}
		labels := ds.ValueLabels(dim.Column)
		for i := 0; i < ds.NumRows(); i++ {
			if d == 0 {
				rowKeys[i] = make([]string, len(dims))
			}
			rowKeys[i][d] = cellKey(col, labels, i)
		}
	}

	// Cross-product of target categories, zero-filled for unobserved cells.
	keysPerDim := make([][]string, len(dims))
	for d, dim := range dims {
		if len(dim.Targets) == 0 {
			return nil, fmt.Errorf("dimension %q has no targets", dim.Column)
		}
		keysPerDim[d] = sortedKeys(dim.Targets)
	}
	cells := crossProduct(keysPerDim)
	index := make(map[string]int, len(cells))
	for i, c := range cells {
		index[strings.Join(c.keys, "\x00")] = i
	}

	// Observed counts per cell; rows outside the cross-product get weight 0.
	rowCell := make([]int, ds.NumRows())
	for i, keys := range rowKeys {
		ci, ok := index[strings.Join(keys, "\x00")]
		if !ok {
			rowCell[i] = -1
			continue
		}
		rowCell[i] = ci
		cells[ci].observed++
	}
	outside := 0
	for _, ci := range rowCell {
		if ci < 0 {
			outside++
		}
	}
	if outside > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("%d respondents fall outside the target cross-product and receive weight 0", outside))
	}

	for i := range cells {
		cells[i].fitted = cells[i].observed
	}

	// Rescale each dimension's marginals toward its targets in turn.
	for iter := 0; iter < opt.MaxIterations; iter++ {
		res.Iterations = iter + 1
		for d, dim := range dims {
			marginals := make(map[string]float64)
			for _, c := range cells {
				marginals[c.keys[d]] += c.fitted
			}
			for i := range cells {
				k := cells[i].keys[d]
				cur := marginals[k]
				if cur == 0 {
					continue
				}
				cells[i].fitted *= dim.Targets[k] / cur
			}
		}
		if maxDeviation(cells, dims) < opt.Tolerance {
			res.Converged = true
			break
		}
	}
	if !res.Converged {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("IPF did not converge within %d iterations", opt.MaxIterations))
	}

	for i, ci := range rowCell {
		if ci < 0 {
			continue
		}
		c := cells[ci]
		if c.observed > 0 {
			res.Weights[i] = c.fitted / c.observed
		}
	}
	return res, nil
}

func cellKey(col *dataset.Column, labels map[float64]string, i int) string {
	if col.IsNull(i) {
		return ""
	}
	if col.Kind == dataset.Numeric {
		v := col.Num(i)
		if lbl, ok := labels[v]; ok {
			return lbl
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return col.Str(i)
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Deterministic cell order keeps fitting reproducible.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func crossProduct(keysPerDim [][]string) []cell {
	total := 1
	for _, ks := range keysPerDim {
		total *= len(ks)
	}
	cells := make([]cell, 0, total)
	idx := make([]int, len(keysPerDim))
	for {
		keys := make([]string, len(keysPerDim))
		for d := range keysPerDim {
			keys[d] = keysPerDim[d][idx[d]]
		}
		cells = append(cells, cell{keys: keys})
		d := len(idx) - 1
		for d >= 0 {
			idx[d]++
			if idx[d] < len(keysPerDim[d]) {
				break
			}
			idx[d] = 0
			d--
		}
		if d < 0 {
			break
		}
	}
	return cells
}

func maxDeviation(cells []cell, dims []Dimension) float64 {
	worst := 0.0
	for d, dim := range dims {
		marginals := make(map[string]float64)
		for _, c := range cells {
			marginals[c.keys[d]] += c.fitted
		}
		for k, target := range dim.Targets {
			dev := math.Abs(marginals[k] - target)
			if dev > worst {
				worst = dev
			}
		}
	}
	return worst
}
