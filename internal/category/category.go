// Package category evaluates declarative category specifications against a
// dataset, producing respondent segment indicator columns used as the
// cross-tab dimension by every downstream engine.
package category

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tabloom/tabloom-cli/internal/dataset"
)

// Spec is one declarative category construction rule.
type Spec struct {
	Name string `yaml:"name"`
	// Type is one of "total", "column", "unique", "combination", "single",
	// "conditional".
	Type string `yaml:"type"`
	// Column names the source column for "column" and "unique" splits.
	Column string `yaml:"column"`
	// Columns names the two source columns for "combination".
	Columns []string `yaml:"columns"`
	// Condition is the predicate expression for "single".
	Condition string `yaml:"condition"`
	// Rules are the ordered predicate→value assignments for "conditional".
	Rules []Rule `yaml:"rules"`
	// Default is the fallback value for "conditional"; nil leaves rows null.
	Default *float64 `yaml:"default"`
	// Label overrides the display label registered for the category.
	Label string `yaml:"label"`
}

// Rule is one predicate→value entry of a conditional category.
type Rule struct {
	When  string  `yaml:"when"`
	Value float64 `yaml:"value"`
}

// Category is an evaluated segment column: per-row values with a null mask.
// All types except "conditional" emit 1/null; conditional categories may
// carry other literals, of which only 1 counts as membership.
type Category struct {
	Name   string
	Label  string
	Values []float64
	Null   []bool
}

// Mask returns the non-null mask: every row the category assigned a value.
func (c *Category) Mask() []bool {
	out := make([]bool, len(c.Null))
	for i, isNull := range c.Null {
		out[i] = !isNull
	}
	return out
}

// Members returns the membership mask: rows whose assigned value is 1.
func (c *Category) Members() []bool {
	out := make([]bool, len(c.Null))
	for i := range c.Null {
		out[i] = !c.Null[i] && c.Values[i] == 1
	}
	return out
}

// Count returns the number of member rows.
func (c *Category) Count() int {
	n := 0
	for _, m := range c.Members() {
		if m {
			n++
		}
	}
	return n
}

// Overall builds the pseudo-category covering every respondent, used when no
// category specs are configured.
func Overall(rows int) Category {
	vals := make([]float64, rows)
	for i := range vals {
		vals[i] = 1
	}
	return Category{Name: "Overall", Label: "Overall", Values: vals, Null: make([]bool, rows)}
}

// Build evaluates every spec against the dataset. A malformed spec is
// reported in the returned warnings and skipped; it never aborts sibling
// categories. Built categories are appended to the dataset as indicator
// columns and registered in its metadata store so later consumers can resolve
// their display names.
func Build(ds *dataset.Dataset, specs []Spec) ([]Category, []string) {
	var cats []Category
	var warnings []string

	seen := make(map[string]bool)
	add := func(c Category) {
		if seen[c.Name] {
			warnings = append(warnings, fmt.Sprintf("category %q: duplicate name, skipped", c.Name))
			return
		}
		seen[c.Name] = true
		cats = append(cats, c)
		register(ds, c)
	}

	for _, sp := range specs {
		switch sp.Type {
		case "total":
			c := Overall(ds.NumRows())
			c.Name = sp.Name
			c.Label = labelOr(sp.Label, sp.Name)
			add(c)

		case "column", "unique":
			derived, err := buildSplit(ds, sp)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("category %q: %v, skipped", sp.Name, err))
				continue
			}
			for _, c := range derived {
				add(c)
			}

		case "combination":
			derived, err := buildCombination(ds, sp)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("category %q: %v, skipped", sp.Name, err))
				continue
			}
			for _, c := range derived {
				add(c)
			}

		case "single":
			c, err := buildSingle(ds, sp)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("category %q: %v, skipped", sp.Name, err))
				continue
			}
			add(c)

		case "conditional":
			c, err := buildConditional(ds, sp)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("category %q: %v, skipped", sp.Name, err))
				continue
			}
			add(c)

		default:
			warnings = append(warnings, fmt.Sprintf("category %q: unknown type %q, skipped", sp.Name, sp.Type))
		}
	}
	return cats, warnings
}

// buildSplit derives one category per distinct non-null value of the source
// column. "column" names categories by the value's dictionary label; "unique"
// uses the raw value.
func buildSplit(ds *dataset.Dataset, sp Spec) ([]Category, error) {
	col, ok := ds.Column(sp.Column)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", sp.Column)
	}
	if col.Kind == dataset.String {
		return buildStringSplit(col, sp), nil
	}
	labels := ds.ValueLabels(sp.Column)

	var out []Category
	for _, v := range col.DistinctNums() {
		name := formatNum(v)
		if sp.Type == "column" {
			if lbl, ok := labels[v]; ok {
				name = lbl + " " + sp.Name
			} else {
				name = formatNum(v) + " " + sp.Name
			}
		}
		vals := make([]float64, col.Len())
		null := make([]bool, col.Len())
		for i := 0; i < col.Len(); i++ {
			if !col.IsNull(i) && col.Num(i) == v {
				vals[i] = 1
			} else {
				null[i] = true
			}
		}
		out = append(out, Category{Name: name, Label: name, Values: vals, Null: null})
	}
	return out, nil
}

// buildStringSplit handles splits over string source columns, where the raw
// value doubles as the dictionary label.
func buildStringSplit(col *dataset.Column, sp Spec) []Category {
	var out []Category
	for _, v := range col.DistinctStrs() {
		name := v
		if sp.Type == "column" {
			name = v + " " + sp.Name
		}
		vals := make([]float64, col.Len())
		null := make([]bool, col.Len())
		for i := 0; i < col.Len(); i++ {
			if !col.IsNull(i) && col.Str(i) == v {
				vals[i] = 1
			} else {
				null[i] = true
			}
		}
		out = append(out, Category{Name: name, Label: name, Values: vals, Null: null})
	}
	return out
}

// buildCombination derives one category per observed pair of values across
// two source columns.
func buildCombination(ds *dataset.Dataset, sp Spec) ([]Category, error) {
	if len(sp.Columns) != 2 {
		return nil, fmt.Errorf("combination needs exactly 2 columns, got %d", len(sp.Columns))
	}
	a, ok := ds.Column(sp.Columns[0])
	if !ok {
		return nil, fmt.Errorf("unknown column %q", sp.Columns[0])
	}
	b, ok := ds.Column(sp.Columns[1])
	if !ok {
		return nil, fmt.Errorf("unknown column %q", sp.Columns[1])
	}

	type pair struct{ av, bv string }
	order := []pair{}
	seen := map[pair]bool{}
	cell := func(c *dataset.Column, i int) (string, bool) {
		if c.IsNull(i) {
			return "", false
		}
		if c.Kind == dataset.Numeric {
			return formatNum(c.Num(i)), true
		}
		return c.Str(i), true
	}
	rows := ds.NumRows()
	for i := 0; i < rows; i++ {
		av, aok := cell(a, i)
		bv, bok := cell(b, i)
		if !aok || !bok {
			continue
		}
		p := pair{av, bv}
		if !seen[p] {
			seen[p] = true
			order = append(order, p)
		}
	}

	var out []Category
	for _, p := range order {
		name := p.av + ":" + p.bv
		vals := make([]float64, rows)
		null := make([]bool, rows)
		for i := 0; i < rows; i++ {
			av, aok := cell(a, i)
			bv, bok := cell(b, i)
			if aok && bok && av == p.av && bv == p.bv {
				vals[i] = 1
			} else {
				null[i] = true
			}
		}
		out = append(out, Category{Name: name, Label: name, Values: vals, Null: null})
	}
	return out, nil
}

func buildSingle(ds *dataset.Dataset, sp Spec) (Category, error) {
	pred, err := ParsePredicate(sp.Condition)
	if err != nil {
		return Category{}, fmt.Errorf("parse condition: %w", err)
	}
	mask, err := pred.Mask(ds)
	if err != nil {
		return Category{}, err
	}
	vals := make([]float64, len(mask))
	null := make([]bool, len(mask))
	for i, m := range mask {
		if m {
			vals[i] = 1
		} else {
			null[i] = true
		}
	}
	return Category{Name: sp.Name, Label: labelOr(sp.Label, sp.Name), Values: vals, Null: null}, nil
}

// buildConditional applies ordered predicate→value rules: the first matching
// rule assigns its value; otherwise the default applies (null when absent).
func buildConditional(ds *dataset.Dataset, sp Spec) (Category, error) {
	if len(sp.Rules) == 0 {
		return Category{}, fmt.Errorf("conditional has no rules")
	}
	rows := ds.NumRows()
	vals := make([]float64, rows)
	null := make([]bool, rows)
	assigned := make([]bool, rows)

	for _, r := range sp.Rules {
		pred, err := ParsePredicate(r.When)
		if err != nil {
			return Category{}, fmt.Errorf("parse rule %q: %w", r.When, err)
		}
		mask, err := pred.Mask(ds)
		if err != nil {
			return Category{}, err
		}
		for i, m := range mask {
			if m && !assigned[i] {
				assigned[i] = true
				vals[i] = r.Value
			}
		}
	}
	for i := 0; i < rows; i++ {
		if !assigned[i] {
			if sp.Default != nil {
				vals[i] = *sp.Default
			} else {
				null[i] = true
			}
		}
	}
	return Category{Name: sp.Name, Label: labelOr(sp.Label, sp.Name), Values: vals, Null: null}, nil
}

// register appends the category as an indicator column and records its
// display metadata. A name collision with an existing dataset column keeps
// the category usable but leaves the dataset untouched.
func register(ds *dataset.Dataset, c Category) {
	col := dataset.NewNumericColumn(c.Name, c.Values, c.Null)
	if err := ds.AddColumn(col); err != nil {
		return
	}
	ds.SetMeta(c.Name, dataset.VarMeta{
		Label:       c.Label,
		ValueLabels: map[float64]string{1: c.Label},
	})
}

func labelOr(label, fallback string) string {
	if label != "" {
		return label
	}
	return fallback
}

func formatNum(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	return strings.TrimSuffix(s, ".0")
}
