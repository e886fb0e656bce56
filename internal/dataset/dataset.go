package dataset

import (
	"fmt"
	"sort"
)

// Kind is a column's storage type.
type Kind int

const (
	Numeric Kind = iota
	String
)

func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "string"
}

// VarMeta carries the display metadata attached to a column: a human label
// and, for categorical variables, the value→label dictionary keyed by the
// stored numeric code.
type VarMeta struct {
	Label       string
	ValueLabels map[float64]string
}

// Column is a single variable: one value per respondent, with an explicit
// null mask shared by both storage kinds. String columns keep Strs populated;
// numeric columns keep Nums.
type Column struct {
	Name string
	Kind Kind
	Nums []float64
	Strs []string
	Null []bool
}

// Len returns the number of rows in the column.
func (c *Column) Len() int { return len(c.Null) }

// IsNull reports whether row i holds no value.
func (c *Column) IsNull(i int) bool { return c.Null[i] }

// Num returns the numeric value at row i; only meaningful when !IsNull(i)
// and Kind == Numeric.
func (c *Column) Num(i int) float64 { return c.Nums[i] }

// Str returns the string value at row i.
func (c *Column) Str(i int) string { return c.Strs[i] }

// Dataset is a respondent-level table: one row per respondent, one column per
// variable. Engines borrow read access; derived columns are appended, never
// rewritten in place.
type Dataset struct {
	rows   int
	cols   []*Column
	byName map[string]int
	meta   map[string]VarMeta
}

// New creates an empty dataset with a fixed row count.
func New(rows int) *Dataset {
	return &Dataset{
		rows:   rows,
		byName: make(map[string]int),
		meta:   make(map[string]VarMeta),
	}
}

// NumRows returns the respondent count.
func (d *Dataset) NumRows() int { return d.rows }

// Names returns all column names in insertion order.
func (d *Dataset) Names() []string {
	out := make([]string, len(d.cols))
	for i, c := range d.cols {
		out[i] = c.Name
	}
	return out
}

// Column resolves a column by name.
func (d *Dataset) Column(name string) (*Column, bool) {
	i, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	return d.cols[i], true
}

// AddColumn appends a column. The column's length must match the dataset's
// row count and its name must be unused.
func (d *Dataset) AddColumn(c *Column) error {
	if c.Len() != d.rows {
		return fmt.Errorf("column %s: %d rows, dataset has %d", c.Name, c.Len(), d.rows)
	}
	if _, exists := d.byName[c.Name]; exists {
		return fmt.Errorf("column %s already exists", c.Name)
	}
	d.byName[c.Name] = len(d.cols)
	d.cols = append(d.cols, c)
	return nil
}

// SetMeta attaches or replaces display metadata for a column name. Metadata
// may be registered before the column exists (derived categories do this).
func (d *Dataset) SetMeta(name string, m VarMeta) { d.meta[name] = m }

// Meta returns the metadata for a column, if any was registered.
func (d *Dataset) Meta(name string) (VarMeta, bool) {
	m, ok := d.meta[name]
	return m, ok
}

// ValueLabels returns the value dictionary for a column, or nil.
func (d *Dataset) ValueLabels(name string) map[float64]string {
	return d.meta[name].ValueLabels
}

// NewNumericColumn builds a numeric column from values and a null mask.
// A nil mask means no nulls.
func NewNumericColumn(name string, vals []float64, null []bool) *Column {
	if null == nil {
		null = make([]bool, len(vals))
	}
	return &Column{Name: name, Kind: Numeric, Nums: vals, Null: null}
}

// NewStringColumn builds a string column; empty strings are stored but not
// implicitly null — pass a mask for true missing values.
func NewStringColumn(name string, vals []string, null []bool) *Column {
	if null == nil {
		null = make([]bool, len(vals))
	}
	return &Column{Name: name, Kind: String, Strs: vals, Null: null}
}

// DistinctNums returns the sorted distinct non-null numeric values of a column.
func (c *Column) DistinctNums() []float64 {
	seen := make(map[float64]struct{})
	for i := range c.Null {
		if c.Null[i] {
			continue
		}
		seen[c.Nums[i]] = struct{}{}
	}
	out := make([]float64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}

// DistinctStrs returns the sorted distinct non-null string values of a column.
func (c *Column) DistinctStrs() []string {
	seen := make(map[string]struct{})
	for i := range c.Null {
		if c.Null[i] {
			continue
		}
		seen[c.Strs[i]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
