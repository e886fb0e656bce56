package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ColumnMeta is the YAML sidecar entry for one column.
type ColumnMeta struct {
	Label  string             `yaml:"label"`
	Values map[string]string  `yaml:"values"`
	Type   string             `yaml:"type"` // "numeric" | "string"; empty = infer
}

// Sidecar is the YAML metadata document that accompanies a respondent CSV:
// display labels and value dictionaries per column.
type Sidecar struct {
	Columns map[string]ColumnMeta `yaml:"columns"`
}

// LoadSidecar reads a YAML metadata sidecar from disk.
func LoadSidecar(path string) (*Sidecar, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var s Sidecar
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &s, nil
}

// LoadCSV reads a respondent-level CSV into a Dataset. Empty cells are null.
// A column is numeric when every non-empty cell parses as a float, unless the
// sidecar forces a type. Sidecar labels and value dictionaries are attached
// as column metadata.
func LoadCSV(path string, side *Sidecar) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	ncol := len(header)
	raw := make([][]string, ncol)

	rows := 0
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", rows+1, err)
		}
		for j := 0; j < ncol; j++ {
			v := ""
			if j < len(rec) {
				v = strings.TrimSpace(rec[j])
			}
			raw[j] = append(raw[j], v)
		}
		rows++
	}

	ds := New(rows)
	for j, name := range header {
		name = strings.TrimSpace(name)
		var cm ColumnMeta
		if side != nil {
			cm = side.Columns[name]
		}
		col := buildColumn(name, raw[j], cm.Type)
		if err := ds.AddColumn(col); err != nil {
			return nil, err
		}
		if cm.Label != "" || len(cm.Values) > 0 {
			ds.SetMeta(name, VarMeta{Label: cm.Label, ValueLabels: parseValueLabels(cm.Values)})
		}
	}
	return ds, nil
}

func buildColumn(name string, cells []string, forced string) *Column {
	null := make([]bool, len(cells))
	numeric := forced != "string"
	nums := make([]float64, len(cells))
	for i, v := range cells {
		if v == "" {
			null[i] = true
			continue
		}
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			if forced == "" {
				numeric = false
			}
			continue
		}
		nums[i] = x
	}
	if numeric {
		// Cells that failed to parse under a forced numeric type become null.
		for i, v := range cells {
			if v == "" {
				continue
			}
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				null[i] = true
			}
		}
		return NewNumericColumn(name, nums, null)
	}
	strs := make([]string, len(cells))
	copy(strs, cells)
	return NewStringColumn(name, strs, null)
}

func parseValueLabels(values map[string]string) map[float64]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[float64]string, len(values))
	for k, label := range values {
		x, err := strconv.ParseFloat(k, 64)
		if err != nil {
			continue
		}
		out[x] = label
	}
	return out
}
