package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tabloom/tabloom-cli/internal/category"
	"github.com/tabloom/tabloom-cli/internal/dataset"
	"github.com/tabloom/tabloom-cli/internal/index"
	"github.com/tabloom/tabloom-cli/internal/weights"
)

// Global configuration structure: defaults applied to every pipeline spec
// that does not override them.
type Global struct {
	MinimumCount  int      `mapstructure:"minimum_count" yaml:"minimum_count"`
	Prefixes      []string `mapstructure:"prefixes" yaml:"prefixes"`
	MultiResponse string   `mapstructure:"multi_response_pattern" yaml:"multi_response_pattern"`
	Ranking       string   `mapstructure:"ranking_pattern" yaml:"ranking_pattern"`
	Grid          string   `mapstructure:"grid_pattern" yaml:"grid_pattern"`
	SingleChoice  string   `mapstructure:"single_choice_pattern" yaml:"single_choice_pattern"`
	WeightColumn  string   `mapstructure:"weight_column" yaml:"weight_column"`
}

// Save writes the given configuration to the cfgFile path. If cfgFile is
// empty, it writes to ~/.tabloom/config.yaml, creating the directory if
// necessary.
func Save(c *Global, cfgFile string) error {
	var path string
	if cfgFile != "" {
		path = cfgFile
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		dir := filepath.Join(home, ".tabloom")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir config dir: %w", err)
		}
		path = filepath.Join(dir, "config.yaml")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Load loads configuration from file, env, and defaults.
// Precedence: flags (cfgFile) > env > config file > defaults.
func Load(cfgFile string) (*Global, error) {
	v := viper.New()
	v.SetEnvPrefix("TABLOOM")
	v.AutomaticEnv()

	v.SetDefault("minimum_count", 5)
	v.SetDefault("prefixes", []string{"Q"})
	v.SetDefault("multi_response_pattern", `C\d+$`)
	v.SetDefault("ranking_pattern", `M\d+$`)
	v.SetDefault("grid_pattern", `_A?\d+$`)
	v.SetDefault("single_choice_pattern", `^Q\d+[a-zA-Z]?$`)
	v.SetDefault("weight_column", "weight")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		dir := filepath.Join(home, ".tabloom")
		_ = os.MkdirAll(dir, 0o755)
		v.AddConfigPath(dir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	// optional read
	_ = v.ReadInConfig()

	var c Global
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &c, nil
}

// Weighting configures the IPF weight calculation for a pipeline run.
type Weighting struct {
	Dimensions    []weights.Dimension `yaml:"dimensions"`
	MaxIterations int                 `yaml:"max_iterations"`
	Tolerance     float64             `yaml:"tolerance"`
}

// Spec is one pipeline specification: everything a run needs beyond the
// respondent data itself.
type Spec struct {
	Prefixes      []string `yaml:"prefixes"`
	MultiResponse string   `yaml:"multi_response_pattern"`
	Ranking       string   `yaml:"ranking_pattern"`
	Grid          string   `yaml:"grid_pattern"`
	SingleChoice  string   `yaml:"single_choice_pattern"`

	// NaNValues maps missing-value codes to their replacement; a null
	// replacement (the usual case) turns the code into a missing value.
	NaNValues    map[string]*float64 `yaml:"nan_values"`
	MinimumCount int                 `yaml:"minimum_count"`

	// WeightColumn names a precomputed weight column; Weighting computes one
	// instead via IPF. Weighting wins when both are set.
	WeightColumn string     `yaml:"weight_column"`
	Weighting    *Weighting `yaml:"weighting"`

	Categories      []category.Spec   `yaml:"categories"`
	QuestionFilters map[string]string `yaml:"question_filters"`

	Areas         []index.Area `yaml:"areas"`
	CorrelateArea string       `yaml:"correlate_area"`
	// Scale is the optional [low, high] target range for index rescaling.
	Scale []float64 `yaml:"scale"`

	// Metadata is the per-column display metadata, equivalent to a dataset
	// sidecar embedded in the spec.
	Metadata map[string]dataset.ColumnMeta `yaml:"metadata"`
}

// LoadSpec reads a pipeline spec from a YAML file and fills unset fields
// from the global defaults.
func LoadSpec(path string, g *Global) (*Spec, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec: %w", err)
	}
	var s Spec
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse spec: %w", err)
	}
	s.ApplyDefaults(g)
	return &s, nil
}

// ApplyDefaults fills unset spec fields from the global configuration.
func (s *Spec) ApplyDefaults(g *Global) {
	if g == nil {
		return
	}
	if len(s.Prefixes) == 0 {
		s.Prefixes = g.Prefixes
	}
	if s.MultiResponse == "" {
		s.MultiResponse = g.MultiResponse
	}
	if s.Ranking == "" {
		s.Ranking = g.Ranking
	}
	if s.Grid == "" {
		s.Grid = g.Grid
	}
	if s.SingleChoice == "" {
		s.SingleChoice = g.SingleChoice
	}
	if s.MinimumCount == 0 {
		s.MinimumCount = g.MinimumCount
	}
	if s.WeightColumn == "" {
		s.WeightColumn = g.WeightColumn
	}
}

// NaNCodes returns the codes of the missing-value map whose replacement is
// null, the ones treated as missing downstream. Codes mapped to a concrete
// replacement value are substituted instead; see Replacements.
func (s *Spec) NaNCodes() []float64 {
	out := make([]float64, 0, len(s.NaNValues))
	for k, repl := range s.NaNValues {
		if repl != nil {
			continue
		}
		x, err := strconv.ParseFloat(k, 64)
		if err != nil {
			continue
		}
		out = append(out, x)
	}
	return out
}

// Replacements returns the code→value substitutions of the missing-value map.
func (s *Spec) Replacements() map[float64]float64 {
	out := make(map[float64]float64)
	for k, repl := range s.NaNValues {
		if repl == nil {
			continue
		}
		x, err := strconv.ParseFloat(k, 64)
		if err != nil {
			continue
		}
		out[x] = *repl
	}
	return out
}

// Sidecar converts the embedded metadata into a dataset sidecar, or nil when
// the spec carries none.
func (s *Spec) Sidecar() *dataset.Sidecar {
	if len(s.Metadata) == 0 {
		return nil
	}
	return &dataset.Sidecar{Columns: s.Metadata}
}

// ScaleRange returns the target rescale range, or nil when disabled or
// malformed.
func (s *Spec) ScaleRange() *[2]float64 {
	if len(s.Scale) != 2 {
		return nil
	}
	return &[2]float64{s.Scale[0], s.Scale[1]}
}
