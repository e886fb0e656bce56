package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	cfgpkg "github.com/tabloom/tabloom-cli/internal/config"
	"github.com/tabloom/tabloom-cli/internal/dataset"
	"github.com/tabloom/tabloom-cli/internal/index"
	"github.com/tabloom/tabloom-cli/internal/pipeline"
	"github.com/tabloom/tabloom-cli/internal/tabulate"
)

var (
	runSpecPath string
	runMetaPath string
	runOutPath  string
)

var runCmd = &cobra.Command{
	Use:   "run <data.csv>",
	Short: "Run the full tabulation pipeline on a respondent CSV",
	Long: `Run classifies the dataset's variables, builds the configured respondent
segments, fits weights, and writes the cross-tabulation, ranking, index and
correlation tables as a YAML document.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := loadRunSpec()
		if err != nil {
			return err
		}

		side := spec.Sidecar()
		if runMetaPath != "" {
			side, err = dataset.LoadSidecar(runMetaPath)
			if err != nil {
				return err
			}
		}

		ds, err := dataset.LoadCSV(args[0], side)
		if err != nil {
			return err
		}
		if debug {
			fmt.Fprintf(os.Stderr, "loaded %d respondents, %d columns\n", ds.NumRows(), len(ds.Names()))
		}

		res, err := pipeline.Run(ds, spec)
		if err != nil {
			if errors.Is(err, pipeline.ErrEmptySchema) {
				return fmt.Errorf("%w (check the prefixes setting)", err)
			}
			return err
		}
		for _, w := range res.Warnings {
			fmt.Fprintln(os.Stderr, "⚠ Warning:", w)
		}

		doc := buildReport(res, spec)
		b, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
		if runOutPath == "" {
			fmt.Print(string(b))
			return nil
		}
		if err := os.WriteFile(runOutPath, b, 0o644); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
		fmt.Printf("✓ Wrote %s (run %s)\n", runOutPath, res.RunID)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runSpecPath, "spec", "s", "", "pipeline spec YAML (required)")
	runCmd.Flags().StringVarP(&runMetaPath, "metadata", "m", "", "column metadata YAML (overrides spec-embedded metadata)")
	runCmd.Flags().StringVarP(&runOutPath, "out", "o", "", "output file (default stdout)")
	_ = runCmd.MarkFlagRequired("spec")
	rootCmd.AddCommand(runCmd)
}

func loadRunSpec() (*cfgpkg.Spec, error) {
	if runSpecPath == "" {
		return nil, fmt.Errorf("--spec is required")
	}
	return cfgpkg.LoadSpec(runSpecPath, cfg)
}

// report is the YAML document written for one run.
type report struct {
	RunID       string                 `yaml:"run_id"`
	Frequencies []reportRow            `yaml:"frequencies"`
	Ranking     []reportRankingRow     `yaml:"ranking,omitempty"`
	Index       []reportIndexRow       `yaml:"index,omitempty"`
	Correlation []index.CorrelationRow `yaml:"correlation,omitempty"`
	OpenText    []pipeline.OpenTextRow `yaml:"open_text,omitempty"`
}

type reportRow struct {
	Question string             `yaml:"question"`
	Answer   string             `yaml:"answer,omitempty"`
	Metric   string             `yaml:"metric"`
	Values   map[string]float64 `yaml:"values"`
}

type reportRankingRow struct {
	Category         string    `yaml:"category"`
	Question         string    `yaml:"question"`
	Item             string    `yaml:"item"`
	ItemLabel        string    `yaml:"item_label,omitempty"`
	RankCounts       []float64 `yaml:"rank_counts"`
	RankPercentages  []float64 `yaml:"rank_percentages"`
	TotalScore       float64   `yaml:"total_score"`
	TotalRespondents float64   `yaml:"total_respondents"`
}

type reportIndexRow struct {
	Category string              `yaml:"category"`
	Values   map[string]*float64 `yaml:"values"`
}

func buildReport(res *pipeline.Results, spec *cfgpkg.Spec) *report {
	doc := &report{RunID: res.RunID}

	freq := tabulate.Pivot(res.Tabulation.Cells)
	for _, row := range freq.Rows {
		doc.Frequencies = append(doc.Frequencies, reportRow{
			Question: row.Question,
			Answer:   row.Answer,
			Metric:   string(row.Metric),
			Values:   row.Values,
		})
	}

	for _, r := range res.Tabulation.Ranking {
		doc.Ranking = append(doc.Ranking, reportRankingRow{
			Category:         r.Category,
			Question:         r.BaseQuestion,
			Item:             r.Item,
			ItemLabel:        r.ItemLabel,
			RankCounts:       r.RankCounts,
			RankPercentages:  r.RankPercentages,
			TotalScore:       r.TotalScore,
			TotalRespondents: r.TotalRespondents,
		})
	}

	if res.Index != nil {
		tab := res.Index.Pivot(spec.Areas)
		for _, row := range tab.Rows {
			doc.Index = append(doc.Index, reportIndexRow{Category: row.Category, Values: row.Values})
		}
	}

	doc.Correlation = res.Correlation
	doc.OpenText = res.OpenText
	return doc
}
