package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tabloom/tabloom-cli/internal/dataset"
	"github.com/tabloom/tabloom-cli/internal/schema"
)

var classifyMetaPath string

var classifyCmd = &cobra.Command{
	Use:   "classify <data.csv>",
	Short: "Show how the dataset's variables would be classified",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var side *dataset.Sidecar
		if classifyMetaPath != "" {
			s, err := dataset.LoadSidecar(classifyMetaPath)
			if err != nil {
				return err
			}
			side = s
		}
		ds, err := dataset.LoadCSV(args[0], side)
		if err != nil {
			return err
		}

		opt := schema.DefaultOptions()
		if cfg != nil {
			opt = schema.Options{
				Prefixes:      cfg.Prefixes,
				MultiResponse: cfg.MultiResponse,
				Ranking:       cfg.Ranking,
				Grid:          cfg.Grid,
				SingleChoice:  cfg.SingleChoice,
			}
		}
		s, err := schema.Classify(ds, opt)
		if err != nil {
			return err
		}
		if len(s.Questions) == 0 {
			fmt.Println("No eligible survey columns found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COLUMN\tBASE\tTYPE\tLABEL")
		for _, q := range s.Questions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", q.ID, q.BaseQuestion, q.Type, q.Label)
		}
		return w.Flush()
	},
}

func init() {
	classifyCmd.Flags().StringVarP(&classifyMetaPath, "metadata", "m", "", "column metadata YAML")
	rootCmd.AddCommand(classifyCmd)
}
