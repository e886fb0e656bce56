package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/tabloom/tabloom-cli/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or set Tabloom configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			fmt.Println("No config loaded")
			return nil
		}
		fmt.Printf("minimum_count: %d\n", cfg.MinimumCount)
		fmt.Printf("prefixes: %s\n", strings.Join(cfg.Prefixes, ","))
		fmt.Printf("multi_response_pattern: %s\n", cfg.MultiResponse)
		fmt.Printf("ranking_pattern: %s\n", cfg.Ranking)
		fmt.Printf("grid_pattern: %s\n", cfg.Grid)
		fmt.Printf("single_choice_pattern: %s\n", cfg.SingleChoice)
		fmt.Printf("weight_column: %s\n", cfg.WeightColumn)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value and save to disk",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		switch key {
		case "minimum_count":
			i, err := strconv.Atoi(val)
			if err != nil || i < 0 {
				return fmt.Errorf("invalid int for minimum_count: %v", val)
			}
			cfg.MinimumCount = i
		case "prefixes":
			var out []string
			for _, p := range strings.Split(val, ",") {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			if len(out) == 0 {
				return fmt.Errorf("prefixes must name at least one prefix")
			}
			cfg.Prefixes = out
		case "multi_response_pattern":
			cfg.MultiResponse = val
		case "ranking_pattern":
			cfg.Ranking = val
		case "grid_pattern":
			cfg.Grid = val
		case "single_choice_pattern":
			cfg.SingleChoice = val
		case "weight_column":
			cfg.WeightColumn = val
		default:
			return fmt.Errorf("unknown key: %s", key)
		}
		if err := cfgpkg.Save(cfg, cfgFile); err != nil {
			return err
		}
		fmt.Println("Saved config")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
