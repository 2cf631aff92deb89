package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"genstudio/internal/catalog"
)

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default(), nil
	}
	return catalog.Load(path)
}

func newModelsCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List generation models with their default cost",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(catalogPath)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tENDPOINT\tRATIOS\tDURATIONS\tCREDITS\tUSD")
			for _, m := range cat.List() {
				credits := m.Cost("", 0)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.2f\n",
					m.ID, m.Endpoint, strings.Join(m.Ratios, ","), joinInts(m.Durations), credits, catalog.USD(credits))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "path to a model catalog YAML (defaults to the built-in catalog)")
	return cmd
}

func newCostCmd() *cobra.Command {
	var (
		catalogPath string
		ratio       string
		duration    int
	)

	cmd := &cobra.Command{
		Use:   "cost <model>",
		Short: "Estimate the credit cost of a generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog(catalogPath)
			if err != nil {
				return err
			}
			credits, err := cat.EstimateCost(args[0], ratio, duration)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credits ($%.2f)\n", args[0], credits, catalog.USD(credits))
			return nil
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "path to a model catalog YAML (defaults to the built-in catalog)")
	cmd.Flags().StringVar(&ratio, "ratio", "", "output ratio, e.g. 1280:720 (defaults to the model's first ratio)")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in seconds (defaults to the model's first duration)")
	return cmd
}

func joinInts(values []int) string {
	if len(values) == 0 {
		return "-"
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
