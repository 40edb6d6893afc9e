package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func expertsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "experts",
		Short: "List the expert catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tROLE\tCOST\tSPEED\tSPECIALTIES")
			for _, d := range engine.Experts() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%d\t%s\n",
					d.ID, d.DisplayName, d.RoleTag, d.RelativeCost, d.RelativeSpeed,
					strings.Join(d.Specialties, ","))
			}
			return w.Flush()
		},
	}
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the result cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			s := engine.CacheStats()
			fmt.Printf("hits:           %d\n", s.Hits)
			fmt.Printf("misses:         %d\n", s.Misses)
			fmt.Printf("hit rate:       %.1f%%\n", s.HitRate()*100)
			fmt.Printf("stores:         %d\n", s.Stores)
			fmt.Printf("invalidations:  %d\n", s.Invalidations)
			fmt.Printf("evictions:      %d\n", s.Evictions)
			fmt.Printf("tokens saved:   %d\n", s.TokensSaved)
			fmt.Printf("cost saved:     $%.4f\n", s.CostSaved)
			if s.AvgHitResponseMs > 0 || s.AvgFreshResponseMs > 0 {
				fmt.Printf("avg hit time:   %.0f ms\n", s.AvgHitResponseMs)
				fmt.Printf("avg fresh time: %.0f ms\n", s.AvgFreshResponseMs)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached result",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			fmt.Printf("removed %d entries\n", engine.ClearCache())
			return nil
		},
	})

	return cmd
}
