package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/councilgo-dev/councilgo"
	"github.com/councilgo-dev/councilgo/internal/debate"
)

func debateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debate [question]",
		Short: "Run a multi-expert debate on a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()

			result, err := engine.Debate(cmd.Context(), councilgo.Request{
				Question:    strings.Join(args, " "),
				Workdir:     workdir,
				ExpertSpec:  expertSpec,
				BypassCache: noCache,
				Deadline:    deadline,
				Debate: debate.Options{
					ForceVerification: forceVerif,
					SkipVerification:  skipVerif,
					Ultrathink:        ultrathink,
				},
			})
			if err != nil {
				return err
			}

			printResult(result)
			return nil
		},
	}

	cmd.Flags().StringVarP(&workdir, "workdir", "w", "", "project directory the experts operate in")
	cmd.Flags().StringVarP(&expertSpec, "experts", "e", "", "pin the panel directly, e.g. claude:2,gemini")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the result cache")
	cmd.Flags().BoolVar(&forceVerif, "verify", false, "force cross-verification")
	cmd.Flags().BoolVar(&skipVerif, "no-verify", false, "skip cross-verification")
	cmd.Flags().BoolVar(&ultrathink, "ultrathink", false, "request deeper reasoning from the lead expert")
	cmd.Flags().DurationVar(&deadline, "deadline", 0, "overall debate deadline, e.g. 10m (0 uses the configured default)")
	return cmd
}

func printResult(r *councilgo.Result) {
	fmt.Println(r.FinalText)
	fmt.Println()

	source := "fresh debate"
	if r.FromCache {
		source = fmt.Sprintf("cached (%s)", r.CachedAt.Format("2006-01-02 15:04"))
	}
	fmt.Printf("Confidence: %.0f/100 (%s)\n", r.Confidence.Score, r.Confidence.Level)
	fmt.Printf("Source: %s, %d ms\n", source, r.ResponseTimeMs)
	if r.Confidence.Recommendation != "" {
		fmt.Printf("Recommendation: %s\n", r.Confidence.Recommendation)
	}
}
