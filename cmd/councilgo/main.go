// Command councilgo runs multi-expert consensus debates from the terminal.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/councilgo-dev/councilgo"
	"github.com/councilgo-dev/councilgo/internal/observability"
	"github.com/councilgo-dev/councilgo/pkg/config"
	obs "github.com/councilgo-dev/councilgo/pkg/observability"
)

// Version information (set via ldflags)
var Version = "dev"

var (
	configFile string
	workdir    string
	expertSpec string
	noCache    bool
	verbose    bool
	forceVerif bool
	skipVerif  bool
	ultrathink bool
	deadline   time.Duration
)

func main() {
	err := rootCmd().Execute()
	if shutdownErr := observability.Shutdown(context.Background()); shutdownErr != nil {
		log.Printf("tracing shutdown: %v", shutdownErr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "councilgo",
		Short: "Multi-expert AI consensus engine",
		Long: "councilgo orchestrates a panel of CLI AI assistants through a structured\n" +
			"debate and returns a synthesized answer with a confidence score.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configFile, "config", os.Getenv("COUNCILGO_CONFIG"), "config file (YAML)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print progress events")

	root.AddCommand(debateCmd())
	root.AddCommand(expertsCmd())
	root.AddCommand(cacheCmd())
	root.AddCommand(interactiveCmd())
	root.AddCommand(versionCmd())
	return root
}

// loadConfig resolves the configuration for a command run.
func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

// newEngine assembles an engine with the shared CLI options.
func newEngine() (*councilgo.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if err := observability.InitFromEnv(); err != nil {
		log.Printf("tracing disabled: %v", err)
	}
	if cfg.Observability.Enabled {
		checker := obs.InitHealthChecker()
		checker.RegisterCheck(obs.PingCheck())
	}

	var opts []councilgo.Option
	if verbose {
		opts = append(opts, councilgo.WithProgress(printProgress))
	}
	return councilgo.New(cfg, opts...)
}

func printProgress(e councilgo.ProgressEvent) {
	if e.ExpertID != "" {
		fmt.Fprintf(os.Stderr, "[%3.0f%%] %s %s: %s\n", e.Percentage, e.Phase, e.ExpertID, e.Status)
		return
	}
	msg := e.Message
	if msg != "" {
		msg = " (" + msg + ")"
	}
	fmt.Fprintf(os.Stderr, "[%3.0f%%] %s%s\n", e.Percentage, e.Phase, msg)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("councilgo %s\n", Version)
		},
	}
}
