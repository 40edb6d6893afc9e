package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/councilgo-dev/councilgo"
)

const historyFile = "history"

func interactiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Start an interactive debate session",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer func() { _ = engine.Close() }()
			return runInteractive(cmd, engine)
		},
	}
	cmd.Flags().StringVarP(&workdir, "workdir", "w", "", "project directory the experts operate in")
	return cmd
}

func runInteractive(cmd *cobra.Command, engine *councilgo.Engine) error {
	line := liner.NewLiner()
	defer func() { _ = line.Close() }()

	line.SetCtrlCAborts(true)
	histPath := historyPath()
	if histPath != "" {
		if f, err := os.Open(histPath); err == nil { // #nosec G304 - fixed path under the user's home
			_, _ = line.ReadHistory(f)
			_ = f.Close()
		}
	}

	fmt.Println("councilgo interactive session. Type a question, or /help.")
	for {
		input, err := line.Prompt("council> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				break
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if quit := handleCommand(engine, input); quit {
				break
			}
			continue
		}

		result, err := engine.Debate(cmd.Context(), councilgo.Request{
			Question: input,
			Workdir:  workdir,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "debate failed: %v\n", err)
			continue
		}
		printResult(result)
	}

	if histPath != "" {
		if f, err := os.Create(histPath); err == nil { // #nosec G304
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}
	return nil
}

// handleCommand executes a slash command; returns true to quit.
func handleCommand(engine *councilgo.Engine, input string) bool {
	switch strings.Fields(input)[0] {
	case "/quit", "/exit":
		return true
	case "/experts":
		for _, d := range engine.Experts() {
			fmt.Printf("  %-10s %s (%s)\n", d.ID, d.DisplayName, d.RoleTag)
		}
	case "/stats":
		s := engine.CacheStats()
		fmt.Printf("  cache: %d hits, %d misses, %d stored\n", s.Hits, s.Misses, s.Stores)
		r := engine.RetryStats()
		fmt.Printf("  retries: %d across %d attempts\n", r.Retries, r.Attempts)
	case "/clear":
		fmt.Printf("  removed %d cached results\n", engine.ClearCache())
	case "/help":
		fmt.Println("  /experts  list the expert panel")
		fmt.Println("  /stats    show cache and retry statistics")
		fmt.Println("  /clear    clear the result cache")
		fmt.Println("  /quit     leave the session")
	default:
		fmt.Println("  unknown command; try /help")
	}
	return false
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".councilgo")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return ""
	}
	return filepath.Join(dir, historyFile)
}
