package coordinator

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/councilgo-dev/councilgo/internal/debate"
	"github.com/councilgo-dev/councilgo/internal/project"
	"github.com/councilgo-dev/councilgo/internal/retry"
)

// debateLog is the on-disk record of one debate, failed or not. RetryStats is
// a snapshot of the controller's cumulative counters at write time.
type debateLog struct {
	Failed     bool           `json:"failed,omitempty"`
	Result     *debate.Result `json:"result"`
	RetryStats *retry.Stats   `json:"retry_stats,omitempty"`
}

// writeLog persists the debate record as debate_<nanos>.json under logDir.
// Logging is best effort; failures never affect the debate outcome.
func (c *Coordinator) writeLog(result *debate.Result, failed bool) {
	if c.logDir == "" {
		return
	}

	if err := os.MkdirAll(c.logDir, 0700); err != nil {
		log.Printf("coordinator: create log directory: %v", err)
		return
	}

	entry := debateLog{Failed: failed, Result: result}
	if c.retryStats != nil {
		stats := c.retryStats()
		entry.RetryStats = &stats
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		log.Printf("coordinator: marshal debate log: %v", err)
		return
	}

	name := fmt.Sprintf("debate_%d.json", time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(c.logDir, name), data, 0600); err != nil {
		log.Printf("coordinator: write debate log: %v", err)
	}
}

// manifestMTime returns the newest mtime among the workdir's manifest files,
// 0 when none exist.
func manifestMTime(workdir string) int64 {
	if workdir == "" || workdir == "current" {
		wd, err := os.Getwd()
		if err != nil {
			return 0
		}
		workdir = wd
	}

	var newest int64
	for _, stat := range project.Snapshot(workdir).KeyFiles {
		if stat.MTimeNanos > newest {
			newest = stat.MTimeNanos
		}
	}
	return newest
}
