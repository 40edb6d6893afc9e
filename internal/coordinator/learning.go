package coordinator

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/councilgo-dev/councilgo/internal/analyze"
	"github.com/councilgo-dev/councilgo/internal/debate"
)

// learningRecord is one JSONL line of the feedback feed: enough signal to
// tune selection heuristics offline without storing full transcripts.
type learningRecord struct {
	Timestamp    time.Time          `json:"timestamp"`
	Question     string             `json:"question"`
	Category     string             `json:"category,omitempty"`
	Complexity   float64            `json:"complexity,omitempty"`
	Criticality  float64            `json:"criticality,omitempty"`
	ExpertsUsed  []string           `json:"experts_used"`
	BestExpert   string             `json:"best_expert"`
	Scores       map[string]float64 `json:"scores"`
	Confidence   float64            `json:"confidence"`
	FromCache    bool               `json:"from_cache"`
	ResponseTime int64              `json:"response_time_ms"`
}

// LearningSink appends debate outcomes to a JSONL file. All failures are
// swallowed after a log line; learning data loss never affects a debate.
type LearningSink struct {
	path string
	mu   sync.Mutex
}

// NewLearningSink writes to path, defaulting to ~/.councilgo/learning.jsonl.
func NewLearningSink(path string) (*LearningSink, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".councilgo", "learning.jsonl")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return &LearningSink{path: path}, nil
}

// Record appends one outcome.
func (s *LearningSink) Record(result *debate.Result, analysis *analyze.Analysis) {
	rec := learningRecord{
		Timestamp:    time.Now(),
		Question:     result.Question,
		ExpertsUsed:  result.ExpertsUsed,
		FromCache:    result.FromCache,
		ResponseTime: result.ResponseTimeMs,
	}
	if analysis != nil {
		rec.Category = analysis.Category
		rec.Complexity = analysis.Complexity
		rec.Criticality = analysis.Criticality
	}
	if result.Ranking != nil {
		rec.BestExpert = result.Ranking.Best
		rec.Scores = result.Ranking.Scores
	}
	if result.Confidence != nil {
		rec.Confidence = result.Confidence.Score
	}

	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("learning: marshal record: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) // #nosec G304 - path fixed at construction
	if err != nil {
		log.Printf("learning: open feed: %v", err)
		return
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(append(data, '\n')); err != nil {
		log.Printf("learning: append record: %v", err)
	}
}
