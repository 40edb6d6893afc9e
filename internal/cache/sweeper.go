package cache

import (
	"log"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the invalidation sweep every 15 minutes.
const DefaultSweepSchedule = "@every 15m"

// Sweeper periodically applies the invalidation policy to the whole cache so
// expired entries are reclaimed even when their keys are never looked up.
type Sweeper struct {
	cache *Cache
	cron  *cron.Cron
}

// NewSweeper schedules the sweep; spec follows cron syntax and defaults to
// DefaultSweepSchedule when empty.
func NewSweeper(cache *Cache, spec string) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}

	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if removed := cache.Sweep(); removed > 0 {
			log.Printf("cache: sweep removed %d stale entries", removed)
		}
	})
	if err != nil {
		return nil, err
	}

	return &Sweeper{cache: cache, cron: c}, nil
}

// Start begins running sweeps in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
