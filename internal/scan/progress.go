package scan

import (
	"time"

	"github.com/unicro/uniscout/internal/config"
)

// progressTracker measures one session's progress. Values only grow.
type progressTracker struct {
	cfg       config.TechnologyConfig
	startedAt time.Time
	seen      map[string]struct{}
	value     float64
	ended     bool
}

func newProgressTracker(cfg config.TechnologyConfig, startedAt time.Time) *progressTracker {
	return &progressTracker{
		cfg:       cfg,
		startedAt: startedAt,
		seen:      make(map[string]struct{}),
	}
}

// observe counts a distinct device toward a listen-mode first batch.
func (p *progressTracker) observe(identity string) {
	if p.cfg.Mode == config.ModeListen {
		p.seen[identity] = struct{}{}
	}
}

// finish marks the session's stream as closed.
func (p *progressTracker) finish() {
	p.ended = true
}

// at returns the progress at now, never lower than a previous result.
func (p *progressTracker) at(now time.Time) float64 {
	elapsed := now.Sub(p.startedAt)

	var v float64
	switch {
	case p.ended:
		v = 1
	case p.cfg.Mode == config.ModeListen:
		v = fraction(elapsed, p.cfg.FirstBatchWindow)
		if p.cfg.FirstBatchSize > 0 {
			if batch := float64(len(p.seen)) / float64(p.cfg.FirstBatchSize); batch > v {
				v = batch
			}
		}
	default:
		v = fraction(elapsed, p.cfg.Duration)
	}

	if v > 1 {
		v = 1
	}
	if v > p.value {
		p.value = v
	}
	return p.value
}

func fraction(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(elapsed) / float64(total)
}
