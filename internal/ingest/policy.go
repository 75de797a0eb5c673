package ingest

import (
	"math"
	"time"
)

// StagePolicy is the timeout and retry budget a controller applies to one
// stage. MaxAttempts counts the first attempt.
type StagePolicy struct {
	Timeout            time.Duration
	MaxAttempts        int
	InitialInterval    time.Duration
	BackoffCoefficient float64
	MaximumInterval    time.Duration
}

// Backoff is the wait before attempt+1, for attempt starting at 1.
func (p StagePolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 || p.InitialInterval <= 0 {
		return 0
	}
	coef := p.BackoffCoefficient
	if coef < 1 {
		coef = 1
	}
	d := time.Duration(float64(p.InitialInterval) * math.Pow(coef, float64(attempt-1)))
	if p.MaximumInterval > 0 && d > p.MaximumInterval {
		d = p.MaximumInterval
	}
	return d
}

type Policies struct {
	Fetch   StagePolicy
	Archive StagePolicy
	Load    StagePolicy
	Cleanup StagePolicy
}

func DefaultPolicies() Policies {
	base := StagePolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2,
		MaximumInterval:    time.Minute,
	}
	fetch, archive, load, cleanup := base, base, base, base
	fetch.Timeout, fetch.MaxAttempts = 10*time.Minute, 3
	archive.Timeout, archive.MaxAttempts = 5*time.Minute, 3
	load.Timeout, load.MaxAttempts = 30*time.Minute, 2
	cleanup.Timeout, cleanup.MaxAttempts = time.Minute, 3
	return Policies{Fetch: fetch, Archive: archive, Load: load, Cleanup: cleanup}
}

func (p Policies) For(stage Stage) StagePolicy {
	switch stage {
	case StageFetch:
		return p.Fetch
	case StageArchive:
		return p.Archive
	case StageLoad:
		return p.Load
	default:
		return p.Cleanup
	}
}
