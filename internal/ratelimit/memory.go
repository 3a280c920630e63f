package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local sliding window store.
type Memory struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{windows: make(map[string][]time.Time), now: time.Now}
}

func (s *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamps := prune(s.windows[key], now.Add(-window))
	if len(stamps) >= limit {
		s.windows[key] = stamps
		return &Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: stamps[0].Add(window)}, nil
	}
	stamps = append(stamps, now)
	s.windows[key] = stamps
	return &Result{Allowed: true, Limit: limit, Remaining: limit - len(stamps), ResetAt: stamps[0].Add(window)}, nil
}

// prune drops timestamps at or before cutoff. stamps are ascending.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}
