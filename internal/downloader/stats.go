package downloader

import (
	"sync"
	"time"
)

// Stats are the counters for one download run. A logical image lands in
// exactly one of Downloaded, Skipped, or Errors.
type Stats struct {
	mu         sync.Mutex
	downloaded int
	skipped    int
	errors     int
	bytes      int64
	timeSpent  time.Duration
}

func (s *Stats) record(r Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.Outcome {
	case OutcomeDownloaded:
		s.downloaded++
		s.bytes += r.Bytes
		s.timeSpent += r.Duration
	case OutcomeSkipped:
		s.skipped++
	default:
		s.errors++
	}
}

func (s *Stats) Downloaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloaded
}

func (s *Stats) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

func (s *Stats) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

func (s *Stats) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// TimeSpent is the summed wall time of successful downloads, which can
// exceed the run's elapsed time when workers overlap
func (s *Stats) TimeSpent() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeSpent
}

// Snapshot returns all counters at once
func (s *Stats) Snapshot() (downloaded, skipped, errors int, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloaded, s.skipped, s.errors, s.bytes
}
