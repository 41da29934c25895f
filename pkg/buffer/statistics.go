package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics tracks buffer activity. All methods are safe for concurrent use.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	drops     atomic.Int64
	size      atomic.Int64
	maxSize   atomic.Int64
	startTime time.Time
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

func (s *Statistics) recordWrite() { s.writes.Add(1) }

func (s *Statistics) recordReads(n int) { s.reads.Add(int64(n)) }

func (s *Statistics) recordDrop() { s.drops.Add(1) }

func (s *Statistics) updateSize(size int) {
	n := int64(size)
	s.size.Store(n)
	for {
		cur := s.maxSize.Load()
		if n <= cur || s.maxSize.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Writes returns the number of accepted writes.
func (s *Statistics) Writes() int64 { return s.writes.Load() }

// Reads returns the number of items read.
func (s *Statistics) Reads() int64 { return s.reads.Load() }

// Drops returns the number of items lost to overflow.
func (s *Statistics) Drops() int64 { return s.drops.Load() }

// CurrentSize returns the number of buffered items.
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }

// MaxSize returns the high-water mark.
func (s *Statistics) MaxSize() int64 { return s.maxSize.Load() }

// DropRate returns drops per write (0.0 to 1.0).
func (s *Statistics) DropRate() float64 {
	writes := s.Writes()
	if writes == 0 {
		return 0
	}
	return float64(s.Drops()) / float64(writes)
}

// Uptime returns how long the buffer has existed.
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// StatsSummary is a point-in-time snapshot of Statistics.
type StatsSummary struct {
	Writes      int64         `json:"writes"`
	Reads       int64         `json:"reads"`
	Drops       int64         `json:"drops"`
	CurrentSize int64         `json:"current_size"`
	MaxSize     int64         `json:"max_size"`
	DropRate    float64       `json:"drop_rate"`
	Uptime      time.Duration `json:"uptime"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Writes:      s.Writes(),
		Reads:       s.Reads(),
		Drops:       s.Drops(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		DropRate:    s.DropRate(),
		Uptime:      s.Uptime(),
	}
}
