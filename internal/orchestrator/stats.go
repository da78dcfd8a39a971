package orchestrator

import (
	"sync"
	"time"
)

// Stats holds cumulative counters since process start. A copy is served by
// the status API.
type Stats struct {
	mu sync.Mutex

	ScansCompleted   int64
	PoolsLastScan    int
	CacheRefreshes   int64
	Detected         int64
	Approved         int64
	Executed         int64
	Reverted         int64
	BreakerTrips     int64
	RejectionsByGate map[string]int64
	LastScanAt       time.Time
	LastError        string
}

// Snapshot is the lock-free copy handed to callers.
type Snapshot struct {
	ScansCompleted   int64            `json:"scans_completed"`
	PoolsLastScan    int              `json:"pools_last_scan"`
	CacheRefreshes   int64            `json:"cache_refreshes"`
	Detected         int64            `json:"detected"`
	Approved         int64            `json:"approved"`
	Executed         int64            `json:"executed"`
	Reverted         int64            `json:"reverted"`
	BreakerTrips     int64            `json:"breaker_trips"`
	RejectionsByGate map[string]int64 `json:"rejections_by_gate"`
	LastScanAt       time.Time        `json:"last_scan_at"`
	LastError        string           `json:"last_error,omitempty"`
}

func (s *Stats) RecordScan(pools, detected int, refreshed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScansCompleted++
	s.PoolsLastScan = pools
	s.Detected += int64(detected)
	s.LastScanAt = time.Now()
	if refreshed {
		s.CacheRefreshes++
	}
}

func (s *Stats) RecordRejection(gate string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RejectionsByGate == nil {
		s.RejectionsByGate = make(map[string]int64)
	}
	s.RejectionsByGate[gate]++
}

func (s *Stats) RecordApproval() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Approved++
}

func (s *Stats) RecordExecution() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Executed++
}

func (s *Stats) RecordRevert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reverted++
}

func (s *Stats) RecordBreakerTrip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BreakerTrips++
}

func (s *Stats) RecordError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastError = err.Error()
}

// Snapshot copies the counters under the lock.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	gates := make(map[string]int64, len(s.RejectionsByGate))
	for k, v := range s.RejectionsByGate {
		gates[k] = v
	}
	return Snapshot{
		ScansCompleted:   s.ScansCompleted,
		PoolsLastScan:    s.PoolsLastScan,
		CacheRefreshes:   s.CacheRefreshes,
		Detected:         s.Detected,
		Approved:         s.Approved,
		Executed:         s.Executed,
		Reverted:         s.Reverted,
		BreakerTrips:     s.BreakerTrips,
		RejectionsByGate: gates,
		LastScanAt:       s.LastScanAt,
		LastError:        s.LastError,
	}
}
