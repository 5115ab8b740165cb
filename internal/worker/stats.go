package worker

import "sync/atomic"

// Stats counts pipeline outcomes. All counters are monotonic for the
// process lifetime.
type Stats struct {
	scanned      atomic.Int64
	approved     atomic.Int64
	rejected     atomic.Int64
	review       atomic.Int64
	degraded     atomic.Int64
	photoMissing atomic.Int64
	failures     atomic.Int64
}

// StatsSnapshot is a point-in-time copy for the operator endpoint.
type StatsSnapshot struct {
	Scanned      int64 `json:"scanned"`
	Approved     int64 `json:"approved"`
	Rejected     int64 `json:"rejected"`
	Review       int64 `json:"review"`
	Degraded     int64 `json:"degraded"`
	PhotoMissing int64 `json:"photo_missing"`
	Failures     int64 `json:"failures"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Scanned:      s.scanned.Load(),
		Approved:     s.approved.Load(),
		Rejected:     s.rejected.Load(),
		Review:       s.review.Load(),
		Degraded:     s.degraded.Load(),
		PhotoMissing: s.photoMissing.Load(),
		Failures:     s.failures.Load(),
	}
}
