package patient

import (
	"math"
	"time"
)

// DefaultQueueCapacity is the nominal number of waiting patients the
// department is staffed for.
const DefaultQueueCapacity = 20

// Stats is a snapshot of the queue derived from the working set.
type Stats struct {
	Total            int       `json:"total"`
	CriticalCount    int       `json:"criticalCount"`
	UrgentCount      int       `json:"urgentCount"`
	TotalWaiting     int       `json:"totalWaiting"`
	AvgWaitMinutes   int       `json:"avgWaitMinutes"`
	QueueLoadPercent int       `json:"queueLoadPercent"`
	Capacity         int       `json:"capacity"`
	ComputedAt       time.Time `json:"computedAt"`
}

// ComputeStats does a full pass over records. QueueLoadPercent is not
// clamped; it exceeds 100 when waiting patients outnumber capacity.
func ComputeStats(records []*Record, now time.Time, capacity int) Stats {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	s := Stats{
		Total:      len(records),
		Capacity:   capacity,
		ComputedAt: now,
	}

	var waitTotal float64
	for _, r := range records {
		if r.TriageLevel <= LevelEmergent {
			s.CriticalCount++
		}
		if r.TriageLevel == LevelUrgent {
			s.UrgentCount++
		}
		if r.Status == StatusWaiting {
			s.TotalWaiting++
			// arrivals stamped in the future count as zero wait
			waitTotal += math.Max(0, now.Sub(r.ArrivalTime).Minutes())
		}
	}

	if s.TotalWaiting > 0 {
		s.AvgWaitMinutes = int(math.Round(waitTotal / float64(s.TotalWaiting)))
	}
	s.QueueLoadPercent = int(math.Round(float64(s.TotalWaiting) / float64(capacity) * 100))

	return s
}
