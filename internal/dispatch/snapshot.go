package dispatch

import "time"

// RoundSnapshot is the wire format of a round's task state (spec §6
// "Persisted round snapshot format", store portion).
type RoundSnapshot struct {
	RoundID                string           `json:"roundId"`
	Tasks                  []*Task          `json:"tasks"`
	PendingQueue           []string         `json:"pendingQueue"`
	ProcessingStartedAt    []idTime         `json:"processingStartedAt"`
	CompletedList          []string         `json:"completedList"`
	FailedList             []string         `json:"failedList"`
	TotalProcessedItemNum  float64          `json:"totalProcessedItemNum"`
	TotalProcessedRunTime  float64          `json:"totalProcessedRunningTime"`
	LastProcessedAt        *time.Time       `json:"lastProcessedAt,omitempty"`
}

type idTime struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Snapshot captures the round's externally-observable state (spec §4.1
// "Snapshot/restore"). Stale pending-queue entries are filtered out so
// the serialized form never grows unbounded from lazy deletions.
func (r *RoundStore) Snapshot() RoundSnapshot {
	tasks := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t.clone())
	}

	pending := make([]string, 0, len(r.pendingSet))
	for _, id := range r.pendingQueue {
		if _, ok := r.pendingSet[id]; ok {
			pending = append(pending, id)
		}
	}

	processing := make([]idTime, 0, len(r.processingStart))
	for id, at := range r.processingStart {
		processing = append(processing, idTime{ID: id, At: at})
	}

	completed := make([]string, 0, len(r.completedList))
	for _, id := range r.completedList {
		if _, ok := r.completedSet[id]; ok {
			completed = append(completed, id)
		}
	}

	failed := make([]string, 0, len(r.failedList))
	for _, id := range r.failedList {
		if _, ok := r.failedSet[id]; ok {
			failed = append(failed, id)
		}
	}

	return RoundSnapshot{
		RoundID:               r.roundID,
		Tasks:                 tasks,
		PendingQueue:          pending,
		ProcessingStartedAt:   processing,
		CompletedList:         completed,
		FailedList:            failed,
		TotalProcessedItemNum: r.totalItemNum,
		TotalProcessedRunTime: r.totalRunningTime,
		LastProcessedAt:       r.lastProcessedAt,
	}
}

// RestoreRoundStore rebuilds a RoundStore from a snapshot (spec §4.1
// "Snapshot/restore"). The path index and per-status sets are derived
// from each task's status; queues/lists are trimmed to surviving ids.
func RestoreRoundStore(snap RoundSnapshot) *RoundStore {
	r := NewRoundStore(snap.RoundID)

	for _, t := range snap.Tasks {
		r.tasks[t.ID] = t.clone()
		if t.Status != StatusFailed {
			r.pathIndex[t.Path] = t.ID
		}
		switch t.Status {
		case StatusPending:
			r.pendingSet[t.ID] = struct{}{}
		case StatusProcessing:
			r.processingSet[t.ID] = struct{}{}
		case StatusCompleted:
			r.completedSet[t.ID] = struct{}{}
		case StatusFailed:
			r.failedSet[t.ID] = struct{}{}
		}
	}

	for _, id := range snap.PendingQueue {
		if _, ok := r.pendingSet[id]; ok {
			r.pendingQueue = append(r.pendingQueue, id)
		}
	}
	for _, e := range snap.ProcessingStartedAt {
		if _, ok := r.processingSet[e.ID]; ok {
			r.processingStart[e.ID] = e.At
		}
	}
	for _, id := range snap.CompletedList {
		if _, ok := r.completedSet[id]; ok {
			r.completedList = append(r.completedList, id)
		}
	}
	for _, id := range snap.FailedList {
		if _, ok := r.failedSet[id]; ok {
			r.failedList = append(r.failedList, id)
		}
	}

	r.totalItemNum = snap.TotalProcessedItemNum
	r.totalRunningTime = snap.TotalProcessedRunTime
	r.lastProcessedAt = snap.LastProcessedAt

	return r
}
