package dispatch

import "time"

// TaskStatus is the lifecycle state of a single task (spec §3, invariant I1).
type TaskStatus string

// Task status values.
const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Task is one unit of dispatch work: a path within a round.
type Task struct {
	ID             string     `json:"id"`
	RoundID        string     `json:"roundId"`
	Path           string     `json:"path"`
	Status         TaskStatus `json:"status"`
	FailureCount   int        `json:"failureCount"`
	Message        string     `json:"message,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	ProcessingAt   *time.Time `json:"processingAt,omitempty"`
	AssignedNodeID string     `json:"assignedNodeId,omitempty"`
}

// clone returns a value copy safe to hand to a caller outside the lock.
func (t *Task) clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.ProcessingAt != nil {
		ts := *t.ProcessingAt
		cp.ProcessingAt = &ts
	}
	return &cp
}
