package dispatch

import (
	"sort"
	"strings"
	"time"
)

// Counts is a snapshot of task counts by status for one round.
type Counts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total returns the sum of all four buckets (spec P1).
func (c Counts) Total() int {
	return c.Pending + c.Processing + c.Completed + c.Failed
}

// RunStats is the computed run-statistics view of a round (spec §4.1).
type RunStats struct {
	Counts                Counts     `json:"counts"`
	StartedAt             *time.Time `json:"startedAt,omitempty"`
	EndedAt               *time.Time `json:"endedAt,omitempty"`
	DurationMs            *int64     `json:"durationMs,omitempty"`
	AverageTaskSpeed       *float64  `json:"averageTaskSpeed,omitempty"`
	AverageItemSpeed       *float64  `json:"averageItemSpeed,omitempty"`
	AverageTimePerItem     *float64  `json:"averageTimePerItem,omitempty"`
	AverageTimePer100Items *float64  `json:"averageTimePer100Items,omitempty"`
	AllCompleted           bool      `json:"allCompleted"`
	TotalItemNum           float64   `json:"totalItemNum"`
	TotalRunningTime       float64   `json:"totalRunningTime"`
	LastProcessedAt        *time.Time `json:"lastProcessedAt,omitempty"`
}

// ProcessingRecord describes one currently-processing task (spec §4.1
// "Processing inspection").
type ProcessingRecord struct {
	RoundID    string    `json:"roundId"`
	TaskID     string    `json:"taskId"`
	Path       string    `json:"path"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMs int64     `json:"durationMs"`
	NodeID     string    `json:"nodeId,omitempty"`
}

// ProcessingReport is the aggregate view returned by an inspect call.
type ProcessingReport struct {
	TotalProcessing   int                `json:"totalProcessing"`
	TimedOutCount     int                `json:"timedOutCount"`
	NearTimeoutCount  int                `json:"nearTimeoutCount"`
	LongestDurationMs *int64             `json:"longestDurationMs"`
	TopTimedOut       []ProcessingRecord `json:"topTimedOut"`
	TopLongest        []ProcessingRecord `json:"topLongest"`
}

// RoundStore owns the task table, queues, and processed aggregates for a
// single round. All mutation happens under the owning Dispatcher's single
// coarse lock (spec §5) — RoundStore itself does no locking.
type RoundStore struct {
	roundID string

	tasks     map[string]*Task
	pathIndex map[string]string // path -> task id, non-failed tasks only

	pendingQueue []string
	pendingSet   map[string]struct{}

	processingSet   map[string]struct{}
	processingStart map[string]time.Time

	completedList []string
	completedSet  map[string]struct{}

	failedList []string
	failedSet  map[string]struct{}

	totalItemNum     float64
	totalRunningTime float64
	lastProcessedAt  *time.Time
}

// NewRoundStore creates an empty round store for roundID.
func NewRoundStore(roundID string) *RoundStore {
	return &RoundStore{
		roundID:         roundID,
		tasks:           make(map[string]*Task),
		pathIndex:       make(map[string]string),
		pendingSet:      make(map[string]struct{}),
		processingSet:   make(map[string]struct{}),
		processingStart: make(map[string]time.Time),
		completedSet:    make(map[string]struct{}),
		failedSet:       make(map[string]struct{}),
	}
}

// Enqueue adds paths to the round (spec §4.1 Enqueue). Empty/whitespace
// paths are skipped. A path already tracked by a non-failed task is
// skipped; a path previously failed is retried fresh (the old task id is
// dropped entirely).
func (r *RoundStore) Enqueue(paths []string, now time.Time) (added, skipped int, newIDs []string) {
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			skipped++
			continue
		}
		if existingID, ok := r.pathIndex[path]; ok {
			if existing, ok := r.tasks[existingID]; ok && existing.Status != StatusFailed {
				skipped++
				continue
			}
			// Stale failed entry: drop it entirely before recreating.
			r.dropTask(existingID)
		}

		id := newTaskID()
		t := &Task{
			ID:        id,
			RoundID:   r.roundID,
			Path:      path,
			Status:    StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		r.tasks[id] = t
		r.pathIndex[path] = id
		if _, ok := r.pendingSet[id]; !ok {
			r.pendingSet[id] = struct{}{}
			r.pendingQueue = append(r.pendingQueue, id)
		}
		added++
		newIDs = append(newIDs, id)
	}
	return added, skipped, newIDs
}

// dropTask removes a task from the task table, path index and membership
// sets (used when a failed path is re-imported).
func (r *RoundStore) dropTask(id string) {
	t, ok := r.tasks[id]
	if !ok {
		return
	}
	delete(r.tasks, id)
	if cur, ok := r.pathIndex[t.Path]; ok && cur == id {
		delete(r.pathIndex, t.Path)
	}
	delete(r.pendingSet, id)
	delete(r.processingSet, id)
	delete(r.processingStart, id)
	delete(r.completedSet, id)
	delete(r.failedSet, id)
}

// Lease pops up to k tasks off the pending FIFO (spec §4.1 Lease). Stale
// FIFO entries (ids no longer pending) are skipped via lazy deletion.
func (r *RoundStore) Lease(k int, nodeID string, now time.Time) []*Task {
	var out []*Task
	for len(out) < k && len(r.pendingQueue) > 0 {
		id := r.pendingQueue[0]
		r.pendingQueue = r.pendingQueue[1:]
		if _, ok := r.pendingSet[id]; !ok {
			continue // stale, lazily deleted
		}
		t, ok := r.tasks[id]
		if !ok {
			delete(r.pendingSet, id)
			continue
		}
		delete(r.pendingSet, id)

		t.Status = StatusProcessing
		t.UpdatedAt = now
		start := now
		t.ProcessingAt = &start
		t.AssignedNodeID = nodeID

		r.processingSet[id] = struct{}{}
		r.processingStart[id] = now

		out = append(out, t.clone())
	}
	return out
}

// PendingLen reports the number of tasks still awaiting lease. It counts
// the pending set, so stale FIFO entries are never included (caller
// already holds the lock).
func (r *RoundStore) PendingLen() int {
	return len(r.pendingSet)
}

// Report applies a terminal outcome to a task (spec §4.1 Report).
func (r *RoundStore) Report(taskID string, success bool, message string, now time.Time) (TaskStatus, bool) {
	t, ok := r.tasks[taskID]
	if !ok {
		return "", false
	}

	delete(r.processingSet, taskID)
	delete(r.processingStart, taskID)
	delete(r.pendingSet, taskID)

	if t.Status == StatusCompleted && !success {
		return t.Status, true
	}

	t.UpdatedAt = now
	t.Message = message

	if success {
		t.Status = StatusCompleted
		t.FailureCount = 0
		t.AssignedNodeID = ""
		t.ProcessingAt = nil
		delete(r.failedSet, taskID)
		r.failedList = removeID(r.failedList, taskID)
		r.pushHead(&r.completedList, r.completedSet, taskID)
	} else {
		t.Status = StatusFailed
		t.FailureCount++
		t.AssignedNodeID = ""
		t.ProcessingAt = nil
		r.failedList = removeID(r.failedList, taskID)
		r.pushHead(&r.failedList, r.failedSet, taskID)
	}

	return t.Status, true
}

// pushHead inserts id at the head of list/set if not already present,
// removing any prior occurrence first (head-insert, most-recent-first).
func (r *RoundStore) pushHead(list *[]string, set map[string]struct{}, id string) {
	if _, ok := set[id]; ok {
		*list = removeID(*list, id)
	}
	set[id] = struct{}{}
	*list = append([]string{id}, *list...)
}

func removeID(list []string, id string) []string {
	for i, v := range list {
		if v == id {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// Sweep transitions stale processing tasks: first timeout re-queues them
// once (failureCount becomes 1), a second timeout fails them for good
// (spec §4.1 Timeout sweep, P3).
func (r *RoundStore) Sweep(thresholdMs int64, now time.Time) int {
	var touched []string
	for id, start := range r.processingStart {
		elapsed := now.Sub(start).Milliseconds()
		if thresholdMs > 0 && elapsed <= thresholdMs {
			continue
		}
		touched = append(touched, id)
	}

	for _, id := range touched {
		delete(r.processingSet, id)
		delete(r.processingStart, id)

		t, ok := r.tasks[id]
		if !ok {
			continue
		}
		t.UpdatedAt = now
		t.ProcessingAt = nil
		t.AssignedNodeID = ""

		if t.FailureCount == 0 {
			t.FailureCount = 1
			t.Status = StatusPending
			t.Message = "处理超时，已自动重试一次"
			if _, ok := r.pendingSet[id]; !ok {
				r.pendingSet[id] = struct{}{}
				r.pendingQueue = append(r.pendingQueue, id)
			}
		} else {
			t.FailureCount++
			t.Status = StatusFailed
			t.Message = "处理超时，已达最大重试次数"
			r.pushHead(&r.failedList, r.failedSet, id)
		}
	}
	return len(touched)
}

// InspectProcessing builds the processing report described in spec §4.1.
func (r *RoundStore) InspectProcessing(thresholdMs int64, now time.Time) ProcessingReport {
	var records []ProcessingRecord
	for id, start := range r.processingStart {
		t, ok := r.tasks[id]
		if !ok {
			continue
		}
		d := now.Sub(start).Milliseconds()
		if d < 0 {
			d = 0
		}
		records = append(records, ProcessingRecord{
			RoundID:    r.roundID,
			TaskID:     id,
			Path:       t.Path,
			Status:     string(t.Status),
			StartedAt:  start,
			DurationMs: d,
			NodeID:     t.AssignedNodeID,
		})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].DurationMs > records[j].DurationMs })

	report := ProcessingReport{TotalProcessing: len(records)}
	var timedOut []ProcessingRecord
	for _, rec := range records {
		if thresholdMs > 0 && rec.DurationMs > thresholdMs {
			report.TimedOutCount++
			timedOut = append(timedOut, rec)
		}
		if thresholdMs > 0 && rec.DurationMs >= int64(0.8*float64(thresholdMs)) && rec.DurationMs <= thresholdMs {
			report.NearTimeoutCount++
		}
	}
	if len(records) > 0 {
		longest := records[0].DurationMs
		report.LongestDurationMs = &longest
	}
	report.TopTimedOut = top(timedOut, 5)
	report.TopLongest = top(records, 5)
	return report
}

func top(records []ProcessingRecord, n int) []ProcessingRecord {
	if len(records) <= n {
		return records
	}
	return records[:n]
}

// Page is a generic pagination result.
type Page struct {
	Items []*Task `json:"items"`
	Total int     `json:"total"`
	Page  int     `json:"page"`
	Size  int     `json:"pageSize"`
}

func clampPaging(page, size int) (int, int) {
	if size < 1 {
		size = 1
	}
	if page < 1 {
		page = 1
	}
	return page, size
}

func paginate(ids []string, tasks map[string]*Task, page, size int) Page {
	page, size = clampPaging(page, size)
	total := len(ids)
	maxPage := (total + size - 1) / size
	if maxPage < 1 {
		maxPage = 1
	}
	if page > maxPage {
		page = maxPage
	}
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	out := make([]*Task, 0, end-start)
	for _, id := range ids[start:end] {
		if t, ok := tasks[id]; ok {
			out = append(out, t.clone())
		}
	}
	return Page{Items: out, Total: total, Page: page, Size: size}
}

// ListPending lists pending tasks in FIFO order, skipping stale entries.
func (r *RoundStore) ListPending(page, size int) Page {
	live := make([]string, 0, len(r.pendingSet))
	for _, id := range r.pendingQueue {
		if _, ok := r.pendingSet[id]; ok {
			live = append(live, id)
		}
	}
	return paginate(live, r.tasks, page, size)
}

// ListProcessing lists processing tasks sorted by start time descending.
func (r *RoundStore) ListProcessing(page, size int) Page {
	ids := make([]string, 0, len(r.processingSet))
	for id := range r.processingSet {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.processingStart[ids[i]].After(r.processingStart[ids[j]])
	})
	return paginate(ids, r.tasks, page, size)
}

// ListCompleted lists completed tasks, most-recently-completed first.
func (r *RoundStore) ListCompleted(page, size int) Page {
	return paginate(r.completedList, r.tasks, page, size)
}

// ListFailed lists failed tasks, most-recently-failed first.
func (r *RoundStore) ListFailed(page, size int) Page {
	return paginate(r.failedList, r.tasks, page, size)
}

// ListAll lists all tasks sorted by updatedAt descending.
func (r *RoundStore) ListAll(page, size int) Page {
	ids := make([]string, 0, len(r.tasks))
	for id := range r.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return r.tasks[ids[i]].UpdatedAt.After(r.tasks[ids[j]].UpdatedAt)
	})
	return paginate(ids, r.tasks, page, size)
}

// Find looks up a task by id, falling back to the path index.
func (r *RoundStore) Find(query string) *Task {
	if t, ok := r.tasks[query]; ok {
		return t.clone()
	}
	if id, ok := r.pathIndex[query]; ok {
		if t, ok := r.tasks[id]; ok {
			return t.clone()
		}
	}
	return nil
}

// Counts computes current status counts.
func (r *RoundStore) Counts() Counts {
	c := Counts{
		Pending:    len(r.pendingSet),
		Processing: len(r.processingSet),
		Completed:  len(r.completedSet),
		Failed:     len(r.failedSet),
	}
	return c
}

// Stats computes the run-statistics view (spec §4.1 Run statistics).
func (r *RoundStore) Stats() RunStats {
	counts := r.Counts()
	stats := RunStats{
		Counts:           counts,
		AllCompleted:     counts.Total() > 0 && counts.Completed == counts.Total(),
		TotalItemNum:     r.totalItemNum,
		TotalRunningTime: r.totalRunningTime,
		LastProcessedAt:  r.lastProcessedAt,
	}

	var start *time.Time
	for _, t := range r.tasks {
		if start == nil || t.CreatedAt.Before(*start) {
			ts := t.CreatedAt
			start = &ts
		}
	}
	stats.StartedAt = start

	var end *time.Time
	for id := range r.completedSet {
		t, ok := r.tasks[id]
		if !ok {
			continue
		}
		if end == nil || t.UpdatedAt.After(*end) {
			ts := t.UpdatedAt
			end = &ts
		}
	}
	stats.EndedAt = end

	if start != nil && end != nil && end.After(*start) {
		d := end.Sub(*start).Milliseconds()
		stats.DurationMs = &d
		if d > 0 {
			speed := float64(counts.Completed) / (float64(d) / 1000.0)
			stats.AverageTaskSpeed = &speed
		}
	}

	if r.totalRunningTime > 0 {
		itemSpeed := r.totalItemNum / r.totalRunningTime
		stats.AverageItemSpeed = &itemSpeed
	}
	if r.totalItemNum > 0 {
		perItem := r.totalRunningTime / r.totalItemNum
		stats.AverageTimePerItem = &perItem
		per100 := perItem * 100
		stats.AverageTimePer100Items = &per100
	}

	return stats
}

// AddProcessed folds a processed-items report into the round's aggregates
// (spec §4.3 recordNodeProcessedInfo passthrough).
func (r *RoundStore) AddProcessed(itemNum, runningTime float64, now time.Time) {
	r.totalItemNum += itemNum
	r.totalRunningTime += runningTime
	r.lastProcessedAt = &now
}

// Clear drops the entire task population and returns the ids that were
// in flight so the caller can detach them from the node store.
func (r *RoundStore) Clear() (cleared int, wasProcessing []string) {
	cleared = len(r.tasks)
	for id := range r.processingSet {
		wasProcessing = append(wasProcessing, id)
	}
	r.tasks = make(map[string]*Task)
	r.pathIndex = make(map[string]string)
	r.pendingQueue = nil
	r.pendingSet = make(map[string]struct{})
	r.processingSet = make(map[string]struct{})
	r.processingStart = make(map[string]time.Time)
	r.completedList = nil
	r.completedSet = make(map[string]struct{})
	r.failedList = nil
	r.failedSet = make(map[string]struct{})
	r.totalItemNum = 0
	r.totalRunningTime = 0
	r.lastProcessedAt = nil
	return cleared, wasProcessing
}

// ProcessingNodeIDs returns the distinct node ids currently holding a
// processing task in this round, each with its task ids. Clear does not
// use it; it returns the in-flight task ids itself.
func (r *RoundStore) ProcessingNodeIDs() map[string][]string {
	out := make(map[string][]string)
	for id := range r.processingSet {
		t, ok := r.tasks[id]
		if !ok || t.AssignedNodeID == "" {
			continue
		}
		out[t.AssignedNodeID] = append(out[t.AssignedNodeID], id)
	}
	return out
}

// ExportFailed lists failed tasks (most-recent first), bounded by limit
// (<=0 means unbounded).
func (r *RoundStore) ExportFailed(limit int) []*Task {
	ids := r.failedList
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := r.tasks[id]; ok {
			out = append(out, t.clone())
		}
	}
	return out
}
