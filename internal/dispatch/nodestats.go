package dispatch

import (
	"sort"
	"time"
)

const (
	nodeWindowDuration = 2 * time.Hour
	nodeWindowMaxSize  = 500
)

// NodeRecord is a point in a node's sliding performance window (spec §3
// Node record).
type NodeRecord struct {
	At          time.Time `json:"at"`
	ItemNum     float64   `json:"itemNum"`
	RunningTime float64   `json:"runningTime"`
	Speed       float64   `json:"speed"`
}

// Node is one worker's telemetry aggregate.
type Node struct {
	ID        string `json:"id"`
	FirstSeen time.Time `json:"firstSeen"`

	TotalItemNum     float64 `json:"totalItemNum"`
	TotalRunningTime float64 `json:"totalRunningTime"`
	RecordCount      int64   `json:"recordCount"`

	ArchivedRecordCount int64   `json:"archivedRecordCount"`
	ArchivedItemNum     float64 `json:"archivedItemNum"`
	ArchivedRunningTime float64 `json:"archivedRunningTime"`

	LastUpdated time.Time `json:"lastUpdated"`

	Window []NodeRecord `json:"recentWindow"`

	RequestCount      int64 `json:"requestCount"`
	AssignedTaskCount int64 `json:"assignedTaskCount"`

	ActiveTaskIDs map[string]struct{} `json:"-"`
}

// NodeView is a read-only copy of a node record returned to callers.
type NodeView struct {
	ID                  string       `json:"id"`
	FirstSeen           time.Time    `json:"firstSeen"`
	TotalItemNum        float64      `json:"totalItemNum"`
	TotalRunningTime    float64      `json:"totalRunningTime"`
	RecordCount         int64        `json:"recordCount"`
	ArchivedRecordCount int64        `json:"archivedRecordCount"`
	LastUpdated         time.Time    `json:"lastUpdated"`
	RecentWindow        []NodeRecord `json:"recentWindow"`
	ActiveTaskIDs       []string     `json:"activeTaskIds"`
	RequestCount        int64        `json:"requestCount"`
	AssignedTaskCount   int64        `json:"assignedTaskCount"`
	ActiveTaskCount     int          `json:"activeTaskCount"`
	AvgItemSpeed        *float64     `json:"avgItemSpeed,omitempty"`
	AvgTimePer100Items  *float64     `json:"avgTimePer100Items,omitempty"`
}

func (n *Node) view() NodeView {
	ids := make([]string, 0, len(n.ActiveTaskIDs))
	for id := range n.ActiveTaskIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	window := append([]NodeRecord(nil), n.Window...)

	v := NodeView{
		ID:                  n.ID,
		FirstSeen:           n.FirstSeen,
		TotalItemNum:        n.TotalItemNum,
		TotalRunningTime:    n.TotalRunningTime,
		RecordCount:         n.RecordCount,
		ArchivedRecordCount: n.ArchivedRecordCount,
		LastUpdated:         n.LastUpdated,
		RecentWindow:        window,
		ActiveTaskIDs:       ids,
		RequestCount:        n.RequestCount,
		AssignedTaskCount:   n.AssignedTaskCount,
		ActiveTaskCount:     len(ids),
	}
	if n.TotalRunningTime > 0 {
		speed := n.TotalItemNum / n.TotalRunningTime
		v.AvgItemSpeed = &speed
		per100 := (n.TotalRunningTime / n.TotalItemNum) * 100
		v.AvgTimePer100Items = &per100
	}
	return v
}

// NodeStore is the process-wide, round-independent node telemetry
// aggregator (spec §4.2). A single global store backs every round — see
// DESIGN.md for the Open Question resolution.
type NodeStore struct {
	nodes      map[string]*Node
	taskToNode map[string]string // global task id -> node id, for detach
}

// NewNodeStore creates an empty node store.
func NewNodeStore() *NodeStore {
	return &NodeStore{
		nodes:      make(map[string]*Node),
		taskToNode: make(map[string]string),
	}
}

func (s *NodeStore) ensure(id string, now time.Time) *Node {
	n, ok := s.nodes[id]
	if !ok {
		n = &Node{ID: id, FirstSeen: now, ActiveTaskIDs: make(map[string]struct{})}
		s.nodes[id] = n
	}
	return n
}

// RecordLeaseRequest bumps requestCount for a lease call that named a node.
func (s *NodeStore) RecordLeaseRequest(nodeID string, now time.Time) {
	if nodeID == "" {
		return
	}
	n := s.ensure(nodeID, now)
	n.RequestCount++
	n.LastUpdated = now
}

// RecordAssignment registers taskIDs as now in-flight on nodeID.
func (s *NodeStore) RecordAssignment(nodeID string, taskIDs []string, now time.Time) {
	if nodeID == "" || len(taskIDs) == 0 {
		return
	}
	n := s.ensure(nodeID, now)
	n.AssignedTaskCount += int64(len(taskIDs))
	for _, id := range taskIDs {
		n.ActiveTaskIDs[id] = struct{}{}
		s.taskToNode[id] = nodeID
	}
}

// Detach removes taskID from whichever node holds it (report/sweep/clear).
func (s *NodeStore) Detach(taskID string) {
	nodeID, ok := s.taskToNode[taskID]
	if !ok {
		return
	}
	delete(s.taskToNode, taskID)
	n, ok := s.nodes[nodeID]
	if !ok {
		return
	}
	delete(n.ActiveTaskIDs, taskID)
}

// RecordProcessed folds one processed-items report into nodeID's lifetime
// totals and sliding window, then archives-and-trims (spec §4.2).
func (s *NodeStore) RecordProcessed(nodeID string, itemNum, runningTime float64, now time.Time) {
	n := s.ensure(nodeID, now)

	speed := 0.0
	if runningTime > 0 {
		speed = itemNum / runningTime
	}

	n.Window = append(n.Window, NodeRecord{At: now, ItemNum: itemNum, RunningTime: runningTime, Speed: speed})
	n.TotalItemNum += itemNum
	n.TotalRunningTime += runningTime
	n.RecordCount++
	n.LastUpdated = now

	s.archiveAndTrim(n, now)
}

// archiveAndTrim moves window entries older than the 2h window, or in
// excess of 500 entries, into the archived counters (spec N1).
func (s *NodeStore) archiveAndTrim(n *Node, now time.Time) {
	cutoff := now.Add(-nodeWindowDuration)
	var kept []NodeRecord
	for _, rec := range n.Window {
		if rec.At.Before(cutoff) {
			n.ArchivedRecordCount++
			n.ArchivedItemNum += rec.ItemNum
			n.ArchivedRunningTime += rec.RunningTime
			continue
		}
		kept = append(kept, rec)
	}
	if len(kept) > nodeWindowMaxSize {
		overflow := kept[:len(kept)-nodeWindowMaxSize]
		for _, rec := range overflow {
			n.ArchivedRecordCount++
			n.ArchivedItemNum += rec.ItemNum
			n.ArchivedRunningTime += rec.RunningTime
		}
		kept = kept[len(kept)-nodeWindowMaxSize:]
	}
	n.Window = kept
}

// List sorts nodes by lastUpdated descending and paginates, running
// archive-and-trim on every node first (spec §4.2 Listing).
func (s *NodeStore) List(page, size int, now time.Time) (views []NodeView, total int) {
	ids := make([]string, 0, len(s.nodes))
	for id, n := range s.nodes {
		s.archiveAndTrim(n, now)
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.nodes[ids[i]].LastUpdated.After(s.nodes[ids[j]].LastUpdated)
	})

	page, size = clampPaging(page, size)
	total = len(ids)
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
	for _, id := range ids[start:end] {
		views = append(views, s.nodes[id].view())
	}
	return views, total
}

// NodeSummary is the global telemetry rollup (spec §4.2 Summary).
type NodeSummary struct {
	NodeCount          int      `json:"nodeCount"`
	TotalItemNum       float64  `json:"totalItemNum"`
	TotalRunningTime   float64  `json:"totalRunningTime"`
	RecordCount        int64    `json:"recordCount"`
	TotalRequests      int64    `json:"totalRequests"`
	TotalAssignedTasks int64    `json:"totalAssignedTasks"`
	TotalActiveTasks   int      `json:"totalActiveTasks"`
	AvgItemSpeed       *float64 `json:"avgItemSpeed,omitempty"`
	AvgTimePer100Items *float64 `json:"avgTimePer100Items,omitempty"`
}

// Summary computes the global rollup across all nodes.
func (s *NodeStore) Summary() NodeSummary {
	sum := NodeSummary{NodeCount: len(s.nodes)}
	for _, n := range s.nodes {
		sum.TotalItemNum += n.TotalItemNum
		sum.TotalRunningTime += n.TotalRunningTime
		sum.RecordCount += n.RecordCount
		sum.TotalRequests += n.RequestCount
		sum.TotalAssignedTasks += n.AssignedTaskCount
		sum.TotalActiveTasks += len(n.ActiveTaskIDs)
	}
	if sum.NodeCount > 0 && sum.TotalRunningTime > 0 {
		speed := sum.TotalItemNum / sum.TotalRunningTime
		sum.AvgItemSpeed = &speed
		per100 := (sum.TotalRunningTime / sum.TotalItemNum) * 100
		sum.AvgTimePer100Items = &per100
	}
	return sum
}

// Delete removes one node record and purges its task index entries.
func (s *NodeStore) Delete(nodeID string) bool {
	n, ok := s.nodes[nodeID]
	if !ok {
		return false
	}
	for id := range n.ActiveTaskIDs {
		delete(s.taskToNode, id)
	}
	delete(s.nodes, nodeID)
	return true
}

// Clear removes every node record.
func (s *NodeStore) Clear() {
	s.nodes = make(map[string]*Node)
	s.taskToNode = make(map[string]string)
}
