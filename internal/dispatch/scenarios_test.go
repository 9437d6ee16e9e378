package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioBasicSuccessPath covers spec.md §8 scenario 1: a three-task
// round leased in two batches, reported success, reaching completed with
// exactly one webhook fire.
func TestScenarioBasicSuccessPath(t *testing.T) {
	d, _, wh := newTestDispatcher()

	url := "https://example.test/webhook"
	_, cerr := d.UpdateConfig(ConfigPatch{WebhookURL: &url})
	require.Nil(t, cerr)

	res, err := d.Import([]string{"/a", "/b", "/c"}, ImportOptions{})
	require.Nil(t, err)

	items, err := d.Lease(2, "", "node-1")
	require.Nil(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		_, rerr := d.Report(it.TaskID, true, "")
		require.Nil(t, rerr)
	}

	rounds := d.ListRounds()
	require.Len(t, rounds, 1)
	assert.Equal(t, Counts{Pending: 1, Processing: 0, Completed: 2, Failed: 0}, rounds[0].Counts)

	items, err = d.Lease(10, "", "node-1")
	require.Nil(t, err)
	require.Len(t, items, 1)
	_, rerr := d.Report(items[0].TaskID, true, "")
	require.Nil(t, rerr)

	rounds = d.ListRounds()
	require.Len(t, rounds, 1)
	assert.Equal(t, LifecycleCompleted, rounds[0].Status)

	// allow the detached completion goroutine to post before asserting.
	waitFor(t, func() bool { return wh.count() == 1 })
	assert.Equal(t, 1, wh.count())
	_ = res
}

// TestScenarioDuplicateImportIntoSameRound covers scenario 2.
func TestScenarioDuplicateImportIntoSameRound(t *testing.T) {
	d, _, _ := newTestDispatcher()

	first, err := d.Import([]string{"/a", "/b"}, ImportOptions{})
	require.Nil(t, err)

	second, err := d.Import([]string{"/b", "/c"}, ImportOptions{TargetRoundID: first.RoundID})
	require.Nil(t, err)

	assert.Equal(t, 1, second.Added)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 3, second.Counts.Total())
	assert.Equal(t, 3, second.Counts.Pending)
}

// TestScenarioFailThenRetryPath covers scenario 3: one task, leased, swept
// twice past a zero threshold, ending failed with failureCount 2.
func TestScenarioFailThenRetryPath(t *testing.T) {
	d, _, _ := newTestDispatcher()

	res, err := d.Import([]string{"/x"}, ImportOptions{})
	require.Nil(t, err)

	_, err = d.Lease(1, res.RoundID, "node-1")
	require.Nil(t, err)

	n, err := d.Sweep(0, res.RoundID)
	require.Nil(t, err)
	assert.Equal(t, 1, n)

	listed, err := d.ListTasks(FilterPending, 1, 10, res.RoundID)
	require.Nil(t, err)
	require.Len(t, listed.Items, 1)
	assert.Equal(t, 1, listed.Items[0].FailureCount)
	assert.Contains(t, listed.Items[0].Message, "重试")

	_, err = d.Lease(1, res.RoundID, "node-1")
	require.Nil(t, err)

	n, err = d.Sweep(0, res.RoundID)
	require.Nil(t, err)
	assert.Equal(t, 1, n)

	listed, err = d.ListTasks(FilterFailed, 1, 10, res.RoundID)
	require.Nil(t, err)
	require.Len(t, listed.Items, 1)
	assert.Equal(t, 2, listed.Items[0].FailureCount)

	// a third sweep must not touch the now-failed task again.
	n, err = d.Sweep(0, res.RoundID)
	require.Nil(t, err)
	assert.Equal(t, 0, n)
}

// TestScenarioCrossRoundAllocation covers scenario 4.
func TestScenarioCrossRoundAllocation(t *testing.T) {
	d, _, _ := newTestDispatcher()

	a, err := d.Import([]string{"/a1", "/a2"}, ImportOptions{Name: "A"})
	require.Nil(t, err)
	b, err := d.Import([]string{"/b1"}, ImportOptions{Name: "B", Activate: boolPtr(false)})
	require.Nil(t, err)

	_, err = d.SetActiveRound(a.RoundID)
	require.Nil(t, err)

	items, err := d.Lease(5, "", "node-1")
	require.Nil(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, a.RoundID, it.RoundID)
		_, rerr := d.Report(it.TaskID, true, "")
		require.Nil(t, rerr)
	}

	items, err = d.Lease(5, "", "node-1")
	require.Nil(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, b.RoundID, items[0].RoundID)

	rounds := d.ListRounds()
	var bSummary RoundSummary
	for _, r := range rounds {
		if r.ID == b.RoundID {
			bSummary = r
		}
	}
	assert.Equal(t, LifecycleActive, bSummary.Status)
}

// TestScenarioNodeStatsCycle covers scenario 5.
func TestScenarioNodeStatsCycle(t *testing.T) {
	d, _, _ := newTestDispatcher()

	res, err := d.Import([]string{"/a", "/b", "/c"}, ImportOptions{})
	require.Nil(t, err)

	items, err := d.Lease(3, res.RoundID, "n1")
	require.Nil(t, err)
	require.Len(t, items, 3)

	_, err = d.Report(items[0].TaskID, true, "")
	require.Nil(t, err)
	require.Nil(t, d.RecordNodeProcessedInfo(ProcessedInfo{NodeID: "n1", ItemNum: 10, RunningTime: 5.0}))

	_, err = d.Report(items[1].TaskID, true, "")
	require.Nil(t, err)
	require.Nil(t, d.RecordNodeProcessedInfo(ProcessedInfo{NodeID: "n1", ItemNum: 10, RunningTime: 5.0}))

	_, err = d.Report(items[2].TaskID, false, "boom")
	require.Nil(t, err)

	result := d.ListNodes(1, 10)
	require.Len(t, result.Nodes, 1)
	n := result.Nodes[0]
	assert.Equal(t, int64(1), n.RequestCount)
	assert.Equal(t, int64(3), n.AssignedTaskCount)
	assert.Equal(t, 0, n.ActiveTaskCount)
	assert.Equal(t, 20.0, n.TotalItemNum)
	assert.Equal(t, 10.0, n.TotalRunningTime)
	require.NotNil(t, n.AvgItemSpeed)
	assert.InDelta(t, 2.0, *n.AvgItemSpeed, 0.001)
	require.NotNil(t, n.AvgTimePer100Items)
	assert.InDelta(t, 50.0, *n.AvgTimePer100Items, 0.001)
}

// TestScenarioColdHotEvictionRoundTrip covers scenario 6: the non-active
// round is evicted to persistence, a fresh Dispatcher sharing the same
// persistence sink rehydrates it, and an old task id still resolves.
func TestScenarioColdHotEvictionRoundTrip(t *testing.T) {
	store := newMemPersistence()
	webhook := &fakeWebhook{}
	d := NewDispatcher(store, webhook, nil)

	round1, err := d.Import([]string{"/r1a"}, ImportOptions{Name: "round1"})
	require.Nil(t, err)
	round2, err := d.Import([]string{"/r2a"}, ImportOptions{Name: "round2"})
	require.Nil(t, err)

	_, err = d.SetActiveRound(round2.RoundID)
	require.Nil(t, err)

	_, ok := store.data[round1.RoundID]
	assert.True(t, ok, "inactive round should have been evicted to persistence")

	fresh := NewDispatcher(store, webhook, nil)
	require.Nil(t, fresh.AdoptPersistedRound(round1.RoundID))
	require.Nil(t, fresh.AdoptPersistedRound(round2.RoundID))

	rounds := fresh.ListRounds()
	assert.Len(t, rounds, 2)

	task, foundRoundID, ferr := fresh.FindTask("/r1a", round1.RoundID)
	require.Nil(t, ferr)
	require.NotNil(t, task)
	assert.Equal(t, round1.RoundID, foundRoundID)

	_, rerr := fresh.Report(task.ID, true, "")
	require.Nil(t, rerr)

	rounds = fresh.ListRounds()
	for _, r := range rounds {
		if r.ID == round1.RoundID {
			assert.Equal(t, LifecycleCompleted, r.Status)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before deadline")
	}
}
