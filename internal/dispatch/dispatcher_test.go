package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memPersistence is an in-memory PersistenceSink for tests.
type memPersistence struct {
	mu   sync.Mutex
	data map[string]RoundSnapshot
}

func newMemPersistence() *memPersistence {
	return &memPersistence{data: make(map[string]RoundSnapshot)}
}

func (m *memPersistence) Read(_ context.Context, roundID string) (*RoundSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.data[roundID]
	if !ok {
		return nil, nil
	}
	cp := snap
	return &cp, nil
}

func (m *memPersistence) Write(_ context.Context, roundID string, snap RoundSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[roundID] = snap
	return nil
}

func (m *memPersistence) Delete(_ context.Context, roundID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, roundID)
	return nil
}

// fakeWebhook records every post it receives.
type fakeWebhook struct {
	mu    sync.Mutex
	posts []string
	result WebhookResult
}

func (f *fakeWebhook) Post(_ context.Context, url, text string) WebhookResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, text)
	if f.result == (WebhookResult{}) {
		return WebhookResult{OK: true, HTTPStatus: 200}
	}
	return f.result
}

func (f *fakeWebhook) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

func newTestDispatcher() (*Dispatcher, *memPersistence, *fakeWebhook) {
	p := newMemPersistence()
	w := &fakeWebhook{}
	d := NewDispatcher(p, w, nil)
	return d, p, w
}

func TestImportCreatesPendingCountsAndActivatesFirstRound(t *testing.T) {
	d, _, _ := newTestDispatcher()

	res, err := d.Import([]string{"a.txt", "b.txt", "a.txt", "  "}, ImportOptions{})
	require.Nil(t, err)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 2, res.Skipped) // dup path + blank path
	assert.Equal(t, LifecycleActive, res.Status)
	assert.Equal(t, 2, res.Counts.Pending)
}

func TestLeaseReportRoundTripCompletesRound(t *testing.T) {
	d, _, hook := newTestDispatcher()

	url := "https://example.test/webhook"
	_, cerr := d.UpdateConfig(ConfigPatch{WebhookURL: &url})
	require.Nil(t, cerr)

	res, err := d.Import([]string{"a.txt", "b.txt"}, ImportOptions{})
	require.Nil(t, err)

	items, lerr := d.Lease(10, "", "node-1")
	require.Nil(t, lerr)
	require.Len(t, items, 2)

	for _, it := range items {
		_, rerr := d.Report(it.TaskID, true, "")
		require.Nil(t, rerr)
	}

	rounds := d.ListRounds()
	require.Len(t, rounds, 1)
	assert.Equal(t, LifecycleCompleted, rounds[0].Status)
	assert.Equal(t, res.RoundID, rounds[0].ID)
	// the webhook is posted from a detached goroutine; wait for it.
	waitFor(t, func() bool { return hook.count() == 1 })
	assert.Equal(t, 1, hook.count(), "completion digest should fire the webhook exactly once")
}

func TestSweepRetriesOnceThenFails(t *testing.T) {
	d, _, _ := newTestDispatcher()
	fixedNow := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixedNow }

	res, err := d.Import([]string{"a.txt"}, ImportOptions{})
	require.Nil(t, err)

	items, lerr := d.Lease(1, "", "node-1")
	require.Nil(t, lerr)
	require.Len(t, items, 1)

	d.now = func() time.Time { return fixedNow.Add(time.Hour) }
	n, serr := d.Sweep(1000, "")
	require.Nil(t, serr)
	assert.Equal(t, 1, n)

	page, perr := d.ListTasks(FilterPending, 1, 10, "")
	require.Nil(t, perr)
	require.Len(t, page.Items, 1)
	assert.Equal(t, 1, page.Items[0].FailureCount)

	items, lerr = d.Lease(1, "", "node-1")
	require.Nil(t, lerr)
	require.Len(t, items, 1)

	d.now = func() time.Time { return fixedNow.Add(2 * time.Hour) }
	n, serr = d.Sweep(1000, "")
	require.Nil(t, serr)
	assert.Equal(t, 1, n)

	// the round is now completed, so there is no active round to fall back
	// on: name it explicitly.
	failed, ferr := d.ListTasks(FilterFailed, 1, 10, res.RoundID)
	require.Nil(t, ferr)
	require.Len(t, failed.Items, 1)
	assert.Equal(t, StatusFailed, failed.Items[0].Status)
}

func TestLeaseFallsBackToNextRoundWhenActiveIsExhausted(t *testing.T) {
	d, _, _ := newTestDispatcher()

	first, err := d.Import([]string{"a.txt"}, ImportOptions{})
	require.Nil(t, err)
	second, err := d.Import([]string{"b.txt"}, ImportOptions{Activate: boolPtr(false)})
	require.Nil(t, err)

	items, lerr := d.Lease(5, "", "node-1")
	require.Nil(t, lerr)
	require.Len(t, items, 1)
	assert.Equal(t, first.RoundID, items[0].RoundID)

	_, rerr := d.Report(items[0].TaskID, true, "")
	require.Nil(t, rerr)

	items, lerr = d.Lease(5, "", "node-1")
	require.Nil(t, lerr)
	require.Len(t, items, 1)
	assert.Equal(t, second.RoundID, items[0].RoundID)
}

func TestSetActiveRoundRejectsCompletedRound(t *testing.T) {
	d, _, _ := newTestDispatcher()

	res, err := d.Import([]string{"a.txt"}, ImportOptions{})
	require.Nil(t, err)
	items, _ := d.Lease(1, "", "node-1")
	_, _ = d.Report(items[0].TaskID, true, "")

	_, serr := d.SetActiveRound(res.RoundID)
	require.NotNil(t, serr)
	assert.Equal(t, CodeRoundCompleted, serr.Code)
}

func TestReportUnknownTaskReturnsNotFound(t *testing.T) {
	d, _, _ := newTestDispatcher()
	_, err := d.Report("does-not-exist", true, "")
	require.NotNil(t, err)
	assert.Equal(t, CodeNotFound, err.Code)
}

func TestUpdateConfigRejectsDefaultBatchSizeAboveMax(t *testing.T) {
	d, _, _ := newTestDispatcher()
	big := 9999
	_, err := d.UpdateConfig(ConfigPatch{DefaultBatchSize: &big})
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidInput, err.Code)
}

func TestUpdateConfigRejectsNonHTTPSWebhook(t *testing.T) {
	d, _, _ := newTestDispatcher()
	url := "http://example.com/webhook"
	_, err := d.UpdateConfig(ConfigPatch{WebhookURL: &url})
	require.NotNil(t, err)
	assert.Equal(t, CodeInvalidInput, err.Code)
}

func TestTriggerReportDistinguishesNoURLFromReportingDisabled(t *testing.T) {
	d, _, _ := newTestDispatcher()

	res := d.TriggerReport()
	assert.False(t, res.OK)
	assert.Equal(t, WebhookNoURL, res.Reason)

	url := "https://example.test/webhook"
	disabled := false
	_, err := d.UpdateConfig(ConfigPatch{WebhookURL: &url, ReportingEnabled: &disabled})
	require.Nil(t, err)

	res = d.TriggerReport()
	assert.False(t, res.OK)
	assert.Equal(t, WebhookReportingDisabled, res.Reason)
}

func TestClearRoundRemovesPersistedSnapshot(t *testing.T) {
	d, store, _ := newTestDispatcher()

	// Importing without activating evicts the round immediately, which
	// flushes its snapshot to persistence (spec §4.3 hot/cold policy).
	res, err := d.Import([]string{"a.txt"}, ImportOptions{Activate: boolPtr(false)})
	require.Nil(t, err)
	_, ok := store.data[res.RoundID]
	require.True(t, ok, "importing a non-active round should persist it")

	n, cerr := d.ClearRound(res.RoundID)
	require.Nil(t, cerr)
	assert.Equal(t, 1, n)

	_, ok = store.data[res.RoundID]
	assert.False(t, ok, "persisted snapshot should be gone after ClearRound")

	rounds := d.ListRounds()
	assert.Len(t, rounds, 0)
}

func TestFindTaskByPathAndByID(t *testing.T) {
	d, _, _ := newTestDispatcher()
	res, err := d.Import([]string{"some/path.go"}, ImportOptions{})
	require.Nil(t, err)

	task, roundID, ferr := d.FindTask("some/path.go", "")
	require.Nil(t, ferr)
	require.NotNil(t, task)
	assert.Equal(t, res.RoundID, roundID)

	byID, _, ferr := d.FindTask(task.ID, "")
	require.Nil(t, ferr)
	require.NotNil(t, byID)
	assert.Equal(t, task.ID, byID.ID)
}

func boolPtr(b bool) *bool { return &b }
