package dispatch

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/multierr"

	logpkg "github.com/taskrelay/dispatchd/internal/log"
)

const webhookTimeout = 10 * time.Second

// roundEntry is the dispatcher-held metadata shadow for one round. It
// survives whether or not the round's task store is currently loaded
// (spec §3 Dispatcher state, §4.3 Hot/cold caching policy).
type roundEntry struct {
	id          string
	name        string
	sourceType  SourceType
	sourceHint  string
	createdAt   time.Time
	activatedAt *time.Time
	completedAt *time.Time
	lifecycle   RoundLifecycle

	counts Counts
	stats  RunStats

	store        *RoundStore
	dirty        bool
	hasPersisted bool
}

func (e *roundEntry) summary() RoundSummary {
	return RoundSummary{
		ID:          e.id,
		Name:        e.name,
		SourceType:  e.sourceType,
		SourceHint:  e.sourceHint,
		CreatedAt:   e.createdAt,
		ActivatedAt: e.activatedAt,
		CompletedAt: e.completedAt,
		Status:      e.lifecycle,
		Counts:      e.counts,
		Stats:       e.stats,
	}
}

// Dispatcher is the process-wide façade described in spec §4.3. Every
// exported method takes the single coarse lock for its whole duration
// except the narrow window around a webhook POST, which is deliberately
// released before the network call (spec §5).
type Dispatcher struct {
	mu sync.Mutex

	order     []string
	entries   map[string]*roundEntry
	taskIndex map[string]string // task id -> round id

	seq      roundSequence
	activeID string

	lastDigest string
	config     ConfigView

	nodes       *NodeStore
	persistence PersistenceSink
	webhook     WebhookSink
	logger      logpkg.Logger

	now func() time.Time
}

// NewDispatcher wires a Dispatcher from its collaborators.
func NewDispatcher(persistence PersistenceSink, webhook WebhookSink, logger logpkg.Logger) *Dispatcher {
	return &Dispatcher{
		order:       nil,
		entries:     make(map[string]*roundEntry),
		taskIndex:   make(map[string]string),
		config:      DefaultConfig(),
		nodes:       NewNodeStore(),
		persistence: persistence,
		webhook:     webhook,
		logger:      logger,
		now:         time.Now,
	}
}

// ---- round resolution & hot/cold policy ----

func (d *Dispatcher) loadStore(e *roundEntry) (*RoundStore, *Error) {
	if e.store != nil {
		return e.store, nil
	}
	snap, err := d.persistence.Read(context.Background(), e.id)
	if err != nil {
		return nil, ErrRoundUnavailable(e.id, err)
	}
	var store *RoundStore
	if snap != nil {
		store = RestoreRoundStore(*snap)
		e.hasPersisted = true
	} else {
		store = NewRoundStore(e.id)
		e.hasPersisted = false
	}
	e.store = store
	e.dirty = false
	return store, nil
}

// evictRound flushes the round's current store and drops it from memory.
// On a persistence write failure the round stays hot and dirty (spec §4.5
// Failure policy) — data is never silently lost.
func (d *Dispatcher) evictRound(e *roundEntry) {
	if e.store == nil {
		return
	}
	snap := e.store.Snapshot()
	if err := d.persistence.Write(context.Background(), e.id, snap); err != nil {
		if d.logger != nil {
			d.logger.WithError(err).WithField("round_id", e.id).Error("failed to persist round snapshot")
		}
		e.dirty = true
		return
	}
	e.hasPersisted = true
	e.dirty = false
	e.store = nil
}

func (d *Dispatcher) evictIfPossible(e *roundEntry, force bool) {
	if e.store == nil {
		return
	}
	if force || e.dirty || !e.hasPersisted {
		d.evictRound(e)
	}
}

// touch syncs the dispatcher-held counts/stats shadow from a hot store
// and marks the round dirty, after any mutation.
func (d *Dispatcher) touch(e *roundEntry) {
	if e.store == nil {
		return
	}
	e.counts = e.store.Counts()
	e.stats = e.store.Stats()
	e.dirty = true
}

// refreshRoundStatus reconciles lifecycle with R1 and, on a transition to
// completed, always flushes and evicts the round (R4).
func (d *Dispatcher) refreshRoundStatus(e *roundEntry) {
	if e.store != nil {
		e.counts = e.store.Counts()
		e.stats = e.store.Stats()
	}
	total := e.counts.Total()
	completedNow := (e.counts.Pending+e.counts.Processing == 0 && total > 0) || total == 0

	if completedNow && e.lifecycle != LifecycleCompleted {
		e.lifecycle = LifecycleCompleted
		now := d.now()
		e.completedAt = &now
		if d.activeID == e.id {
			d.activeID = ""
		}
		d.evictIfPossible(e, true)
	}
}

// ensureActiveRound resolves the active round: the stored pointer if it
// is still live and non-completed, else the first non-completed round in
// insertion order, which is then promoted to the active lifecycle (spec
// §4.3 Round resolution).
func (d *Dispatcher) ensureActiveRound() (*roundEntry, *Error) {
	if d.activeID != "" {
		if e, ok := d.entries[d.activeID]; ok && e.lifecycle != LifecycleCompleted {
			return e, nil
		}
	}
	for _, id := range d.order {
		e := d.entries[id]
		if e.lifecycle != LifecycleCompleted {
			d.activeID = id
			if e.lifecycle != LifecycleActive {
				e.lifecycle = LifecycleActive
				if e.activatedAt == nil {
					now := d.now()
					e.activatedAt = &now
				}
			}
			return e, nil
		}
	}
	return nil, ErrNoActiveRound()
}

// resolveEntry resolves an explicit round id, or falls back to the
// active round when roundID is empty.
func (d *Dispatcher) resolveEntry(roundID string) (*roundEntry, *Error) {
	if roundID != "" {
		e, ok := d.entries[roundID]
		if !ok {
			return nil, ErrNotFound("任务轮次")
		}
		return e, nil
	}
	return d.ensureActiveRound()
}

// ---- completion detector ----

func (d *Dispatcher) buildCompletionSnapshotLocked() completionSnapshot {
	var snap completionSnapshot
	snap.totalRounds = len(d.entries)
	var items, runTime float64
	for _, e := range d.entries {
		if e.lifecycle == LifecycleCompleted {
			snap.completedRounds++
		}
		snap.totalTasks += e.counts.Total()
		snap.completedTasks += e.counts.Completed
		snap.failedTasks += e.counts.Failed
		items += e.stats.TotalItemNum
		runTime += e.stats.TotalRunningTime
	}
	snap.roundedItems = int64(math.Round(items))
	snap.roundedRunTime = int64(math.Round(runTime))
	return snap
}

// checkCompletionLocked must be called with d.mu held. It returns whether
// an automatic webhook fire is due and, if so, the payload to send. The
// caller is expected to spawn the actual POST so it happens after the
// lock is released (spec §5 "webhook posts must not hold the coarse lock").
func (d *Dispatcher) checkCompletionLocked() (fire bool, url, text string) {
	snap := d.buildCompletionSnapshotLocked()
	if snap.allCompleted() {
		digest := snap.digest()
		if digest != d.lastDigest {
			d.lastDigest = digest
			if d.config.WebhookURL != "" && d.config.Reporting.ReportingEnabled {
				return true, d.config.WebhookURL, buildWebhookText(snap)
			}
		}
	} else {
		d.lastDigest = ""
	}
	return false, "", ""
}

// runCompletionDetector must be called with d.mu held; it schedules an
// async webhook fire (the goroutine blocks on the lock until the caller
// releases it, so the network call itself never runs under lock).
func (d *Dispatcher) runCompletionDetector() {
	if fire, url, text := d.checkCompletionLocked(); fire {
		go d.fireWebhookAsync(url, text)
	}
}

func (d *Dispatcher) fireWebhookAsync(url, text string) {
	d.mu.Lock()
	if d.config.Reporting.InFlight {
		d.mu.Unlock()
		return
	}
	d.config.Reporting.InFlight = true
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()
	result := d.webhook.Post(ctx, url, text)

	d.mu.Lock()
	d.config.Reporting.InFlight = false
	now := d.now()
	d.config.Reporting.LastReportAt = &now
	d.mu.Unlock()

	if !result.OK && d.logger != nil {
		d.logger.WithField("reason", result.Reason).Warn("automatic completion webhook delivery failed")
	}
}

// TriggerReport manually fires the webhook (spec §4.4 "Manual trigger").
// On success the completion digest is left untouched (Open Question
// resolution, see DESIGN.md).
func (d *Dispatcher) TriggerReport() TriggerReportResult {
	d.mu.Lock()
	if d.config.WebhookURL == "" {
		d.mu.Unlock()
		return TriggerReportResult{OK: false, Reason: WebhookNoURL}
	}
	if !d.config.Reporting.ReportingEnabled {
		d.mu.Unlock()
		return TriggerReportResult{OK: false, Reason: WebhookReportingDisabled}
	}
	if d.config.Reporting.InFlight {
		d.mu.Unlock()
		return TriggerReportResult{OK: false, Reason: WebhookInFlight}
	}
	d.config.Reporting.InFlight = true
	snap := d.buildCompletionSnapshotLocked()
	text := buildWebhookText(snap)
	url := d.config.WebhookURL
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()
	result := d.webhook.Post(ctx, url, text)

	d.mu.Lock()
	d.config.Reporting.InFlight = false
	now := d.now()
	d.config.Reporting.LastReportAt = &now
	d.mu.Unlock()

	if !result.OK {
		if result.Err != nil && result.HTTPStatus == 0 {
			return TriggerReportResult{OK: false, Reason: WebhookException}
		}
		return TriggerReportResult{OK: false, Reason: WebhookHTTPError}
	}
	return TriggerReportResult{OK: true}
}

// ---- round creation ----

// Import creates a new round from paths (spec §4.3 Round creation).
func (d *Dispatcher) Import(paths []string, opts ImportOptions) (ImportResult, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if opts.TargetRoundID != "" {
		return d.importIntoExistingRound(opts.TargetRoundID, paths)
	}

	now := d.now()
	id := d.seq.next()
	store := NewRoundStore(id)
	added, skipped, newIDs := store.Enqueue(paths, now)
	for _, tid := range newIDs {
		d.taskIndex[tid] = id
	}

	name := opts.Name
	if name == "" {
		name = id
	}
	sourceType := opts.SourceType
	if sourceType == "" {
		sourceType = SourceManual
	}

	entry := &roundEntry{
		id:         id,
		name:       name,
		sourceType: sourceType,
		sourceHint: opts.SourceHint,
		createdAt:  now,
		lifecycle:  LifecyclePending,
		store:      store,
		dirty:      true,
	}
	entry.counts = store.Counts()
	entry.stats = store.Stats()
	d.entries[id] = entry
	d.order = append(d.order, id)

	shouldActivate := false
	if opts.Activate != nil {
		shouldActivate = *opts.Activate
	} else {
		shouldActivate = d.activeID == "" && entry.counts.Total() > 0
	}

	if shouldActivate {
		entry.lifecycle = LifecycleActive
		activatedAt := now
		entry.activatedAt = &activatedAt
		d.activeID = id
	} else {
		d.evictIfPossible(entry, true)
	}

	d.refreshRoundStatus(entry)
	d.runCompletionDetector()

	return ImportResult{
		RoundID: id,
		Name:    name,
		Counts:  entry.counts,
		Added:   added,
		Skipped: skipped,
		Status:  entry.lifecycle,
	}, nil
}

// importIntoExistingRound enqueues paths into an already-known round
// instead of creating a fresh one (spec §8 scenario 2). Must be called
// with d.mu held.
func (d *Dispatcher) importIntoExistingRound(roundID string, paths []string) (ImportResult, *Error) {
	entry, ok := d.entries[roundID]
	if !ok {
		return ImportResult{}, ErrNotFound("任务轮次")
	}
	if entry.lifecycle == LifecycleCompleted {
		return ImportResult{}, ErrRoundCompleted()
	}

	store, err := d.loadStore(entry)
	if err != nil {
		return ImportResult{}, err
	}

	now := d.now()
	added, skipped, newIDs := store.Enqueue(paths, now)
	for _, tid := range newIDs {
		d.taskIndex[tid] = roundID
	}

	d.touch(entry)
	d.refreshRoundStatus(entry)
	d.runCompletionDetector()

	return ImportResult{
		RoundID: roundID,
		Name:    entry.name,
		Counts:  entry.counts,
		Added:   added,
		Skipped: skipped,
		Status:  entry.lifecycle,
	}, nil
}

// AdoptPersistedRound registers roundID, discovered on disk via the
// persistence sink's ListRoundIDs at startup, as a known round. It loads
// the round once to derive current counts/lifecycle, indexes its task ids
// so Report can route them, and activates it if
// no active round is set yet and it still has work, otherwise evicts it
// back to cold storage. Import-time metadata (name, source) does not
// survive a snapshot; an adopted round keeps its id as its display name.
// A no-op if roundID is already known.
func (d *Dispatcher) AdoptPersistedRound(roundID string) *Error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.entries[roundID]; exists {
		return nil
	}

	now := d.now()
	entry := &roundEntry{
		id:           roundID,
		name:         roundID,
		sourceType:   SourceManual,
		createdAt:    now,
		lifecycle:    LifecyclePending,
		hasPersisted: true,
	}
	store, lerr := d.loadStore(entry)
	if lerr != nil {
		return lerr
	}
	for taskID := range store.tasks {
		d.taskIndex[taskID] = roundID
	}
	entry.counts = store.Counts()
	entry.stats = store.Stats()
	d.entries[roundID] = entry
	d.order = append(d.order, roundID)
	d.refreshRoundStatus(entry)

	if d.activeID == "" && entry.lifecycle != LifecycleCompleted && entry.counts.Total() > 0 {
		entry.lifecycle = LifecycleActive
		entry.activatedAt = &now
		d.activeID = roundID
	} else {
		d.evictIfPossible(entry, true)
	}
	return nil
}

// SetActiveRound sets roundID as the active round (spec §4.3 Setting active).
func (d *Dispatcher) SetActiveRound(roundID string) (RoundSummary, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	target, ok := d.entries[roundID]
	if !ok {
		return RoundSummary{}, ErrNotFound("任务轮次")
	}
	if target.lifecycle == LifecycleCompleted {
		return RoundSummary{}, ErrRoundCompleted()
	}

	if d.activeID != "" && d.activeID != roundID {
		if old, ok := d.entries[d.activeID]; ok {
			d.refreshRoundStatus(old)
			if old.lifecycle == LifecycleActive {
				old.lifecycle = LifecyclePending
			}
			d.evictIfPossible(old, true)
		}
	}

	if _, lerr := d.loadStore(target); lerr != nil {
		return RoundSummary{}, lerr
	}
	target.lifecycle = LifecycleActive
	if target.activatedAt == nil {
		now := d.now()
		target.activatedAt = &now
	}
	d.activeID = roundID

	d.runCompletionDetector()
	return target.summary(), nil
}

// ---- lease / report / sweep ----

// Lease allocates up to batchSize tasks, preferring the active round and
// falling back across the insertion-ordered round list (spec §4.3 Lease).
func (d *Dispatcher) Lease(batchSize int, roundID, nodeID string) ([]LeaseItem, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := batchSize
	if k < 1 {
		k = d.config.DefaultBatchSize
	}
	if k > d.config.MaxBatchSize {
		k = d.config.MaxBatchSize
	}
	if k < 1 {
		k = 1
	}

	now := d.now()
	if nodeID != "" {
		d.nodes.RecordLeaseRequest(nodeID, now)
	}

	var out []LeaseItem

	leaseFrom := func(e *roundEntry, want int) ([]*Task, *Error) {
		store, lerr := d.loadStore(e)
		if lerr != nil {
			return nil, lerr
		}
		tasks := store.Lease(want, nodeID, now)
		if len(tasks) > 0 {
			d.touch(e)
			ids := make([]string, len(tasks))
			for i, t := range tasks {
				ids[i] = t.ID
				d.taskIndex[t.ID] = e.id
			}
			d.nodes.RecordAssignment(nodeID, ids, now)
		}
		d.refreshRoundStatus(e)
		if e.id != d.activeID {
			d.evictIfPossible(e, false)
		}
		return tasks, nil
	}

	if roundID != "" {
		e, ok := d.entries[roundID]
		if !ok {
			return nil, ErrNotFound("任务轮次")
		}
		tasks, lerr := leaseFrom(e, k)
		if lerr != nil {
			return nil, lerr
		}
		for _, t := range tasks {
			out = append(out, LeaseItem{TaskID: t.ID, RoundID: t.RoundID, Path: t.Path})
		}
		d.runCompletionDetector()
		return out, nil
	}

	active, aerr := d.ensureActiveRound()
	if aerr == nil {
		tasks, lerr := leaseFrom(active, k)
		if lerr != nil {
			return nil, lerr
		}
		for _, t := range tasks {
			out = append(out, LeaseItem{TaskID: t.ID, RoundID: t.RoundID, Path: t.Path})
		}
		activeStillHasPending := active.counts.Pending > 0
		if len(tasks) > 0 || activeStillHasPending {
			d.runCompletionDetector()
			return out, nil
		}
	}

	// Active round yielded nothing and has no pending work: fan out.
	remaining := k
	for _, id := range d.order {
		e := d.entries[id]
		if e.lifecycle == LifecycleCompleted || e.id == d.activeID {
			continue
		}
		tasks, lerr := leaseFrom(e, remaining)
		if lerr != nil {
			continue
		}
		for _, t := range tasks {
			out = append(out, LeaseItem{TaskID: t.ID, RoundID: t.RoundID, Path: t.Path})
		}
		if len(tasks) > 0 {
			d.activeID = e.id
			if e.lifecycle != LifecycleActive {
				e.lifecycle = LifecycleActive
				if e.activatedAt == nil {
					now := d.now()
					e.activatedAt = &now
				}
			}
			break
		}
		if e.counts.Pending > 0 {
			break
		}
	}

	d.runCompletionDetector()
	return out, nil
}

// Report applies a terminal outcome for one task (spec §4.3 Report).
func (d *Dispatcher) Report(taskID string, success bool, message string) (TaskStatus, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	roundID, ok := d.taskIndex[taskID]
	if !ok {
		return "", ErrNotFound("任务")
	}
	e, ok := d.entries[roundID]
	if !ok {
		return "", ErrNotFound("任务轮次")
	}

	store, lerr := d.loadStore(e)
	if lerr != nil {
		return "", lerr
	}

	d.nodes.Detach(taskID)
	status, found := store.Report(taskID, success, message, d.now())
	if !found {
		return "", ErrNotFound("任务")
	}
	d.touch(e)
	d.refreshRoundStatus(e)
	if e.id != d.activeID {
		d.evictIfPossible(e, false)
	}
	d.runCompletionDetector()
	return status, nil
}

// Sweep performs a timeout sweep on one round or every round (spec §4.3
// Timeout sweep).
func (d *Dispatcher) Sweep(thresholdMs int64, roundID string) (int, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	sweepOne := func(e *roundEntry) (int, error) {
		store, lerr := d.loadStore(e)
		if lerr != nil {
			return 0, lerr
		}
		for id := range store.processingStart {
			elapsed := now.Sub(store.processingStart[id]).Milliseconds()
			if thresholdMs > 0 && elapsed <= thresholdMs {
				continue
			}
			d.nodes.Detach(id)
		}
		n := store.Sweep(thresholdMs, now)
		if n > 0 {
			d.touch(e)
		}
		d.refreshRoundStatus(e)
		if e.id != d.activeID {
			d.evictIfPossible(e, false)
		}
		return n, nil
	}

	if roundID != "" {
		e, ok := d.entries[roundID]
		if !ok {
			return 0, ErrNotFound("任务轮次")
		}
		n, err := sweepOne(e)
		if err != nil {
			if derr, ok := err.(*Error); ok {
				return 0, derr
			}
			return 0, ErrRoundUnavailable(roundID, err)
		}
		d.runCompletionDetector()
		return n, nil
	}

	var total int
	var errs error
	for _, id := range d.order {
		e := d.entries[id]
		if e.lifecycle == LifecycleCompleted {
			continue
		}
		n, err := sweepOne(e)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		total += n
	}
	d.runCompletionDetector()
	if errs != nil && d.logger != nil {
		d.logger.WithError(errs).Warn("sweep encountered round load errors")
	}
	return total, nil
}

// Inspect aggregates processing inspection across rounds (spec §4.3).
func (d *Dispatcher) Inspect(thresholdMs int64, roundID string) (InspectResult, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	var agg ProcessingReport
	var selected *ProcessingReport

	inspectOne := func(e *roundEntry) (ProcessingReport, *Error) {
		store, lerr := d.loadStore(e)
		if lerr != nil {
			return ProcessingReport{}, lerr
		}
		rep := store.InspectProcessing(thresholdMs, now)
		if e.id != d.activeID {
			d.evictIfPossible(e, false)
		}
		return rep, nil
	}

	for _, id := range d.order {
		e := d.entries[id]
		rep, lerr := inspectOne(e)
		if lerr != nil {
			continue
		}
		agg.TotalProcessing += rep.TotalProcessing
		agg.TimedOutCount += rep.TimedOutCount
		agg.NearTimeoutCount += rep.NearTimeoutCount
		if rep.LongestDurationMs != nil {
			if agg.LongestDurationMs == nil || *rep.LongestDurationMs > *agg.LongestDurationMs {
				agg.LongestDurationMs = rep.LongestDurationMs
			}
		}
		agg.TopTimedOut = mergeTop(agg.TopTimedOut, rep.TopTimedOut, 5)
		agg.TopLongest = mergeTop(agg.TopLongest, rep.TopLongest, 5)

		if roundID != "" && id == roundID {
			r := rep
			selected = &r
		}
	}

	if roundID != "" && selected == nil {
		if _, ok := d.entries[roundID]; !ok {
			return InspectResult{}, ErrNotFound("任务轮次")
		}
	}

	return InspectResult{Aggregate: agg, SelectedRound: selected}, nil
}

func mergeTop(a, b []ProcessingRecord, n int) []ProcessingRecord {
	merged := append(append([]ProcessingRecord(nil), a...), b...)
	for i := 1; i < len(merged); i++ {
		j := i
		for j > 0 && merged[j-1].DurationMs < merged[j].DurationMs {
			merged[j-1], merged[j] = merged[j], merged[j-1]
			j--
		}
	}
	if len(merged) > n {
		merged = merged[:n]
	}
	return merged
}

// ---- listing / lookup ----

// ListTasks returns one page of tasks for a round (spec §6 listTasks).
func (d *Dispatcher) ListTasks(filter ListFilter, page, size int, roundID string) (Page, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, rerr := d.resolveEntry(roundID)
	if rerr != nil {
		return Page{}, rerr
	}
	store, lerr := d.loadStore(e)
	if lerr != nil {
		return Page{}, lerr
	}
	defer func() {
		if e.id != d.activeID {
			d.evictIfPossible(e, false)
		}
	}()

	switch filter {
	case FilterPending:
		return store.ListPending(page, size), nil
	case FilterProcessing:
		return store.ListProcessing(page, size), nil
	case FilterCompleted:
		return store.ListCompleted(page, size), nil
	case FilterFailed:
		return store.ListFailed(page, size), nil
	default:
		return store.ListAll(page, size), nil
	}
}

// ListRounds returns every round's summary in insertion order.
func (d *Dispatcher) ListRounds() []RoundSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]RoundSummary, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.entries[id].summary())
	}
	return out
}

// FindTask looks up a task by id or by path within a round (spec §6 findTask).
func (d *Dispatcher) FindTask(query, roundID string) (*Task, string, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if roundID == "" {
		if rid, ok := d.taskIndex[query]; ok {
			roundID = rid
		}
	}

	e, rerr := d.resolveEntry(roundID)
	if rerr != nil {
		return nil, "", nil
	}
	store, lerr := d.loadStore(e)
	if lerr != nil {
		return nil, "", lerr
	}
	defer func() {
		if e.id != d.activeID {
			d.evictIfPossible(e, false)
		}
	}()

	t := store.Find(query)
	if t == nil {
		return nil, "", nil
	}
	return t, e.id, nil
}

// ---- node telemetry ----

// RecordNodeProcessedInfo records node telemetry unconditionally and, if
// an active round exists, folds it into that round's processed
// aggregates (spec §4.3 Node telemetry passthrough). It never fails for
// lack of an active round — see DESIGN.md for the Open Question
// resolution; the stricter, round-id-required variant lives at the HTTP
// boundary (internal/control).
func (d *Dispatcher) RecordNodeProcessedInfo(info ProcessedInfo) *Error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if info.NodeID == "" {
		return ErrInvalidInput("节点 ID 不能为空")
	}
	if info.ItemNum < 0 || info.RunningTime < 0 {
		return ErrInvalidInput("条目数和运行时间不能为负数")
	}

	now := d.now()
	d.nodes.RecordProcessed(info.NodeID, info.ItemNum, info.RunningTime, now)

	if active, aerr := d.ensureActiveRound(); aerr == nil {
		store, lerr := d.loadStore(active)
		if lerr == nil {
			store.AddProcessed(info.ItemNum, info.RunningTime, now)
			d.touch(active)
		}
	}

	d.runCompletionDetector()
	return nil
}

// ListNodes returns a paginated node listing plus the global summary
// (spec §6 listNodes).
func (d *Dispatcher) ListNodes(page, size int) NodesResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	views, total := d.nodes.List(page, size, d.now())
	page, size = clampPaging(page, size)
	return NodesResult{Nodes: views, Total: total, Page: page, Size: size, Summary: d.nodes.Summary()}
}

// DeleteNode removes one node's telemetry record.
func (d *Dispatcher) DeleteNode(nodeID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nodes.Delete(nodeID)
}

// ---- clearing ----

// ClearRound drops all tasks in one round and its persisted snapshot
// (spec §4.3 Clearing).
func (d *Dispatcher) ClearRound(roundID string) (int, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[roundID]
	if !ok {
		return 0, ErrNotFound("任务轮次")
	}

	store, lerr := d.loadStore(e)
	if lerr != nil {
		return 0, lerr
	}
	cleared, processingIDs := store.Clear()
	for _, id := range processingIDs {
		d.nodes.Detach(id)
	}
	for taskID, rid := range d.taskIndex {
		if rid == roundID {
			delete(d.taskIndex, taskID)
		}
	}

	if err := d.persistence.Delete(context.Background(), roundID); err != nil && d.logger != nil {
		d.logger.WithError(err).WithField("round_id", roundID).Warn("failed to delete persisted round snapshot")
	}

	delete(d.entries, roundID)
	d.order = removeID(d.order, roundID)
	if d.activeID == roundID {
		d.activeID = ""
		d.ensureActiveRound()
	}

	if len(d.entries) == 0 {
		d.lastDigest = ""
	}
	d.runCompletionDetector()
	return cleared, nil
}

// ClearAll clears every round.
func (d *Dispatcher) ClearAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var total int
	ids := append([]string(nil), d.order...)
	var errs error
	for _, id := range ids {
		e := d.entries[id]
		store, lerr := d.loadStore(e)
		if lerr != nil {
			errs = multierr.Append(errs, lerr)
			continue
		}
		cleared, processingIDs := store.Clear()
		total += cleared
		for _, pid := range processingIDs {
			d.nodes.Detach(pid)
		}
		if err := d.persistence.Delete(context.Background(), id); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for taskID := range d.taskIndex {
		delete(d.taskIndex, taskID)
	}
	d.entries = make(map[string]*roundEntry)
	d.order = nil
	d.activeID = ""
	d.lastDigest = ""

	if errs != nil && d.logger != nil {
		d.logger.WithError(errs).Warn("clearAll encountered round errors")
	}
	return total
}

// ---- configuration ----

// GetConfig returns the current configuration view.
func (d *Dispatcher) GetConfig() ConfigView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// UpdateConfig validates and applies a partial configuration update
// (spec §4.3 Configuration view).
func (d *Dispatcher) UpdateConfig(patch ConfigPatch) (ConfigView, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.config.applyPatch(patch); err != nil {
		return d.config, err
	}
	return d.config, nil
}

// ---- exports ----

// ExportFailed lists failed tasks across one or all rounds (spec §6 exportFailed).
func (d *Dispatcher) ExportFailed(roundID string, limit int) ([]FailedTaskRecord, *Error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []FailedTaskRecord
	collect := func(e *roundEntry) *Error {
		store, lerr := d.loadStore(e)
		if lerr != nil {
			return lerr
		}
		for _, t := range store.ExportFailed(limit) {
			out = append(out, FailedTaskRecord{
				RoundID:      e.id,
				ID:           t.ID,
				Path:         t.Path,
				FailureCount: t.FailureCount,
				Message:      t.Message,
				CreatedAt:    t.CreatedAt,
				UpdatedAt:    t.UpdatedAt,
			})
		}
		if e.id != d.activeID {
			d.evictIfPossible(e, false)
		}
		return nil
	}

	if roundID != "" {
		e, ok := d.entries[roundID]
		if !ok {
			return nil, ErrNotFound("任务轮次")
		}
		if err := collect(e); err != nil {
			return nil, err
		}
		return trimFailed(out, limit), nil
	}

	for _, id := range d.order {
		if err := collect(d.entries[id]); err != nil {
			continue
		}
	}
	return trimFailed(out, limit), nil
}

func trimFailed(records []FailedTaskRecord, limit int) []FailedTaskRecord {
	if limit > 0 && len(records) > limit {
		return records[:limit]
	}
	return records
}
