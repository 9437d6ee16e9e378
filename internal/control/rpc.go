// Package control implements the worker/operator-facing HTTP API: a
// single JSON-RPC-shaped "/rpc" endpoint whose method field selects the
// dispatch operation, plus a handful of plain REST endpoints. The method
// switch mirrors the donor's command.CommandHandler.Handle, retargeted
// from Unix-domain-socket framing to HTTP request/response bodies.
package control

import (
	"encoding/json"
	"fmt"

	"github.com/taskrelay/dispatchd/internal/dispatch"
	"github.com/taskrelay/dispatchd/internal/metrics"
)

// Command is one JSON-RPC-shaped request body posted to /rpc.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     string          `json:"id,omitempty"`
}

// Response is the body returned for every Command.
type Response struct {
	ID     string      `json:"id,omitempty"`
	Result interface{} `json:"result,omitempty"`
	Error  *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo is the error shape of a failed Response.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for malformed requests (dispatch errors carry their own
// dispatch.Code and pass straight through via errorResponse).
const (
	errCodeParse         = "PARSE_ERROR"
	errCodeMethodUnknown = "METHOD_NOT_FOUND"
	errCodeInvalidParams = "INVALID_PARAMS"
)

// Handler dispatches Commands to a *dispatch.Dispatcher.
type Handler struct {
	d *dispatch.Dispatcher
}

// NewHandler wraps d for RPC dispatch.
func NewHandler(d *dispatch.Dispatcher) *Handler {
	return &Handler{d: d}
}

// Handle routes cmd to the matching dispatcher operation.
func (h *Handler) Handle(cmd Command) Response {
	switch cmd.Method {
	case "import":
		return h.handleImport(cmd)
	case "setActiveRound":
		return h.handleSetActiveRound(cmd)
	case "lease":
		return h.handleLease(cmd)
	case "report":
		return h.handleReport(cmd)
	case "sweep":
		return h.handleSweep(cmd)
	case "inspect":
		return h.handleInspect(cmd)
	case "listTasks":
		return h.handleListTasks(cmd)
	case "listRounds":
		return h.handleListRounds(cmd)
	case "findTask":
		return h.handleFindTask(cmd)
	case "recordNodeProcessedInfo":
		return h.handleRecordNodeProcessedInfo(cmd)
	case "listNodes":
		return h.handleListNodes(cmd)
	case "deleteNode":
		return h.handleDeleteNode(cmd)
	case "clearRound":
		return h.handleClearRound(cmd)
	case "clearAll":
		return h.handleClearAll(cmd)
	case "getConfig":
		return h.handleGetConfig(cmd)
	case "updateConfig":
		return h.handleUpdateConfig(cmd)
	case "exportFailed":
		return h.handleExportFailed(cmd)
	case "triggerReport":
		return h.handleTriggerReport(cmd)
	default:
		return Response{ID: cmd.ID, Error: &ErrorInfo{
			Code:    errCodeMethodUnknown,
			Message: fmt.Sprintf("method %q not found", cmd.Method),
		}}
	}
}

func invalidParams(cmd Command, err error) Response {
	return Response{ID: cmd.ID, Error: &ErrorInfo{
		Code:    errCodeInvalidParams,
		Message: fmt.Sprintf("invalid params: %v", err),
	}}
}

func dispatchError(cmd Command, derr *dispatch.Error) Response {
	return Response{ID: cmd.ID, Error: &ErrorInfo{
		Code:    string(derr.Code),
		Message: derr.Message,
	}}
}

func ok(cmd Command, result interface{}) Response {
	return Response{ID: cmd.ID, Result: result}
}

type importParams struct {
	Paths      []string              `json:"paths"`
	Name       string                `json:"name,omitempty"`
	SourceType dispatch.SourceType   `json:"sourceType,omitempty"`
	SourceHint string                `json:"sourceHint,omitempty"`
	Activate   *bool                 `json:"activate,omitempty"`
	RoundID    string                `json:"roundId,omitempty"`
}

func (h *Handler) handleImport(cmd Command) Response {
	var p importParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	res, derr := h.d.Import(p.Paths, dispatch.ImportOptions{
		Name:          p.Name,
		SourceType:    p.SourceType,
		SourceHint:    p.SourceHint,
		Activate:      p.Activate,
		TargetRoundID: p.RoundID,
	})
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	metrics.TasksImportedTotal.WithLabelValues(res.RoundID).Add(float64(res.Added))
	return ok(cmd, res)
}

type roundIDParams struct {
	RoundID string `json:"roundId"`
}

func (h *Handler) handleSetActiveRound(cmd Command) Response {
	var p roundIDParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	res, derr := h.d.SetActiveRound(p.RoundID)
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	return ok(cmd, res)
}

type leaseParams struct {
	BatchSize int    `json:"batchSize"`
	RoundID   string `json:"roundId,omitempty"`
	NodeID    string `json:"nodeId,omitempty"`
}

func (h *Handler) handleLease(cmd Command) Response {
	var p leaseParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	items, derr := h.d.Lease(p.BatchSize, p.RoundID, p.NodeID)
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	if len(items) > 0 {
		metrics.TasksLeasedTotal.WithLabelValues(items[0].RoundID, p.NodeID).Add(float64(len(items)))
	}
	return ok(cmd, map[string]interface{}{"items": items})
}

type reportParams struct {
	TaskID  string `json:"taskId"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) handleReport(cmd Command) Response {
	var p reportParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	status, derr := h.d.Report(p.TaskID, p.Success, p.Message)
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	metrics.TasksReportedTotal.WithLabelValues("", string(status)).Inc()
	return ok(cmd, map[string]interface{}{"status": status})
}

type sweepParams struct {
	ThresholdMs int64  `json:"thresholdMs"`
	RoundID     string `json:"roundId,omitempty"`
}

func (h *Handler) handleSweep(cmd Command) Response {
	var p sweepParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	n, derr := h.d.Sweep(p.ThresholdMs, p.RoundID)
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	if n > 0 {
		metrics.TasksRetriedTotal.WithLabelValues(p.RoundID).Add(float64(n))
	}
	return ok(cmd, map[string]interface{}{"requeued": n})
}

func (h *Handler) handleInspect(cmd Command) Response {
	var p sweepParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return invalidParams(cmd, err)
		}
	}
	res, derr := h.d.Inspect(p.ThresholdMs, p.RoundID)
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	return ok(cmd, res)
}

type listTasksParams struct {
	Filter  dispatch.ListFilter `json:"filter,omitempty"`
	Page    int                 `json:"page,omitempty"`
	Size    int                 `json:"pageSize,omitempty"`
	RoundID string              `json:"roundId,omitempty"`
}

func (h *Handler) handleListTasks(cmd Command) Response {
	var p listTasksParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return invalidParams(cmd, err)
		}
	}
	page, derr := h.d.ListTasks(p.Filter, p.Page, p.Size, p.RoundID)
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	return ok(cmd, page)
}

func (h *Handler) handleListRounds(cmd Command) Response {
	rounds := h.d.ListRounds()
	refreshRoundGauges(rounds)
	return ok(cmd, map[string]interface{}{"rounds": rounds})
}

// refreshRoundGauges recomputes round-distribution gauges from the current
// listRounds view. Cheap relative to how rarely rounds are listed, and
// avoids importing metrics into the dispatch core itself.
func refreshRoundGauges(rounds []dispatch.RoundSummary) {
	var active float64
	var pending, processing, completed, failed float64
	for _, r := range rounds {
		if r.Status == dispatch.LifecycleActive {
			active++
		}
		pending += float64(r.Counts.Pending)
		processing += float64(r.Counts.Processing)
		completed += float64(r.Counts.Completed)
		failed += float64(r.Counts.Failed)
	}
	metrics.ActiveRounds.Set(active)
	metrics.RoundTaskCounts.WithLabelValues("pending").Set(pending)
	metrics.RoundTaskCounts.WithLabelValues("processing").Set(processing)
	metrics.RoundTaskCounts.WithLabelValues("completed").Set(completed)
	metrics.RoundTaskCounts.WithLabelValues("failed").Set(failed)
}

type findTaskParams struct {
	Query   string `json:"query"`
	RoundID string `json:"roundId,omitempty"`
}

func (h *Handler) handleFindTask(cmd Command) Response {
	var p findTaskParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	task, roundID, derr := h.d.FindTask(p.Query, p.RoundID)
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	if task == nil {
		return ok(cmd, map[string]interface{}{"found": false})
	}
	return ok(cmd, map[string]interface{}{"found": true, "task": task, "roundId": roundID})
}

type recordNodeProcessedParams struct {
	NodeID      string  `json:"nodeId"`
	ItemNum     float64 `json:"itemNum"`
	RunningTime float64 `json:"runningTime"`
	RoundID     string  `json:"roundId,omitempty"`
}

// handleRecordNodeProcessedInfo is the "stricter variant" the HTTP
// boundary enforces: it requires roundId even though
// Dispatcher.RecordNodeProcessedInfo does not, so a worker can't silently
// report telemetry nobody will ever attribute to a round.
func (h *Handler) handleRecordNodeProcessedInfo(cmd Command) Response {
	var p recordNodeProcessedParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	if p.RoundID == "" {
		return Response{ID: cmd.ID, Error: &ErrorInfo{
			Code:    errCodeInvalidParams,
			Message: "roundId is required",
		}}
	}
	derr := h.d.RecordNodeProcessedInfo(dispatch.ProcessedInfo{
		NodeID:      p.NodeID,
		ItemNum:     p.ItemNum,
		RunningTime: p.RunningTime,
	})
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	return ok(cmd, map[string]interface{}{"status": "recorded"})
}

type pageParams struct {
	Page int `json:"page,omitempty"`
	Size int `json:"pageSize,omitempty"`
}

func (h *Handler) handleListNodes(cmd Command) Response {
	var p pageParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return invalidParams(cmd, err)
		}
	}
	res := h.d.ListNodes(p.Page, p.Size)
	metrics.NodesKnown.Set(float64(res.Total))
	return ok(cmd, res)
}

type nodeIDParams struct {
	NodeID string `json:"nodeId"`
}

func (h *Handler) handleDeleteNode(cmd Command) Response {
	var p nodeIDParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	deleted := h.d.DeleteNode(p.NodeID)
	return ok(cmd, map[string]interface{}{"deleted": deleted})
}

func (h *Handler) handleClearRound(cmd Command) Response {
	var p roundIDParams
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	n, derr := h.d.ClearRound(p.RoundID)
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	return ok(cmd, map[string]interface{}{"cleared": n})
}

func (h *Handler) handleClearAll(cmd Command) Response {
	n := h.d.ClearAll()
	return ok(cmd, map[string]interface{}{"cleared": n})
}

func (h *Handler) handleGetConfig(cmd Command) Response {
	return ok(cmd, h.d.GetConfig())
}

func (h *Handler) handleUpdateConfig(cmd Command) Response {
	var p dispatch.ConfigPatch
	if err := json.Unmarshal(cmd.Params, &p); err != nil {
		return invalidParams(cmd, err)
	}
	cfg, derr := h.d.UpdateConfig(p)
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	return ok(cmd, cfg)
}

type exportFailedParams struct {
	RoundID string `json:"roundId,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func (h *Handler) handleExportFailed(cmd Command) Response {
	var p exportFailedParams
	if len(cmd.Params) > 0 {
		if err := json.Unmarshal(cmd.Params, &p); err != nil {
			return invalidParams(cmd, err)
		}
	}
	records, derr := h.d.ExportFailed(p.RoundID, p.Limit)
	if derr != nil {
		return dispatchError(cmd, derr)
	}
	return ok(cmd, map[string]interface{}{"records": records})
}

func (h *Handler) handleTriggerReport(cmd Command) Response {
	return ok(cmd, h.d.TriggerReport())
}
