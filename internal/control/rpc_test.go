package control

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrelay/dispatchd/internal/dispatch"
)

type memPersistence struct {
	mu   sync.Mutex
	data map[string]dispatch.RoundSnapshot
}

func newMemPersistence() *memPersistence {
	return &memPersistence{data: make(map[string]dispatch.RoundSnapshot)}
}

func (m *memPersistence) Read(_ context.Context, roundID string) (*dispatch.RoundSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.data[roundID]
	if !ok {
		return nil, nil
	}
	cp := snap
	return &cp, nil
}

func (m *memPersistence) Write(_ context.Context, roundID string, snap dispatch.RoundSnapshot) error {
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

type noopWebhook struct{}

func (noopWebhook) Post(context.Context, string, string) dispatch.WebhookResult {
	return dispatch.WebhookResult{OK: true, HTTPStatus: 200}
}

func newTestHandler() *Handler {
	d := dispatch.NewDispatcher(newMemPersistence(), noopWebhook{}, nil)
	return NewHandler(d)
}

func TestHandleImportAndListRounds(t *testing.T) {
	h := newTestHandler()

	params, _ := json.Marshal(map[string]interface{}{"paths": []string{"a.txt", "b.txt"}})
	resp := h.Handle(Command{Method: "import", Params: params, ID: "1"})
	require.Nil(t, resp.Error)

	listResp := h.Handle(Command{Method: "listRounds", ID: "2"})
	require.Nil(t, listResp.Error)
	body, err := json.Marshal(listResp.Result)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"rounds"`)
}

func TestHandleUnknownMethod(t *testing.T) {
	h := newTestHandler()
	resp := h.Handle(Command{Method: "doesNotExist", ID: "1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, errCodeMethodUnknown, resp.Error.Code)
}

func TestHandleImportRejectsBadJSON(t *testing.T) {
	h := newTestHandler()
	resp := h.Handle(Command{Method: "import", Params: json.RawMessage(`{bad`), ID: "1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, errCodeInvalidParams, resp.Error.Code)
}

func TestHandleRecordNodeProcessedInfoRequiresRoundID(t *testing.T) {
	h := newTestHandler()
	params, _ := json.Marshal(map[string]interface{}{"nodeId": "node-1", "itemNum": 5})
	resp := h.Handle(Command{Method: "recordNodeProcessedInfo", Params: params, ID: "1"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, errCodeInvalidParams, resp.Error.Code)
}

func TestHandleLeaseAndReportLifecycle(t *testing.T) {
	h := newTestHandler()

	importParams, _ := json.Marshal(map[string]interface{}{"paths": []string{"a.txt"}})
	resp := h.Handle(Command{Method: "import", Params: importParams, ID: "1"})
	require.Nil(t, resp.Error)

	leaseParams, _ := json.Marshal(map[string]interface{}{"batchSize": 10, "nodeId": "node-1"})
	leaseResp := h.Handle(Command{Method: "lease", Params: leaseParams, ID: "2"})
	require.Nil(t, leaseResp.Error)

	body, err := json.Marshal(leaseResp.Result)
	require.NoError(t, err)
	var decoded struct {
		Items []dispatch.LeaseItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded.Items, 1)

	reportParams, _ := json.Marshal(map[string]interface{}{"taskId": decoded.Items[0].TaskID, "success": true})
	reportResp := h.Handle(Command{Method: "report", Params: reportParams, ID: "3"})
	require.Nil(t, reportResp.Error)
}

func TestStatusForResponseMapsDispatchCodes(t *testing.T) {
	assert.Equal(t, 200, statusForResponse(Response{}))
	assert.Equal(t, 404, statusForResponse(Response{Error: &ErrorInfo{Code: string(dispatch.CodeNotFound)}}))
	assert.Equal(t, 409, statusForResponse(Response{Error: &ErrorInfo{Code: string(dispatch.CodeRoundCompleted)}}))
	assert.Equal(t, 503, statusForResponse(Response{Error: &ErrorInfo{Code: string(dispatch.CodeNoActiveRound)}}))
	assert.Equal(t, 400, statusForResponse(Response{Error: &ErrorInfo{Code: errCodeInvalidParams}}))
}
