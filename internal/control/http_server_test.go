package control

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrelay/dispatchd/internal/dispatch"
	logpkg "github.com/taskrelay/dispatchd/internal/log"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logpkg.Init(logpkg.DefaultLoggerConfig())
	d := dispatch.NewDispatcher(newMemPersistence(), noopWebhook{}, nil)
	return NewServer(d, Options{}, logpkg.GetLogger())
}

func TestHealthzReturnsOK(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)

	s.handleHealthz(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleRPCRoundTripsImport(t *testing.T) {
	s := newTestServer(t)

	params, _ := json.Marshal(map[string]interface{}{"paths": []string{"a.txt"}})
	body, _ := json.Marshal(Command{Method: "import", Params: params, ID: "1"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))

	s.handleRPC(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestHandleRPCRejectsNonPost(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rpc", nil)

	s.handleRPC(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleRPCRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader([]byte(`{not json`)))

	s.handleRPC(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, errCodeParse, resp.Error.Code)
}

func TestHandleRPCMapsUnknownMethodTo404(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(Command{Method: "doesNotExist", ID: "1"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))

	s.handleRPC(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutesServeOverHTTPAndStopBeforeStartIsNoop(t *testing.T) {
	d := dispatch.NewDispatcher(newMemPersistence(), noopWebhook{}, nil)
	logpkg.Init(logpkg.DefaultLoggerConfig())
	s := NewServer(d, Options{Addr: "127.0.0.1:0"}, logpkg.GetLogger())

	// exercised via the mux directly rather than a live listener, since
	// Options.Addr is fixed and Start doesn't report the chosen port back.
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/healthz", s.handleHealthz)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop(context.Background()))
}
