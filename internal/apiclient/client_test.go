package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallPostsMethodAndParams(t *testing.T) {
	var gotBody Command
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rpc", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{ID: gotBody.ID, Result: json.RawMessage(`{"ok":true}`)})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.Call(context.Background(), "listRounds", nil)
	require.NoError(t, err)
	assert.Equal(t, "listRounds", gotBody.Method)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Result))
}

func TestIntoUnmarshalsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{Result: json.RawMessage(`{"cleared":3}`)})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	var out struct {
		Cleared int `json:"cleared"`
	}
	require.NoError(t, c.Into(context.Background(), "clearAll", nil, &out))
	assert.Equal(t, 3, out.Cleared)
}

func TestIntoReturnsStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Response{Error: &ErrorInfo{Code: "NOT_FOUND", Message: "missing"}})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	var out map[string]interface{}
	err := c.Into(context.Background(), "findTask", nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_FOUND")
	assert.Contains(t, err.Error(), "missing")
}

func TestPingSucceedsOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	assert.NoError(t, c.Ping(context.Background()))
}

func TestPingFailsOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	assert.Error(t, c.Ping(context.Background()))
}
