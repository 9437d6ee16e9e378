package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskrelay/dispatchd/internal/dispatch"
)

func TestPostSuccessDecodesPayload(t *testing.T) {
	var received payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewSink(2 * time.Second)
	res := sink.Post(context.Background(), srv.URL, "all rounds complete")

	assert.True(t, res.OK)
	assert.Equal(t, http.StatusOK, res.HTTPStatus)
	assert.Equal(t, "text", received.MsgType)
	assert.Equal(t, "all rounds complete", received.Content.Text)
}

func TestPostHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewSink(2 * time.Second)
	res := sink.Post(context.Background(), srv.URL, "hello")

	assert.False(t, res.OK)
	assert.Equal(t, dispatch.WebhookHTTPError, res.Reason)
	assert.Equal(t, http.StatusInternalServerError, res.HTTPStatus)
}

func TestPostUnreachableURLIsException(t *testing.T) {
	sink := NewSink(50 * time.Millisecond)
	res := sink.Post(context.Background(), "http://127.0.0.1:1", "hello")

	assert.False(t, res.OK)
	assert.Equal(t, dispatch.WebhookException, res.Reason)
	assert.Error(t, res.Err)
}
