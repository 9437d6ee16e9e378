// Package webhook implements dispatch.WebhookSink by posting a Feishu/Lark
// style text-card payload to a configured incoming-webhook URL (spec §4.5,
// §6 webhook payload).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/taskrelay/dispatchd/internal/dispatch"
	"github.com/taskrelay/dispatchd/internal/metrics"
)

// payload is the wire body of a Feishu-compatible incoming webhook.
type payload struct {
	MsgType string      `json:"msg_type"`
	Content textContent `json:"content"`
}

type textContent struct {
	Text string `json:"text"`
}

// Sink posts completion notifications over HTTP.
type Sink struct {
	client *http.Client
}

// NewSink creates a Sink. dialTimeout bounds connection setup only; the
// overall request deadline comes from the context the caller provides
// (dispatch.Dispatcher always calls Post with a bounded context).
func NewSink(dialTimeout time.Duration) *Sink {
	return &Sink{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: dialTimeout}).DialContext,
			},
		},
	}
}

// Post implements dispatch.WebhookSink.
func (s *Sink) Post(ctx context.Context, url, text string) dispatch.WebhookResult {
	body, err := json.Marshal(payload{MsgType: "text", Content: textContent{Text: text}})
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("exception").Inc()
		return dispatch.WebhookResult{OK: false, Reason: dispatch.WebhookException, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("exception").Inc()
		return dispatch.WebhookResult{OK: false, Reason: dispatch.WebhookException, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.WebhookDeliveriesTotal.WithLabelValues("exception").Inc()
		return dispatch.WebhookResult{OK: false, Reason: dispatch.WebhookException, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.WebhookDeliveriesTotal.WithLabelValues("http_error").Inc()
		return dispatch.WebhookResult{
			OK:         false,
			Reason:     dispatch.WebhookHTTPError,
			HTTPStatus: resp.StatusCode,
			Err:        fmt.Errorf("webhook: unexpected status %d", resp.StatusCode),
		}
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("ok").Inc()
	return dispatch.WebhookResult{OK: true, HTTPStatus: resp.StatusCode}
}
