package dispatch

import "context"

// PersistenceSink is the opaque key/value store the dispatcher uses to
// flush round snapshots (spec §4.5). Implementations must make Write
// atomic (compose-then-rename or equivalent).
type PersistenceSink interface {
	Read(ctx context.Context, roundID string) (*RoundSnapshot, error)
	Write(ctx context.Context, roundID string, snap RoundSnapshot) error
	Delete(ctx context.Context, roundID string) error
}

// WebhookFailureReason enumerates the structured reasons a webhook
// delivery can fail to even attempt, or fail in flight (spec §4.4).
type WebhookFailureReason string

// Webhook failure reasons.
const (
	WebhookNoURL              WebhookFailureReason = "NO_WEBHOOK"
	WebhookReportingDisabled  WebhookFailureReason = "REPORTING_DISABLED"
	WebhookInFlight           WebhookFailureReason = "IN_FLIGHT"
	WebhookHTTPError          WebhookFailureReason = "HTTP_ERROR"
	WebhookException          WebhookFailureReason = "EXCEPTION"
)

// WebhookResult is returned by a webhook post attempt.
type WebhookResult struct {
	OK         bool
	Reason     WebhookFailureReason
	HTTPStatus int
	Err        error
}

// WebhookSink posts a JSON text payload to a configured URL (spec §4.5,
// §2 item 2).
type WebhookSink interface {
	Post(ctx context.Context, url, text string) WebhookResult
}
