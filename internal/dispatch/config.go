package dispatch

import (
	"strings"
	"time"
)

// ConfigView is the dispatcher's mutable configuration surface (spec §3
// Dispatcher state, §6 Configuration surface).
type ConfigView struct {
	DefaultBatchSize            int    `json:"defaultBatchSize"`
	MaxBatchSize                int    `json:"maxBatchSize"`
	WebhookURL                  string `json:"webhookUrl,omitempty"`
	ReportIntervalMinutes       int    `json:"reportIntervalMinutes"`
	TaskFailureThreshold        int    `json:"taskFailureThreshold"` // legacy, unused by the sweep
	Reporting                   ReportingState `json:"reporting"`
}

// ReportingState tracks the webhook reporting schedule (spec §3).
type ReportingState struct {
	LastReportAt    *time.Time `json:"lastReportAt,omitempty"`
	NextReportAt    *time.Time `json:"nextReportAt,omitempty"`
	ReportingEnabled bool      `json:"reportingEnabled"`
	InFlight        bool       `json:"inFlight"`
}

// DefaultConfig returns the configuration defaults named in spec §6.
func DefaultConfig() ConfigView {
	return ConfigView{
		DefaultBatchSize:      8,
		MaxBatchSize:          1000,
		ReportIntervalMinutes: 240,
		Reporting: ReportingState{
			ReportingEnabled: true,
		},
	}
}

// ConfigPatch is a partial update accepted by updateConfig.
type ConfigPatch struct {
	DefaultBatchSize      *int    `json:"defaultBatchSize,omitempty"`
	MaxBatchSize          *int    `json:"maxBatchSize,omitempty"`
	WebhookURL            *string `json:"webhookUrl,omitempty"`
	ReportIntervalMinutes *int    `json:"reportIntervalMinutes,omitempty"`

	// ReportingEnabled toggles automatic/manual reporting independently of
	// whether a webhook URL is configured (spec §4.4: NO_WEBHOOK and
	// REPORTING_DISABLED are distinct failure reasons). Omitted means
	// "leave as-is", except when WebhookURL or ReportIntervalMinutes is
	// also part of this patch, in which case it is reset to whether the
	// configured URL is non-empty.
	ReportingEnabled *bool `json:"reportingEnabled,omitempty"`
}

// applyPatch validates and applies a patch, returning an error without
// mutating the receiver when validation fails (spec §4.3 Configuration
// view: "Updates are validated").
func (c *ConfigView) applyPatch(p ConfigPatch) *Error {
	next := *c

	if p.DefaultBatchSize != nil {
		if *p.DefaultBatchSize < 1 {
			return ErrInvalidInput("默认批次大小必须大于等于1")
		}
		next.DefaultBatchSize = *p.DefaultBatchSize
	}
	if p.MaxBatchSize != nil {
		if *p.MaxBatchSize < 1 {
			return ErrInvalidInput("最大批次大小必须大于等于1")
		}
		next.MaxBatchSize = *p.MaxBatchSize
	}
	if next.DefaultBatchSize > next.MaxBatchSize {
		return ErrInvalidInput("默认批次大小不能超过最大批次大小")
	}

	reconfigureReporting := false
	if p.WebhookURL != nil {
		url := strings.TrimSpace(*p.WebhookURL)
		if url != "" && !strings.HasPrefix(url, "https://") {
			return ErrInvalidInput("webhook 地址必须以 https:// 开头")
		}
		next.WebhookURL = url
		reconfigureReporting = true
	}
	if p.ReportIntervalMinutes != nil {
		if *p.ReportIntervalMinutes < 0 {
			return ErrInvalidInput("上报周期不能为负数")
		}
		next.ReportIntervalMinutes = *p.ReportIntervalMinutes
		reconfigureReporting = true
	}

	if reconfigureReporting {
		next.Reporting.ReportingEnabled = next.WebhookURL != ""
		next.Reporting.NextReportAt = nil
	}
	if p.ReportingEnabled != nil {
		next.Reporting.ReportingEnabled = *p.ReportingEnabled
	}

	*c = next
	return nil
}
