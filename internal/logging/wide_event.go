package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const (
	contextKeyWideEvent contextKey = "wide_event"
	contextKeyTraceID   contextKey = "trace_id"
)

// WideEvent represents a single structured log entry that captures the full lifecycle of a request.
// It is incrementally populated as the request flows through the handlers and the billing flows.
type WideEvent struct {
	TraceID   string    `json:"trace_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`

	HTTPMethod     string `json:"http_method,omitempty"`
	HTTPPath       string `json:"http_path,omitempty"`
	HTTPStatusCode int    `json:"http_status_code,omitempty"`
	HTTPDurationMs int64  `json:"http_duration_ms,omitempty"`

	BusinessID     string `json:"business_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`

	FromPlan        string `json:"from_plan,omitempty"`
	ToPlan          string `json:"to_plan,omitempty"`
	ChangeDirection string `json:"change_direction,omitempty"`

	RefundOutcome string `json:"refund_outcome,omitempty"`
	RefundID      string `json:"refund_id,omitempty"`
	RefundAmount  string `json:"refund_amount,omitempty"`

	WebhookEventID   string `json:"webhook_event_id,omitempty"`
	WebhookEventType string `json:"webhook_event_type,omitempty"`

	Error          string `json:"error,omitempty"`
	ErrorStage     string `json:"error_stage,omitempty"`
	PanicRecovered bool   `json:"panic_recovered,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewWideEvent creates a new WideEvent with a trace ID and timestamp
func NewWideEvent(eventType string) *WideEvent {
	return &WideEvent{
		TraceID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// WithContext attaches a WideEvent to a context
func WithContext(ctx context.Context, event *WideEvent) context.Context {
	ctx = context.WithValue(ctx, contextKeyWideEvent, event)
	ctx = context.WithValue(ctx, contextKeyTraceID, event.TraceID)
	return ctx
}

// FromContext retrieves the WideEvent from a context
func FromContext(ctx context.Context) *WideEvent {
	if event, ok := ctx.Value(contextKeyWideEvent).(*WideEvent); ok {
		return event
	}
	return nil
}

func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(contextKeyTraceID).(string); ok {
		return traceID
	}
	return ""
}

func EnrichHTTP(ctx context.Context, method, path string) {
	if event := FromContext(ctx); event != nil {
		event.HTTPMethod = method
		event.HTTPPath = path
	}
}

func EnrichHTTPStatus(ctx context.Context, statusCode int) {
	if event := FromContext(ctx); event != nil {
		event.HTTPStatusCode = statusCode
	}
}

func EnrichHTTPDuration(ctx context.Context, duration time.Duration) {
	if event := FromContext(ctx); event != nil {
		event.HTTPDurationMs = duration.Milliseconds()
	}
}

func EnrichBusiness(ctx context.Context, businessID string) {
	if event := FromContext(ctx); event != nil {
		event.BusinessID = businessID
	}
}

func EnrichSubscription(ctx context.Context, subscriptionID string) {
	if event := FromContext(ctx); event != nil {
		event.SubscriptionID = subscriptionID
	}
}

func EnrichPlanChange(ctx context.Context, fromPlan, toPlan, direction string) {
	if event := FromContext(ctx); event != nil {
		event.FromPlan = fromPlan
		event.ToPlan = toPlan
		event.ChangeDirection = direction
	}
}

func EnrichRefund(ctx context.Context, outcome, refundID, amount string) {
	if event := FromContext(ctx); event != nil {
		event.RefundOutcome = outcome
		event.RefundID = refundID
		event.RefundAmount = amount
	}
}

func EnrichWebhook(ctx context.Context, eventID, eventType string) {
	if event := FromContext(ctx); event != nil {
		event.WebhookEventID = eventID
		event.WebhookEventType = eventType
	}
}

func EnrichError(ctx context.Context, err error, stage string) {
	if event := FromContext(ctx); event != nil {
		if err != nil {
			event.Error = err.Error()
			event.ErrorStage = stage
		}
	}
}

func EnrichPanic(ctx context.Context) {
	if event := FromContext(ctx); event != nil {
		event.PanicRecovered = true
	}
}

func EnrichMetadata(ctx context.Context, key string, value interface{}) {
	if event := FromContext(ctx); event != nil {
		event.Metadata[key] = value
	}
}

// Emit outputs the WideEvent as a structured log
func Emit(ctx context.Context) {
	event := FromContext(ctx)
	if event == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("trace_id", event.TraceID),
		slog.String("event_type", event.EventType),
		slog.Time("timestamp", event.Timestamp),
	}

	strs := []struct {
		key, value string
	}{
		{"http_method", event.HTTPMethod},
		{"http_path", event.HTTPPath},
		{"business_id", event.BusinessID},
		{"subscription_id", event.SubscriptionID},
		{"from_plan", event.FromPlan},
		{"to_plan", event.ToPlan},
		{"change_direction", event.ChangeDirection},
		{"refund_outcome", event.RefundOutcome},
		{"refund_id", event.RefundID},
		{"refund_amount", event.RefundAmount},
		{"webhook_event_id", event.WebhookEventID},
		{"webhook_event_type", event.WebhookEventType},
		{"error", event.Error},
		{"error_stage", event.ErrorStage},
	}
	for _, s := range strs {
		if s.value != "" {
			attrs = append(attrs, slog.String(s.key, s.value))
		}
	}

	if event.HTTPStatusCode != 0 {
		attrs = append(attrs, slog.Int("http_status_code", event.HTTPStatusCode))
	}
	if event.HTTPDurationMs != 0 {
		attrs = append(attrs, slog.Int64("http_duration_ms", event.HTTPDurationMs))
	}
	if event.PanicRecovered {
		attrs = append(attrs, slog.Bool("panic_recovered", event.PanicRecovered))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}

	level := slog.LevelInfo
	if event.Error != "" || event.PanicRecovered {
		level = slog.LevelError
	}

	slog.LogAttrs(ctx, level, "wide_event", attrs...)
}
