package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on telegrab spans. Generic keys follow
// OpenTelemetry semantic conventions; transfer-specific keys use the
// "transfer." prefix.
const (
	AttrUserID    = "user.id"
	AttrChatID    = "chat.id"
	AttrRequestID = "request.id"

	AttrScope     = "transfer.scope"
	AttrMessageID = "transfer.message_id"
	AttrMode      = "transfer.mode"       // public, private, story
	AttrVariant   = "transfer.variant"    // plain, comment, thread, single
	AttrDelivery  = "transfer.delivery"   // relay, transfer
	AttrMediaKind = "transfer.media_kind" // video, photo, document, audio
	AttrBytes     = "transfer.bytes"
	AttrOutcome   = "transfer.outcome" // done, failed, cancelled, denied

	AttrLoginStep = "login.step" // phone, code, password
)

// UserID returns the user id attribute.
func UserID(id int64) attribute.KeyValue {
	return attribute.Int64(AttrUserID, id)
}

// ChatID returns the chat id attribute.
func ChatID(id int64) attribute.KeyValue {
	return attribute.Int64(AttrChatID, id)
}

// RequestID returns the per-request id attribute.
func RequestID(id string) attribute.KeyValue {
	return attribute.String(AttrRequestID, id)
}

// TransferScope returns the resolved scope attribute.
func TransferScope(scope string) attribute.KeyValue {
	return attribute.String(AttrScope, scope)
}

// TransferMessageID returns the message id attribute.
func TransferMessageID(id int) attribute.KeyValue {
	return attribute.Int(AttrMessageID, id)
}

// TransferMode returns the access mode attribute.
func TransferMode(mode string) attribute.KeyValue {
	return attribute.String(AttrMode, mode)
}

// TransferDelivery returns the delivery mode attribute.
func TransferDelivery(mode string) attribute.KeyValue {
	return attribute.String(AttrDelivery, mode)
}

// TransferBytes returns the payload size attribute.
func TransferBytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

// TransferOutcome returns the terminal outcome attribute.
func TransferOutcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// LoginStep returns the handshake step attribute.
func LoginStep(step string) attribute.KeyValue {
	return attribute.String(AttrLoginStep, step)
}

// StartTransferSpan starts a span for one pipeline stage of a transfer
// request ("transfer.resolve", "transfer.download", ...).
func StartTransferSpan(ctx context.Context, stage string, userID int64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{UserID(userID)}, attrs...)
	return Tracer().Start(ctx, stage,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(all...),
	)
}

// StartLoginSpan starts a span for one login handshake step.
func StartLoginSpan(ctx context.Context, step string, userID int64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "login."+step,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(UserID(userID), LoginStep(step)),
	)
}

// StartStoreSpan starts a span for a persistence operation.
func StartStoreSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}
