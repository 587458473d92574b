package reconlog

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// TraceInfo holds the OTel identifiers of the span active in a context.
type TraceInfo struct {
	// TraceID is the W3C trace id (32 lowercase hex chars). Empty when no
	// span is active.
	TraceID string

	// SpanID is the W3C span id (16 lowercase hex chars).
	SpanID string
}

// ExtractTraceInfo reads the span stored in ctx and returns its ids as hex
// strings.
//
// Where the span comes from:
//  1. The HTTP tracing middleware (or otelgrpc on the ops server) extracts
//     the W3C traceparent header and starts a server span.
//  2. Reconciler operations start child spans ("reconciler.CreateOrder",
//     "reconciler.ApplyStatusUpdate") from that context.
//  3. trace.SpanFromContext(ctx) returns the innermost one.
//
// A context without a valid span (CLI runs, unit tests) yields empty ids and
// the entry is stored without trace correlation.
func ExtractTraceInfo(ctx context.Context) TraceInfo {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return TraceInfo{}
	}
	return TraceInfo{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
	}
}

// NewEntry builds an Entry stamped with the trace of ctx and the current
// UTC time. errs is stored as a JSON array, "[]" when empty.
//
// Usage in the orchestrator:
//
//	entry := reconlog.NewEntry(ctx, attemptID, "TXN-1", reconlog.StatusStepDone, "claim_draft", "", nil)
//	_ = repo.Save(ctx, entry)
func NewEntry(ctx context.Context, attemptID, reference string, status Status, step, payload string, errs []string) *Entry {
	ti := ExtractTraceInfo(ctx)

	errJSON := "[]"
	if len(errs) > 0 {
		if b, err := json.Marshal(errs); err == nil {
			errJSON = string(b)
		}
	}

	return &Entry{
		AttemptID:     attemptID,
		Reference:     reference,
		Status:        status,
		Step:          step,
		Payload:       payload,
		ErrorMessages: errJSON,
		TraceID:       ti.TraceID,
		SpanID:        ti.SpanID,
		UpdatedAt:     time.Now().UTC(),
	}
}
