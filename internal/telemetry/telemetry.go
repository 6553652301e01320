// Package telemetry wraps goa.design/clue/log for structured logging and
// OpenTelemetry for tracing/metrics so the rest of the module never
// imports those packages directly. Every log call accepts the standard
// context fields from the error handling design: taskId, contextId,
// capability, and authUserID.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// Fields carries the standard correlation fields attached to every log
// line emitted below the Executor.
type Fields struct {
	TaskID      string
	ContextID   string
	Capability  string
	AuthUserID  string
}

// kvs flattens non-empty fields into clue key-value pairs.
func (f Fields) kvs() []any {
	var out []any
	if f.TaskID != "" {
		out = append(out, "taskId", f.TaskID)
	}
	if f.ContextID != "" {
		out = append(out, "contextId", f.ContextID)
	}
	if f.Capability != "" {
		out = append(out, "capability", f.Capability)
	}
	if f.AuthUserID != "" {
		out = append(out, "auth.user_id", f.AuthUserID)
	}
	return out
}

// Debug emits a debug-level log line through clue, attaching Fields plus
// any extra key-value pairs.
func Debug(ctx context.Context, msg string, f Fields, keyvals ...any) {
	log.Debug(ctx, fielders(msg, f, keyvals)...)
}

// Info emits an info-level log line.
func Info(ctx context.Context, msg string, f Fields, keyvals ...any) {
	log.Info(ctx, fielders(msg, f, keyvals)...)
}

// Warn emits a warning-level log line.
func Warn(ctx context.Context, msg string, f Fields, keyvals ...any) {
	fs := fielders(msg, f, keyvals)
	fs = append(fs, log.KV{K: "severity", V: "warning"})
	log.Warn(ctx, fs...)
}

// Error emits an error-level log line. Stack traces are never included;
// only the error's message string is logged, per the error handling
// design's "no stack traces leak to the RPC response" requirement (which
// this package extends to logs as well, for consistency).
func Error(ctx context.Context, msg string, err error, f Fields, keyvals ...any) {
	fs := fielders(msg, f, keyvals)
	if err != nil {
		fs = append(fs, log.KV{K: "error", V: err.Error()})
	}
	log.Error(ctx, nil, fs...)
}

func fielders(msg string, f Fields, keyvals []any) []log.Fielder {
	fielders := []log.Fielder{log.KV{K: "msg", V: msg}}
	for _, kv := range f.kvs() {
		fielders = append(fielders, kv)
	}
	fielders = append(fielders, kvSliceToClue(keyvals)...)
	return fielders
}

func kvSliceToClue(keyvals []any) []log.Fielder {
	var fielders []log.Fielder
	for i := 0; i < len(keyvals); i += 2 {
		k := keyvals[i]
		var v any
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		keyStr, ok := k.(string)
		if !ok {
			continue
		}
		fielders = append(fielders, log.KV{K: keyStr, V: v})
	}
	return fielders
}

// Tracer wraps an OTEL tracer scoped to the agentup runtime.
type Tracer struct {
	tracer trace.Tracer
	meter  metric.Meter
}

// NewTracer constructs a Tracer bound to the global TracerProvider and
// MeterProvider. Configure those providers (e.g. via an OTLP exporter)
// before constructing the application context.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer("github.com/agentup/agentup"),
		meter:  otel.Meter("github.com/agentup/agentup"),
	}
}

// StartSpan starts a span named name and returns the derived context plus
// a finish function.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

// RecordDuration records a duration histogram under name with the given
// attribute dimensions.
func (t *Tracer) RecordDuration(ctx context.Context, name string, d time.Duration, attrs ...attribute.KeyValue) {
	h, err := t.meter.Float64Histogram(name)
	if err != nil {
		return
	}
	h.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// IncCounter increments a named counter by value.
func (t *Tracer) IncCounter(ctx context.Context, name string, value float64, attrs ...attribute.KeyValue) {
	c, err := t.meter.Float64Counter(name)
	if err != nil {
		return
	}
	c.Add(ctx, value, metric.WithAttributes(attrs...))
}
