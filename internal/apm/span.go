package apm

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/swapengine/internal/apperror"
)

// Span is the subset of trace.Span the engine uses.
type Span interface {
	SetAttributes(values ...attribute.KeyValue)
	AddEvent(name string, attrs ...attribute.KeyValue)
	NoticeError(err error)
	// Finish ends the span, marking it failed when err is non-nil.
	Finish(err error)
	SpanContext() trace.SpanContext
}

type traceSpan struct {
	span trace.Span
}

// NewSpan wraps an OTEL span.
func NewSpan(span trace.Span) Span {
	return &traceSpan{span}
}

func (t *traceSpan) SetAttributes(values ...attribute.KeyValue) {
	t.span.SetAttributes(values...)
}

func (t *traceSpan) AddEvent(name string, attrs ...attribute.KeyValue) {
	t.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// NoticeError records err and tags the span with its error code and category.
func (t *traceSpan) NoticeError(err error) {
	t.span.RecordError(err)
	t.span.SetAttributes(
		attribute.String("error.code", string(apperror.GetCode(err))),
		attribute.String("error.category", string(apperror.GetCategory(err))),
	)
	t.span.SetStatus(codes.Error, err.Error())
}

func (t *traceSpan) Finish(err error) {
	if err != nil {
		t.NoticeError(err)
	} else {
		t.span.SetStatus(codes.Ok, "")
	}
	t.span.End()
}

func (t *traceSpan) SpanContext() trace.SpanContext {
	return t.span.SpanContext()
}
