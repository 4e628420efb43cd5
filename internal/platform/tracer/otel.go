package tracer

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	dErrors "framewise/pkg/domain-errors"
)

// callerFaults are domain codes caused by the request itself. Spans ending
// with one carry the code but keep an unset status, so a burst of bad
// signatures or rejected admissions does not read as a service failure.
var callerFaults = map[dErrors.Code]bool{
	dErrors.CodeBadRequest:       true,
	dErrors.CodeInvalidInput:     true,
	dErrors.CodeValidation:       true,
	dErrors.CodeNotFound:         true,
	dErrors.CodeUnauthorized:     true,
	dErrors.CodeForbidden:        true,
	dErrors.CodeRateLimited:      true,
	dErrors.CodeInvalidSignature: true,
	dErrors.CodeInvalidEnvelope:  true,
}

// OTelTracer starts OpenTelemetry spans under one Scope.
type OTelTracer struct {
	tracer trace.Tracer
}

type OTelOption func(*OTelTracer)

// WithOTelTracer injects a pre-configured tracer instead of the global one.
func WithOTelTracer(t trace.Tracer) OTelOption {
	return func(o *OTelTracer) {
		o.tracer = t
	}
}

func NewOTel(scope Scope, opts ...OTelOption) *OTelTracer {
	t := &OTelTracer{}
	for _, opt := range opts {
		opt(t)
	}
	if t.tracer == nil {
		t.tracer = otel.Tracer(string(scope))
	}
	return t
}

func (t *OTelTracer) Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(toOTelAttributes(attrs)...))
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End(err error) {
	defer s.span.End()
	if err == nil {
		return
	}
	s.span.RecordError(err)
	code, ok := dErrors.CodeOf(err)
	if !ok {
		s.span.SetStatus(codes.Error, err.Error())
		return
	}
	s.span.SetAttributes(attribute.String(AttrErrorCode, string(code)))
	if !callerFaults[code] {
		s.span.SetStatus(codes.Error, string(code))
	}
}

func (s *otelSpan) SetAttributes(attrs ...Attribute) {
	s.span.SetAttributes(toOTelAttributes(attrs)...)
}

func (s *otelSpan) AddEvent(name string, attrs ...Attribute) {
	s.span.AddEvent(name, trace.WithAttributes(toOTelAttributes(attrs)...))
}

// toOTelAttributes converts the value kinds the facade constructors produce.
// Anything else is dropped.
func toOTelAttributes(attrs []Attribute) []attribute.KeyValue {
	if len(attrs) == 0 {
		return nil
	}
	result := make([]attribute.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			result = append(result, attribute.String(a.Key, v))
		case bool:
			result = append(result, attribute.Bool(a.Key, v))
		case int64:
			result = append(result, attribute.Int64(a.Key, v))
		}
	}
	return result
}

var (
	_ Tracer = (*OTelTracer)(nil)
	_ Span   = (*otelSpan)(nil)
)
