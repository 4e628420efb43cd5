package tracer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"framewise/internal/platform/tracer"
	dErrors "framewise/pkg/domain-errors"
)

type recordingSpan struct {
	noop.Span
	name   string
	attrs  map[attribute.Key]attribute.Value
	status codes.Code
	errors int
	ended  bool
}

func (s *recordingSpan) SetAttributes(kv ...attribute.KeyValue) {
	for _, a := range kv {
		s.attrs[a.Key] = a.Value
	}
}

func (s *recordingSpan) SetStatus(code codes.Code, _ string) { s.status = code }

func (s *recordingSpan) RecordError(error, ...trace.EventOption) { s.errors++ }

func (s *recordingSpan) End(...trace.SpanEndOption) { s.ended = true }

type recordingTracer struct {
	noop.Tracer
	spans []*recordingSpan
}

func (t *recordingTracer) Start(ctx context.Context, name string, _ ...trace.SpanStartOption) (context.Context, trace.Span) {
	s := &recordingSpan{name: name, attrs: map[attribute.Key]attribute.Value{}}
	t.spans = append(t.spans, s)
	return ctx, s
}

func TestNoopTracer(t *testing.T) {
	ctx := context.Background()
	newCtx, span := tracer.NewNoop().Start(ctx, tracer.SpanAdmissionCheck,
		tracer.String(tracer.AttrOperationClass, "auth:login"),
	)

	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)
	span.SetAttributes(tracer.Bool(tracer.AttrAllowed, true))
	span.AddEvent(tracer.EventDuplicateSkipped)
	span.End(errors.New("boom"))
}

func TestOTelTracer_WithInjectedProvider(t *testing.T) {
	tr := tracer.NewOTel(tracer.ScopeBilling, tracer.WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	_, span := tr.Start(context.Background(), tracer.SpanGateApply,
		tracer.String(tracer.AttrEventID, "evt_1"),
		tracer.Int64(tracer.AttrRemaining, 3),
	)
	require.NotNil(t, span)
	span.AddEvent(tracer.EventTenantUnresolved, tracer.Bool("retry", false))
	span.End(nil)
}

func TestOTelSpanEnd(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode string
		status   codes.Code
		errors   int
	}{
		{name: "success", err: nil, status: codes.Unset},
		{
			name:   "plain error fails the span",
			err:    errors.New("connection reset"),
			status: codes.Error,
			errors: 1,
		},
		{
			name:     "server side domain error fails the span",
			err:      dErrors.New(dErrors.CodeUnavailable, "ledger down"),
			wantCode: string(dErrors.CodeUnavailable),
			status:   codes.Error,
			errors:   1,
		},
		{
			name:     "caller fault keeps status unset",
			err:      dErrors.New(dErrors.CodeInvalidSignature, ""),
			wantCode: string(dErrors.CodeInvalidSignature),
			status:   codes.Unset,
			errors:   1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recordingTracer{}
			tr := tracer.NewOTel(tracer.ScopeAdmission, tracer.WithOTelTracer(rec))

			_, span := tr.Start(context.Background(), tracer.SpanAdmissionCheck)
			span.End(tc.err)

			require.Len(t, rec.spans, 1)
			got := rec.spans[0]
			assert.Equal(t, tracer.SpanAdmissionCheck, got.name)
			assert.True(t, got.ended)
			assert.Equal(t, tc.status, got.status)
			assert.Equal(t, tc.errors, got.errors)
			if tc.wantCode == "" {
				assert.NotContains(t, got.attrs, attribute.Key(tracer.AttrErrorCode))
			} else {
				assert.Equal(t, tc.wantCode, got.attrs[attribute.Key(tracer.AttrErrorCode)].AsString())
			}
		})
	}
}

func TestOTelSpanDropsUnknownValueKinds(t *testing.T) {
	rec := &recordingTracer{}
	_, span := tracer.NewOTel(tracer.ScopeBilling, tracer.WithOTelTracer(rec)).Start(context.Background(), tracer.SpanGateDispatch)

	span.SetAttributes(
		tracer.String(tracer.AttrEventType, "invoice.paid"),
		tracer.Attribute{Key: "ignored", Value: 1.5},
	)

	got := rec.spans[0].attrs
	assert.Equal(t, "invoice.paid", got[attribute.Key(tracer.AttrEventType)].AsString())
	assert.NotContains(t, got, attribute.Key("ignored"))
}

func TestHashKey(t *testing.T) {
	assert.Empty(t, tracer.HashKey(""))
	assert.Len(t, tracer.HashKey("auth:login:203.0.113.1"), 16)
	assert.Equal(t, tracer.HashKey("a"), tracer.HashKey("a"))
	assert.NotEqual(t, tracer.HashKey("a"), tracer.HashKey("b"))
}

func TestDuration(t *testing.T) {
	attr := tracer.Duration("latency", 150*time.Millisecond)
	assert.Equal(t, int64(150), attr.Value)
}
