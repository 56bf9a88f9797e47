package findop

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const findSpanName = "eagerload.find"

func startFindSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("tidb-eagerload/findop")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func finishFindSpan(span trace.Span, err error, outcome string) {
	if span == nil {
		return
	}
	if outcome == "" {
		if err != nil {
			outcome = "error"
		} else {
			outcome = "success"
		}
	}
	span.SetAttributes(attribute.String("eagerload.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
