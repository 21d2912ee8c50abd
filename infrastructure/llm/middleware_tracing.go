package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/intellego/evalpipe/internal/ports"
)

// tracedLLM wraps every provider call in an "llm.request" span.
type tracedLLM struct {
	next        CoreLLM
	tracer      trace.Tracer
	serviceName string
}

// TracingMiddleware creates middleware that traces requests with the global
// OpenTelemetry tracer provider.
func TracingMiddleware(serviceName string) Middleware {
	return TracingMiddlewareWithProvider(serviceName, otel.GetTracerProvider())
}

// TracingMiddlewareWithProvider creates tracing middleware bound to tp.
func TracingMiddlewareWithProvider(serviceName string, tp trace.TracerProvider) Middleware {
	tracer := tp.Tracer("github.com/intellego/evalpipe/infrastructure/llm")
	return func(next CoreLLM) CoreLLM {
		return &tracedLLM{
			next:        next,
			tracer:      tracer,
			serviceName: serviceName,
		}
	}
}

// DoRequest executes the request within a span carrying the model, prompt
// size and the four usage tiers.
func (t *tracedLLM) DoRequest(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	cacheable := 0
	for _, s := range req.SystemSegments {
		if s.Cacheable {
			cacheable++
		}
	}

	ctx, span := t.tracer.Start(ctx, "llm.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("service.name", t.serviceName),
			attribute.String("llm.model", t.next.GetModel()),
			attribute.Int("llm.prompt.length", len(req.SystemText())+len(req.UserMessage)),
			attribute.Int("llm.prompt.cacheable_segments", cacheable),
		),
	)
	defer span.End()

	resp, err := t.next.DoRequest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("llm.retryable", IsRetryable(err)))
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens.input", resp.Usage.Input),
		attribute.Int("llm.tokens.output", resp.Usage.Output),
		attribute.Int("llm.tokens.cache_write", resp.Usage.CacheWrite),
		attribute.Int("llm.tokens.cache_read", resp.Usage.CacheRead),
		attribute.Bool("llm.cache_hit", resp.Usage.CacheRead > 0),
		attribute.String("llm.request_id", resp.RequestID),
	)
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// GetModel returns the model name from the wrapped implementation.
func (t *tracedLLM) GetModel() string { return t.next.GetModel() }

// SetModel updates the model name in the wrapped implementation.
func (t *tracedLLM) SetModel(m string) { t.next.SetModel(m) }
