package tracing

import (
	"context"
	"strings"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/shared/id"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc/metadata"
)

// Propagation headers
const (
	TraceIDHeader = "X-Instana-T"
	SpanIDHeader  = "X-Instana-S"
	LevelHeader   = "X-Instana-L"
	BaggageHeader = "baggage"
)

// Propagator carries span contexts across process boundaries. It implements
// the OpenTelemetry TextMapPropagator interface so it plugs into any carrier
// that library supports.
type Propagator struct{}

var _ propagation.TextMapPropagator = Propagator{}

// Inject writes the current span context of ctx into carrier. String valued
// baggage items travel in the W3C baggage header; other values stay local.
func (Propagator) Inject(ctx context.Context, carrier propagation.TextMapCarrier) {
	sc, ok := SpanContextFromContext(ctx)
	if !ok || !sc.IsValid() {
		return
	}

	carrier.Set(TraceIDHeader, sc.TraceIDHeader())
	carrier.Set(SpanIDHeader, sc.SpanIDHeader())
	carrier.Set(LevelHeader, "1")

	members := make([]baggage.Member, 0, len(sc.Baggage))
	for k, v := range sc.Baggage {
		s, ok := v.(string)
		if !ok {
			continue
		}
		m, err := baggage.NewMemberRaw(k, s)
		if err != nil {
			continue
		}
		members = append(members, m)
	}
	if len(members) == 0 {
		return
	}
	if bag, err := baggage.New(members...); err == nil {
		carrier.Set(BaggageHeader, bag.String())
	}
}

// Extract reads an inbound span context from carrier. Malformed ids are
// ignored and ctx is returned unchanged.
func (Propagator) Extract(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	traceID := id.HeaderToID(strings.TrimSpace(carrier.Get(TraceIDHeader)))
	spanID := id.HeaderToID(strings.TrimSpace(carrier.Get(SpanIDHeader)))
	if traceID == "" || spanID == "" {
		return ctx
	}

	sc := SpanContext{TraceID: traceID, SpanID: spanID}

	if raw := carrier.Get(BaggageHeader); raw != "" {
		if bag, err := baggage.Parse(raw); err == nil && bag.Len() > 0 {
			sc.Baggage = make(map[string]any, bag.Len())
			for _, m := range bag.Members() {
				sc.Baggage[m.Key()] = m.Value()
			}
		}
	}

	return ContextWithRemoteParent(ctx, sc)
}

// Fields returns the header names the propagator uses
func (Propagator) Fields() []string {
	return []string{TraceIDHeader, SpanIDHeader, LevelHeader, BaggageHeader}
}

// MetadataCarrier adapts gRPC metadata to a TextMapCarrier
type MetadataCarrier metadata.MD

var _ propagation.TextMapCarrier = MetadataCarrier{}

// Get returns the first value for key
func (c MetadataCarrier) Get(key string) string {
	vals := metadata.MD(c).Get(key)
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}

// Set replaces the values for key
func (c MetadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

// Keys lists the stored keys
func (c MetadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
