// Package kafka traces kafka-go producers and consumers.
package kafka

import (
	"context"
	"strings"

	"github.com/GriffinCanCode/AgentOS/sensor/internal/tracing"
	kafkago "github.com/segmentio/kafka-go"
)

// Span names
const (
	ProducerSpan = "kafka-producer"
	ConsumerSpan = "kafka-consumer"
)

// MessageWriter is implemented by *kafkago.Writer
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

// Writer traces WriteMessages calls made inside a trace
type Writer struct {
	next   MessageWriter
	tracer *tracing.Tracer
	topic  string
}

// NewWriter wraps w. The topic of a *kafkago.Writer is picked up
// automatically.
func NewWriter(w MessageWriter, tracer *tracing.Tracer) *Writer {
	out := &Writer{next: w, tracer: tracer}
	if kw, ok := w.(*kafkago.Writer); ok {
		out.topic = kw.Topic
	}
	return out
}

// WriteMessages opens a producer span, adds the trace headers to every
// message and writes them
func (w *Writer) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	if !w.tracer.Tracing(ctx) {
		return w.next.WriteMessages(ctx, msgs...)
	}

	ctx = w.tracer.LogEntry(ctx, ProducerSpan, map[string]any{
		"kafka": map[string]any{
			"service":  w.topicOf(msgs),
			"access":   "send",
			"messages": len(msgs),
		},
	})

	for i := range msgs {
		tracing.Propagator{}.Inject(ctx, HeaderCarrier{msg: &msgs[i]})
	}

	err := w.next.WriteMessages(ctx, msgs...)
	if err != nil {
		w.tracer.LogError(ctx, err)
	}
	w.tracer.LogExit(ctx, ProducerSpan, nil)
	return err
}

func (w *Writer) topicOf(msgs []kafkago.Message) string {
	if w.topic != "" {
		return w.topic
	}
	for _, m := range msgs {
		if m.Topic != "" {
			return m.Topic
		}
	}
	return ""
}

// Extract returns ctx carrying the remote parent found in msg headers
func Extract(ctx context.Context, msg *kafkago.Message) context.Context {
	return tracing.Propagator{}.Extract(ctx, HeaderCarrier{msg: msg})
}

// Consume runs fn inside a consumer entry span continuing the trace carried
// by msg. Errors from fn are recorded and returned unchanged.
func Consume(ctx context.Context, tracer *tracing.Tracer, msg kafkago.Message, fn func(context.Context) error) error {
	ctx = tracing.WithFlow(Extract(ctx, &msg))
	span, ctx := tracer.StartSpan(ctx, ConsumerSpan, tracing.WithData(map[string]any{
		"kafka": map[string]any{
			"service":   msg.Topic,
			"access":    "consume",
			"partition": msg.Partition,
			"offset":    msg.Offset,
		},
	}))
	defer span.Finish()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// HeaderCarrier adapts kafka message headers to propagation.TextMapCarrier.
// Keys match case-insensitively.
type HeaderCarrier struct {
	msg *kafkago.Message
}

// NewHeaderCarrier wraps msg
func NewHeaderCarrier(msg *kafkago.Message) HeaderCarrier {
	return HeaderCarrier{msg: msg}
}

// Get returns the first value for key
func (c HeaderCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if strings.EqualFold(h.Key, key) {
			return string(h.Value)
		}
	}
	return ""
}

// Set replaces any value for key
func (c HeaderCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if strings.EqualFold(h.Key, key) {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafkago.Header{Key: key, Value: []byte(value)})
}

// Keys lists the header keys
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c.msg.Headers))
	for _, h := range c.msg.Headers {
		keys = append(keys, h.Key)
	}
	return keys
}
