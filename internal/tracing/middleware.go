package tracing

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Span names used by the middleware
const (
	HTTPServerSpan = "http-server"
	RPCServerSpan  = "rpc-server"
	RPCClientSpan  = "rpc-client"
)

// MiddlewareOption configures HTTPMiddleware
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	headers func() []string
}

// CaptureHeaders records the named request headers on every entry span. The
// list is read per request so it follows agent configuration changes.
func CaptureHeaders(names func() []string) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.headers = names
	}
}

// HTTPMiddleware creates Gin middleware that opens an entry span per request
func HTTPMiddleware(tracer *Tracer, opts ...MiddlewareOption) gin.HandlerFunc {
	propagator := Propagator{}

	var cfg middlewareConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(c *gin.Context) {
		// Continue an inbound trace when headers carry one
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx = WithFlow(ctx)

		span, ctx := tracer.StartSpan(ctx, HTTPServerSpan, WithData(map[string]any{
			"http": map[string]any{
				"method": c.Request.Method,
				"url":    c.Request.URL.String(),
				"host":   c.Request.Host,
			},
		}))

		if captured := captureHeaders(c.Request.Header, cfg.headers); len(captured) > 0 {
			span.SetData(map[string]any{"http": map[string]any{"header": captured}})
		}

		c.Request = c.Request.WithContext(ctx)

		// Expose the trace to the caller
		sc := span.Context()
		c.Header(TraceIDHeader, sc.TraceIDHeader())
		c.Header(SpanIDHeader, sc.SpanIDHeader())

		c.Next()

		code := c.Writer.Status()
		span.SetData(map[string]any{
			"http": map[string]any{
				"status":   code,
				"path_tpl": c.FullPath(),
			},
		})

		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
		} else if code >= http.StatusInternalServerError {
			span.RecordError(errors.New(http.StatusText(code)))
		}

		span.Finish()
	}
}

func captureHeaders(h http.Header, names func() []string) map[string]any {
	if names == nil {
		return nil
	}

	captured := make(map[string]any)
	for _, name := range names() {
		if v := h.Get(name); v != "" {
			captured[name] = v
		}
	}
	return captured
}

// GRPCUnaryInterceptor creates a gRPC unary interceptor that opens an entry span per call
func GRPCUnaryInterceptor(tracer *Tracer) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		span, ctx := startRPCServerSpan(ctx, tracer, info.FullMethod, false)

		resp, err := handler(ctx, req)

		finishRPCSpan(span, err)
		return resp, err
	}
}

// GRPCStreamInterceptor creates a gRPC stream interceptor that opens an entry span per stream
func GRPCStreamInterceptor(tracer *Tracer) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		span, ctx := startRPCServerSpan(ss.Context(), tracer, info.FullMethod, true)

		err := handler(srv, &tracedServerStream{ServerStream: ss, ctx: ctx})

		finishRPCSpan(span, err)
		return err
	}
}

func startRPCServerSpan(ctx context.Context, tracer *Tracer, method string, streaming bool) (*Span, context.Context) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		ctx = Propagator{}.Extract(ctx, MetadataCarrier(md))
	}
	ctx = WithFlow(ctx)

	return tracer.StartSpan(ctx, RPCServerSpan, WithData(map[string]any{
		"rpc": map[string]any{
			"flavor":    "grpc",
			"call":      method,
			"streaming": streaming,
		},
	}))
}

func finishRPCSpan(span *Span, err error) {
	if err != nil {
		span.SetData(map[string]any{
			"rpc": map[string]any{"code": status.Code(err).String()},
		})
		span.RecordError(err)
	}
	span.Finish()
}

// tracedServerStream wraps grpc.ServerStream with tracing context
type tracedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedServerStream) Context() context.Context {
	return s.ctx
}

// GRPCClientInterceptor creates a gRPC client interceptor that records an exit
// span and propagates the trace in outgoing metadata. Calls made outside a
// trace pass through untouched.
func GRPCClientInterceptor(tracer *Tracer) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if !tracer.Tracing(ctx) {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		var target string
		if cc != nil {
			target = cc.Target()
		}

		span, ctx := tracer.StartSpan(ctx, RPCClientSpan, WithData(map[string]any{
			"rpc": map[string]any{
				"flavor": "grpc",
				"call":   method,
				"host":   target,
			},
		}))

		md, ok := metadata.FromOutgoingContext(ctx)
		if ok {
			md = md.Copy()
		} else {
			md = metadata.MD{}
		}
		Propagator{}.Inject(ctx, MetadataCarrier(md))
		ctx = metadata.NewOutgoingContext(ctx, md)

		err := invoker(ctx, method, req, reply, cc, opts...)

		finishRPCSpan(span, err)
		return err
	}
}
