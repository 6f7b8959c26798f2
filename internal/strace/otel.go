// Package strace wraps the OpenTelemetry tracing API
// so that instrumented packages only reference strace.
package strace

import (
	"net"

	otelattr "go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	otpnoop "go.opentelemetry.io/otel/trace/noop"
)

type TracerProvider = oteltrace.TracerProvider

type Tracer = oteltrace.Tracer

type Span = oteltrace.Span

type KeyValueAttr = otelattr.KeyValue

// TracerName is the instrumentation scope of every sandpolis tracer.
const TracerName = "github.com/sandpolis/sandpolis"

// NopTracerProvider returns the otel no-op tracer provider.
// This is intended to use as a fallback when a nil tracer provider is given.
func NopTracerProvider() TracerProvider {
	return otpnoop.NewTracerProvider()
}

// TracerOrNop returns the sandpolis tracer from tp,
// or a no-op tracer if tp is nil.
func TracerOrNop(tp TracerProvider) Tracer {
	if tp == nil {
		tp = NopTracerProvider()
	}
	return tp.Tracer(TracerName)
}

// WithAttributes is an alias to [oteltrace.WithAttributes]
// to allow consumers to only reference the strace package.
func WithAttributes(attrs ...KeyValueAttr) oteltrace.SpanStartEventOption {
	return oteltrace.WithAttributes(attrs...)
}

// StringAttr returns a plain string attribute.
func StringAttr(key, val string) KeyValueAttr {
	return otelattr.String(key, val)
}

// StringerAttr returns an attribute holding val's string form.
func StringerAttr(key string, val interface{ String() string }) KeyValueAttr {
	return otelattr.Stringer(key, val)
}

// SpanError sets the given span to error status,
// with detail from err.Error().
func SpanError(span Span, err error) {
	span.SetStatus(otelcodes.Error, err.Error())
}

// ErrorAttr returns an attribute with the key "err".
func ErrorAttr(err error) KeyValueAttr {
	return otelattr.String("err", err.Error())
}

type RemoteAddr interface {
	RemoteAddr() net.Addr
}

func RemoteAddrAttr(ra RemoteAddr) KeyValueAttr {
	return otelattr.String("remote", ra.RemoteAddr().String())
}
