package traceparent

import (
	"strings"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// HeaderName is the W3C Trace Context header carrying the parent span.
const HeaderName = "traceparent"

const (
	versionLen  = 2
	traceIDLen  = 32
	parentIDLen = 16
	flagsLen    = 2
)

// TraceContext is a parsed traceparent header. Fields keep the exact text
// that was parsed so Format can reproduce the original value.
type TraceContext struct {
	Version      string
	TraceID      string
	ParentSpanID string
	Flags        string
	Sampled      bool
}

// Parse validates a traceparent header value. Malformed input is an expected
// case and reports ok=false instead of an error.
func Parse(value string) (TraceContext, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return TraceContext{}, false
	}

	fields := strings.Split(value, "-")
	if len(fields) != 4 {
		return TraceContext{}, false
	}
	version, traceID, parentID, flags := fields[0], fields[1], fields[2], fields[3]

	if !isHexOfLen(version, versionLen) ||
		!isHexOfLen(traceID, traceIDLen) ||
		!isHexOfLen(parentID, parentIDLen) ||
		!isHexOfLen(flags, flagsLen) {
		return TraceContext{}, false
	}
	// All-zero ids are reserved as invalid.
	if allZero(traceID) || allZero(parentID) {
		return TraceContext{}, false
	}

	return TraceContext{
		Version:      version,
		TraceID:      traceID,
		ParentSpanID: parentID,
		Flags:        flags,
		Sampled:      hexNibble(flags[1])&0x01 == 1,
	}, true
}

// Format renders tc back into header form. For any value accepted by Parse,
// Format(Parse(x)) == x.
func Format(tc TraceContext) string {
	return tc.Version + "-" + tc.TraceID + "-" + tc.ParentSpanID + "-" + tc.Flags
}

// String implements fmt.Stringer.
func (tc TraceContext) String() string {
	return Format(tc)
}

// SpanContext converts tc into a remote OpenTelemetry span context so local
// spans can be parented on the caller's span.
func (tc TraceContext) SpanContext() oteltrace.SpanContext {
	traceID, err := oteltrace.TraceIDFromHex(strings.ToLower(tc.TraceID))
	if err != nil {
		return oteltrace.SpanContext{}
	}
	spanID, err := oteltrace.SpanIDFromHex(strings.ToLower(tc.ParentSpanID))
	if err != nil {
		return oteltrace.SpanContext{}
	}
	var flags oteltrace.TraceFlags
	if tc.Sampled {
		flags = oteltrace.FlagsSampled
	}
	return oteltrace.NewSpanContext(oteltrace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
}

func isHexOfLen(value string, n int) bool {
	if len(value) != n {
		return false
	}
	for i := 0; i < len(value); i++ {
		if hexNibble(value[i]) < 0 {
			return false
		}
	}
	return true
}

func hexNibble(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}

func allZero(value string) bool {
	for i := 0; i < len(value); i++ {
		if value[i] != '0' {
			return false
		}
	}
	return true
}
