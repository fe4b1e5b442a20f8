package traceparent

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

type contextKey struct{}

var traceContextKey contextKey

// WithContext stores an accepted inbound trace context on ctx.
func WithContext(ctx context.Context, tc TraceContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := Parse(Format(tc)); !ok {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey, tc)
}

// FromContext returns the inbound trace context stored by WithContext.
func FromContext(ctx context.Context) (TraceContext, bool) {
	if ctx == nil {
		return TraceContext{}, false
	}
	tc, ok := ctx.Value(traceContextKey).(TraceContext)
	return tc, ok
}

// FromHeaders parses the traceparent header, if any.
func FromHeaders(headers http.Header) (TraceContext, bool) {
	if headers == nil {
		return TraceContext{}, false
	}
	return Parse(headers.Get(HeaderName))
}

// NewTraceID returns 16 random bytes as 32 lowercase hex characters.
func NewTraceID() string {
	return randomHex(16)
}

// NewSpanID returns 8 random bytes as 16 lowercase hex characters.
func NewSpanID() string {
	return randomHex(8)
}

// New starts a fresh sampled trace context.
func New() TraceContext {
	return TraceContext{
		Version:      "00",
		TraceID:      NewTraceID(),
		ParentSpanID: NewSpanID(),
		Flags:        "01",
		Sampled:      true,
	}
}

func randomHex(n int) string {
	buf := make([]byte, n)
	for {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand does not fail on supported platforms; keep ids
			// non-zero if it ever does.
			seed := fmt.Sprintf("%0*x", n*2, time.Now().UnixNano())
			return seed[len(seed)-n*2:]
		}
		for _, b := range buf {
			if b != 0 {
				return hex.EncodeToString(buf)
			}
		}
	}
}
