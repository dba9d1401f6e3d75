package ident

import "context"

type correlationKey struct{}

// WithCorrelation returns a copy of ctx carrying id as its correlation ID.
func WithCorrelation(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationFrom returns the correlation ID carried by ctx, if any.
func CorrelationFrom(ctx context.Context) (ID, bool) {
	if ctx == nil {
		return Nil, false
	}
	id, ok := ctx.Value(correlationKey{}).(ID)
	return id, ok && !id.IsNil()
}
