package tools

import "context"

type callKey struct{}

// WithCall attaches the call being dispatched to ctx so in-process handlers
// can scope their effects to the requester.
func WithCall(ctx context.Context, call Call) context.Context {
	return context.WithValue(ctx, callKey{}, call)
}

// CallFromContext returns the call attached by WithCall.
func CallFromContext(ctx context.Context) (Call, bool) {
	call, ok := ctx.Value(callKey{}).(Call)
	return call, ok
}
