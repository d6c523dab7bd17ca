package middleware

import "context"

type contextKey int

const ctxOperatorID contextKey = iota

// WithOperatorID records the operator authenticated by OperatorAuth.
func WithOperatorID(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, ctxOperatorID, operatorID)
}

func OperatorIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxOperatorID).(string)
	return v
}
