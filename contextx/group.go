package contextx

import "context"

// WithPolicyGroup returns a derived context that records the policy group
// matched for the current call.
func WithPolicyGroup(ctx context.Context, group string) context.Context {
	return context.WithValue(ctx, policyGroupKey, group)
}

// PolicyGroupFromContext returns the matched policy group, or "" when the
// call matched none.
func PolicyGroupFromContext(ctx context.Context) string {
	g, _ := ctx.Value(policyGroupKey).(string)
	return g
}
