// Package scope carries multi-tenant identity across job submission and
// execution. The tenant captured at submission is stored on the job and
// restored into the worker's context, so downstream code sees the same
// tenant that submitted the work.
package scope

import "context"

type tenantKey struct{}

// WithTenant attaches a tenant identifier to the context.
func WithTenant(ctx context.Context, tenant string) context.Context {
	if tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFrom extracts the tenant identifier from the context. Returns
// the empty string if no tenant is present.
func TenantFrom(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey{}).(string); ok {
		return v
	}
	return ""
}

// Capture extracts the tenant from the context at submission time.
func Capture(ctx context.Context) string {
	return TenantFrom(ctx)
}

// Restore attaches the job's stored tenant to an execution context.
// If the tenant is empty, the context is returned unchanged.
func Restore(ctx context.Context, tenant string) context.Context {
	return WithTenant(ctx, tenant)
}
