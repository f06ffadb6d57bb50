package db

import "context"

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	HandleKey   contextKey = "db_handle"
)

// WithHandle stores the tenant's handle in the context.
func WithHandle(ctx context.Context, h Handle) context.Context {
	return context.WithValue(ctx, HandleKey, h)
}

// HandleFromContext returns the tenant handle placed by the tenant middleware,
// or nil when the request was not routed to a namespace.
func HandleFromContext(ctx context.Context) Handle {
	h, _ := ctx.Value(HandleKey).(Handle)
	return h
}

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}
