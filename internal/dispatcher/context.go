package dispatcher

import (
	"context"
	"net/http"
)

// Header names the buying agent sets on every HTTP request. The streamable
// HTTP transport copies them into the request context before any tool handler
// runs, so handlers never touch the transport directly.
const (
	AuthHeader       = "x-adcp-auth"
	TenantHintHeader = "x-adcp-tenant"
)

type ctxKey int

const (
	tokenKey ctxKey = iota
	tenantHintKey
)

// HTTPContextFunc captures the auth token and optional tenant hint from the
// incoming request. Wired into the streamable HTTP server.
func HTTPContextFunc(ctx context.Context, r *http.Request) context.Context {
	return WithIdentityHeaders(ctx, r.Header.Get(AuthHeader), r.Header.Get(TenantHintHeader))
}

// WithIdentityHeaders stores the raw credential material on the context.
// Exposed for tests and non-HTTP transports.
func WithIdentityHeaders(ctx context.Context, token, tenantHint string) context.Context {
	ctx = context.WithValue(ctx, tokenKey, token)
	return context.WithValue(ctx, tenantHintKey, tenantHint)
}

func tokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey).(string)
	return t
}

func tenantHintFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tenantHintKey).(string)
	return t
}
