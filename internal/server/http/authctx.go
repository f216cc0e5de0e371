package httpserver

import (
	"context"

	"github.com/and161185/alurea-fulfillment/internal/service"
)

type claimsKey struct{}

// WithClaims stores the authenticated session claims in ctx.
func WithClaims(ctx context.Context, c *service.Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

// ClaimsFromCtx returns the claims stored by WithClaims.
func ClaimsFromCtx(ctx context.Context) (*service.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*service.Claims)
	return c, ok && c != nil
}
