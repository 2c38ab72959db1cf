package queue

import (
	"context"
)

// Sites is the tenant registry the delivery loop switches between.
type Sites interface {
	Has(nickname string) bool
	Reload(nickname string) error
}

type siteKey struct{}

// WithSite returns ctx bound to the tenant nickname.
func WithSite(ctx context.Context, nickname string) context.Context {
	return context.WithValue(ctx, siteKey{}, nickname)
}

// SiteFromContext returns the tenant a task runs for, or "".
func SiteFromContext(ctx context.Context) string {
	s, _ := ctx.Value(siteKey{}).(string)
	return s
}
