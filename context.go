package portalauth

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type trustedChannelContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine records
// it on push-approval requests and uses it for per-IP throttling.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the caller's user-agent descriptor to ctx. It is
// stored as the origin of push-approval requests so the approving device can
// show where the login came from.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithTrustedChannel marks the request as coming from a pre-registered
// trusted channel (for example the companion mobile app). Login on a trusted
// channel skips the second factor entirely; the bypass is an explicit policy
// flag and every use is audited.
func WithTrustedChannel(ctx context.Context) context.Context {
	return context.WithValue(ctx, trustedChannelContextKey{}, true)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return ua
}

func trustedChannelFromContext(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	trusted, _ := ctx.Value(trustedChannelContextKey{}).(bool)
	return trusted
}
