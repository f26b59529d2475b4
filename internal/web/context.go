package web

import (
	"context"
	"net/http"
	"strings"

	"github.com/JonMunkholm/stockfeed/internal/core"
)

// maxActorLen bounds the X-Actor header stored as UpdatedBy.
const maxActorLen = 64

// WithRequestMetadata adds the client IP and the acting user to ctx so
// overrides record who changed them.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, clientIP(r)) // RemoteAddr already processed by TrustedRealIP
	if actor := strings.TrimSpace(r.Header.Get("X-Actor")); actor != "" {
		if len(actor) > maxActorLen {
			actor = strings.ToValidUTF8(actor[:maxActorLen], "")
		}
		ctx = core.ContextWithActor(ctx, actor)
	}
	return ctx
}
