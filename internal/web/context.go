package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/sheetport/internal/core"
)

// withRequestMetadata adds the client IP for import log lines. RemoteAddr
// has already been through TrustedRealIP.
func withRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithIPAddress(ctx, r.RemoteAddr)
}
