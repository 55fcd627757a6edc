package httpapi

import (
	"context"
	"net/http"
)

// serverBaseCtx is a process-level context canceled when the server starts
// shutting down. Defaults to Background if not set.
var serverBaseCtx = context.Background()

// SetBaseContext sets the process-level base context used by handlers.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		serverBaseCtx = context.Background()
		return
	}
	serverBaseCtx = ctx
}

// joinContexts returns a context that is canceled when either a or b is done.
// The returned cancel func must be called to release the goroutine when handler ends.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-a.Done():
			cancel()
		case <-b.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// loadContext is used for downloads and warm-ups: it ends with the request,
// on shutdown, or after the configured load timeout.
func loadContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if loadTimeout <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, loadTimeout)
	return tctx, func() { tcancel(); cancel() }
}

// draining reports whether shutdown has begun.
func draining() bool { return serverBaseCtx.Err() != nil }
