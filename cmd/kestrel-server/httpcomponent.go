package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kestrelvox/kestrel/core"
	"github.com/kestrelvox/kestrel/internal/httputil"
)

// httpComponent adapts internal/httputil.ServerLifecycle to core.Lifecycle
// so the HTTP listener starts and stops alongside the Keep-Alive Service
// under one core.App, in registration order (§6.4).
type httpComponent struct {
	addr    string
	handler http.Handler

	lc     httputil.ServerLifecycle
	doneCh chan error
}

func newHTTPComponent(addr string, handler http.Handler) *httpComponent {
	return &httpComponent{addr: addr, handler: handler}
}

// Start launches the listener in a background goroutine and returns
// immediately; Serve's own context is independent of ctx so Stop can
// drive an explicit graceful shutdown instead of relying on cancellation
// racing the request that triggered it.
func (h *httpComponent) Start(_ context.Context) error {
	h.doneCh = make(chan error, 1)
	go func() {
		h.doneCh <- h.lc.Serve(context.Background(), h.addr, h.handler, 0, 0, 0, "httpapi")
	}()
	return nil
}

func (h *httpComponent) Stop(ctx context.Context) error {
	if err := h.lc.Shutdown(ctx, "httpapi"); err != nil {
		return err
	}
	select {
	case <-h.doneCh:
	case <-time.After(5 * time.Second):
		return fmt.Errorf("httpapi: listener did not exit after shutdown")
	}
	return nil
}

func (h *httpComponent) Health() core.HealthStatus {
	return core.HealthStatus{Status: core.HealthHealthy, Message: "listening on " + h.addr, Timestamp: time.Now()}
}
