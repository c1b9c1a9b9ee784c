// Package server provides the exporter's HTTP surface.
//
// Available endpoints:
//   - /           : status page with per-account state
//   - /metrics    : Prometheus exposition of the registry passed to NewServer
//   - /health     : Liveness probe (always returns 200)
//   - /ready      : Readiness probe (200 once one account has been published)
//
// Timeouts: 15s read, 15s write, 60s idle.
//
// Example usage:
//
//	srv := server.NewServer(cfg, costCollector, registry, log)
//
//	serverErrors := make(chan error, 1)
//	go func() {
//		serverErrors <- srv.Start()
//	}()
//
//	<-ctx.Done()
//	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	_ = srv.Shutdown(shutdownCtx)
package server
