// Package httpserver provides the HTTP server lifecycle used by the secagg
// aggregator service.
//
// BaseServer mounts the routes of every RouteRegistrar behind request ID,
// panic recovery and structured access logging, and adds:
//
//   - /livez: the process is up
//   - /readyz: not drained and every HealthChecker registrar passes
//   - /drain, /undrain: toggle readiness for load balancers
//   - /debug: pprof, when enabled
//
// services.API is both a registrar and a HealthChecker, so a server whose
// package database goes away reports not ready.
//
//	srv, err := httpserver.New(cfg, api)
//	if err != nil {
//	    return err
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	return srv.Run(ctx)
package httpserver
