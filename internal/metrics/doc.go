// Package metrics exports node activity to Prometheus.
//
// A Recorder counts state machine transitions and firmware update outcomes.
// It implements both fsm.Observer and fota.Observer, so a single instance
// can be handed to every state machine and to the update handler.
//
// Server exposes the registry and a health route over HTTP:
//
//	rec := metrics.NewRecorder(reg)
//	srv := metrics.NewServer(":9101", "/metrics", reg, logger,
//		metrics.WithHealthCheck("settings", store.HealthCheck))
//	go srv.Serve(ctx)
package metrics
