/*
Package monitoring collects Prometheus metrics for the kernel and its
module loader.

Each Metrics value owns a private registry so several kernels can run in
one process (tests do this) without colliding on metric names.

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.RecordLoad("rel", nil, time.Since(start))
	metrics.ObserveKernel(heap.Used(), heap.Peak(), len(k.Threads()))

All recording methods accept a nil receiver.
*/
package monitoring
