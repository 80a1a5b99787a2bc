/*
Package tracing records timed spans for API requests and module operations.

Spans are buffered and written to the log by a collector goroutine. A
request's trace id travels in X-Trace-ID; the span that served it is
returned in X-Span-ID.

	tracer := tracing.New("dlkernel", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.Start(ctx, "module.exec")
	span.SetTag("path", path)
	defer span.End()
*/
package tracing
