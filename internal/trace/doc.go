// Package trace records spans for quill's long-running work: LSP requests,
// analysis builds and calls into feature modules.
//
// Enable tracing from the command line:
//
//	quill lsp --trace=/tmp/quill.ndjson --trace-level=detail
//
// # Levels
//
//   - LevelOff: no tracing
//   - LevelPhase: server requests only
//   - LevelDetail: server requests and builds
//   - LevelDebug: everything, including each module callback
//
// # Context Propagation
//
//	ctx = trace.WithTracer(ctx, tracer)
//	sp := trace.Begin(trace.FromContext(ctx), trace.ScopeBuild, "build:main", trace.CurrentSpan(ctx).SpanID)
//	defer sp.End("")
package trace
