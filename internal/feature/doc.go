// Package feature hosts feature modules.
//
// A module is any value with a Name. It gains capabilities by also
// implementing LSPBinding, TweakContributor or ListenerFactory; the
// Registry discovers them by type assertion at Register time. The Registry
// is an ordered table of records: registration order is enumeration and
// invocation order for every capability.
//
// Failures are contained at this boundary. A listener that errors or panics
// is logged and counted, and the build continues with the other modules'
// listeners. Only lifecycle misuse by the host itself (ErrLifecycle) and
// registration faults (*ConfigError) are returned to callers.
package feature
