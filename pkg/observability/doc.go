/*
Package observability provides metrics for monitoring a graft store and engine.

It defines a small Recorder interface the engine reports into, a Prometheus
implementation for serving under /metrics, and a no-op recorder so the engine
stays usable without a metrics backend.
*/
package observability
