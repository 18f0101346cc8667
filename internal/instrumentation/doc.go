// Package instrumentation wires OpenTelemetry metrics with a Prometheus
// exporter. The provider owns the meter provider lifecycle; the Metrics
// type is the recording surface handed to the rest of the server.
package instrumentation
