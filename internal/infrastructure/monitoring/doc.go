// Package monitoring exposes Prometheus metrics for the client:
// session lifecycle, connection churn, resize traffic, and raw frame
// counts by event type. The collector owns a private registry so the
// debug server can serve it and tests can build as many collectors as
// they need.
package monitoring
