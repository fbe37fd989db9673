// Package metrics registers the service's Prometheus collectors and exposes
// package level helpers so callers record observations without holding
// collector references.
package metrics
