// Package api exposes the orchestrator over HTTP: session and run CRUD
// for the arena UI, the resolve endpoint the reverse proxy consults, and
// health, stats, and Prometheus metrics. JSON in, JSON out; validation
// failures map to 400, unknown identifiers to 404.
package api
