// Package app wires the worker process: it builds the scheduler, rate
// limiter, dead letter store and broker from Config, serves the ops
// endpoints and shuts everything down through one coordinator.
//
// Ops endpoints:
//
//	GET    /healthz             liveness
//	GET    /readyz              redis, postgres and scheduler checks
//	GET    /metrics             Prometheus exposition
//	POST   /jobs/{type}         schedule; body is the JSON payload
//	DELETE /jobs/{queue}/{id}   cancel a running execution
//	GET    /dlq/                dead letter stats
//	GET    /dlq/messages        oldest dead letters (?limit=N)
//	DELETE /dlq/                purge dead letters
package app
