// Package health serves liveness and readiness probes for the worker process.
//
// Readiness runs named [CheckFunc] closures, such as redis.Healthcheck,
// db.Healthcheck and job.Healthcheck, concurrently under one timeout:
//
//	r.Get("/healthz", health.LivenessHandler())
//	r.Get("/readyz", health.ReadinessHandler(health.Checks{
//		"redis":     redis.Healthcheck(client),
//		"postgres":  db.Healthcheck(pool),
//		"scheduler": job.Healthcheck(scheduler),
//	}, health.WithTimeout(3*time.Second)))
//
// Responses are plain text ("OK" / "Service Unavailable") unless the client
// asks for JSON with ?format=json or an Accept header:
//
//	{"status":"unhealthy","checks":{"redis":{"status":"unhealthy","error":"...","latency":"1ms"}}}
package health
