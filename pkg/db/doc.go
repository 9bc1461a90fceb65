// Package db connects to PostgreSQL for the River broker.
//
// [Connect] opens a [github.com/jackc/pgx/v5/pgxpool] pool and retries until the
// database answers a ping. [Migrate] installs or upgrades River's job tables
// with rivermigrate. [Healthcheck] and [Shutdown] plug the pool into the
// readiness endpoint and the scheduler's stop hooks.
//
//	pool, err := db.Connect(ctx, cfg.Database, db.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	if err := db.Migrate(ctx, pool, log); err != nil {
//		return err
//	}
//	broker, err := job.NewRiverBroker(pool, job.WithRiverLogger(log))
//
// Settings come from the environment:
//
//	DATABASE_URL                - PostgreSQL connection URL
//	DATABASE_MAX_OPEN_CONNS     - Maximum open connections (default: 20)
//	DATABASE_MIN_CONNS          - Minimum idle connections (default: 2)
//	DATABASE_HEALTHCHECK_PERIOD - Health check interval (default: 1m)
//	DATABASE_MAX_CONN_IDLE_TIME - Maximum connection idle time (default: 10m)
//	DATABASE_MAX_CONN_LIFETIME  - Maximum connection lifetime (default: 30m)
//	DATABASE_RETRY_ATTEMPTS     - Connection attempts (default: 3)
//	DATABASE_RETRY_INTERVAL     - Base retry interval (default: 5s)
package db
