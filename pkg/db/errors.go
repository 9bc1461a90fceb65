package db

import "errors"

var (
	ErrEmptyConnectionString    = errors.New("db: connection string is empty")
	ErrFailedToParseDBConfig    = errors.New("db: failed to parse database configuration")
	ErrFailedToOpenDBConnection = errors.New("db: failed to open database connection")
	ErrHealthcheckFailed        = errors.New("db: healthcheck failed")
	ErrApplyMigrations          = errors.New("db migrator: failed to apply migrations")
)
