//go:build integration

/*
Package testutil provides testing utilities for integration tests against a
real Postgres instance, the way the teacher's testutil package spun up a
throwaway Keycloak container for auth integration tests.

# Overview

StartPostgresContainer launches a disposable postgres container and returns a
*PostgresContainer carrying its DSN; Open hands back a *sql.DB against it. It
does not apply the schema: callers run store.Migrate themselves. It exists so internal/store's migration and stored-procedure behavior (the
atomic_use_credits function in particular) can be exercised against a real
Postgres server instead of sqlmock, which can't execute PL/pgSQL.

# Build Tags

This package uses the integration build tag to keep it (and the Docker
dependency it implies) out of regular `go test ./...` runs:

	go test -tags=integration ./internal/store/...
*/
package testutil
