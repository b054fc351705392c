// Package storage is the Persistence Gateway: a narrow, transactional
// interface over the relational store, grouped by aggregate root (Job,
// Agent, Requirement, Source/Citation, Upload, AgentConfig, Audit).
//
// Store is backed by PostgreSQL (postgres.go) via jackc/pgx/v5 and
// jmoiron/sqlx. Driver errors are converted to the *Error taxonomy
// (errors.go) before returning to callers; TransientBackend failures
// are retried with the bounded backoff in retry.go.
package storage
