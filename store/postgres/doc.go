// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED dequeue with one job per incident, revision-checked
// workflow updates, unique question constraints, embedded SQL migrations.
package postgres
