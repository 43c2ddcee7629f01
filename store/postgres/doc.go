// Package postgres implements store.Store on jackc/pgx. It is the
// backend of choice for multi-node deployments: every pool instance can
// poll the same database, and the engine's transactional settlement maps
// directly onto Postgres transactions.
package postgres
