/**
 * @description
 * This file defines the Postgres-backed repository for the claims-service and
 * the sentinel errors the rest of the service matches on. The repository is
 * split across files by concern: trips and eligibility, claims and the
 * submission queue, notification jobs, and feed ingestion.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 */

package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sentinel errors returned by repository lookups.
var (
	ErrTripNotFound  = errors.New("trip not found")
	ErrClaimNotFound = errors.New("claim not found")
	ErrQueueEmpty    = errors.New("no queue item due")
	ErrNoJobDue      = errors.New("no notification job due")
)

// PostgresRepository implements all data access for the claims pipeline
// against a pgx connection pool.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository backed by the given pool.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}
