package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"troffee-auction-engine/internal/domain/job"

	"github.com/google/uuid"
)

const jobColumns = `id, job_type, auction_id, due_at, attempts, last_error, status, revision, locked_until, created_at, updated_at`

// JobRepository persists scheduler jobs next to the auctions they drive
type JobRepository struct {
	conn *Connection
}

// NewJobRepository creates a new job repository
func NewJobRepository(conn *Connection) *JobRepository {
	return &JobRepository{conn: conn}
}

func scanJob(row rowScanner) (*job.ScheduledJob, error) {
	var (
		j           job.ScheduledJob
		auctionID   uuid.NullUUID
		lockedUntil sql.NullTime
	)
	err := row.Scan(
		&j.ID,
		&j.Type,
		&auctionID,
		&j.DueAt,
		&j.Attempts,
		&j.LastError,
		&j.Status,
		&j.Revision,
		&lockedUntil,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if auctionID.Valid {
		j.AuctionID = &auctionID.UUID
	}
	if lockedUntil.Valid {
		j.LockedUntil = &lockedUntil.Time
	}
	return &j, nil
}

// Upsert inserts a pending job or moves the due time of the existing one
func (r *JobRepository) Upsert(ctx context.Context, j *job.ScheduledJob) (*job.ScheduledJob, error) {
	query := `
		INSERT INTO scheduled_jobs (id, job_type, auction_id, due_at, attempts, last_error, status, revision, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, '', 'pending', 1, $5, $5)
		ON CONFLICT (job_type, auction_id) WHERE status = 'pending'
		DO UPDATE SET due_at = EXCLUDED.due_at, attempts = 0, last_error = '', locked_until = NULL,
		              revision = scheduled_jobs.revision + 1, updated_at = EXCLUDED.updated_at
		RETURNING ` + jobColumns

	stored, err := scanJob(r.conn.GetDB().QueryRowContext(ctx, query,
		j.ID,
		j.Type,
		nullUUID(j.AuctionID),
		j.DueAt,
		j.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to schedule job: %w", err)
	}

	return stored, nil
}

// CancelByAuction removes every pending job targeting the auction
func (r *JobRepository) CancelByAuction(ctx context.Context, auctionID uuid.UUID) (int, error) {
	query := `DELETE FROM scheduled_jobs WHERE auction_id = $1 AND status = 'pending'`

	result, err := r.conn.GetDB().ExecContext(ctx, query, auctionID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(rowsAffected), nil
}

// ClaimDue leases due jobs. SKIP LOCKED lets several instances poll the same table.
func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*job.ScheduledJob, error) {
	query := `
		UPDATE scheduled_jobs
		SET locked_until = $2, updated_at = $1
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE status = 'pending' AND due_at <= $1 AND (locked_until IS NULL OR locked_until <= $1)
			ORDER BY due_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + jobColumns

	rows, err := r.conn.GetDB().QueryContext(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*job.ScheduledJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// Finish records the result of a run unless the job was rescheduled meanwhile
func (r *JobRepository) Finish(ctx context.Context, j *job.ScheduledJob) (bool, error) {
	var finished bool

	err := r.conn.ExecuteTransaction(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE scheduled_jobs
			SET status = $3, attempts = $4, last_error = $5, due_at = $6, locked_until = NULL, updated_at = $7
			WHERE id = $1 AND revision = $2 AND status = 'pending'
		`

		result, err := tx.ExecContext(ctx, query,
			j.ID,
			j.Revision,
			j.Status,
			j.Attempts,
			j.LastError,
			j.DueAt,
			j.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to finish job: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 1 {
			finished = true
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE scheduled_jobs SET locked_until = NULL WHERE id = $1 AND status = 'pending'`, j.ID); err != nil {
			return fmt.Errorf("failed to release job: %w", err)
		}
		return nil
	})

	return finished, err
}
