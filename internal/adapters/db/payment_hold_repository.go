package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"troffee-auction-engine/internal/domain/payment"
	"troffee-auction-engine/internal/domain/shared"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const holdColumns = `id, auction_id, bidder_id, amount, currency, external_reference_id, status,
		charge_attempted, charge_succeeded, created_at, updated_at`

// uniqueViolation is the Postgres SQLSTATE for unique_violation
const uniqueViolation = "23505"

// PaymentHoldRepository implements the payment hold repository interface
type PaymentHoldRepository struct {
	conn *Connection
}

// NewPaymentHoldRepository creates a new payment hold repository
func NewPaymentHoldRepository(conn *Connection) *PaymentHoldRepository {
	return &PaymentHoldRepository{conn: conn}
}

func scanHold(row rowScanner) (*payment.Hold, error) {
	var h payment.Hold
	err := row.Scan(
		&h.ID,
		&h.AuctionID,
		&h.BidderID,
		&h.Amount,
		&h.Currency,
		&h.ExternalReferenceID,
		&h.Status,
		&h.ChargeAttempted,
		&h.ChargeSucceeded,
		&h.CreatedAt,
		&h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// Create stores a new hold, refusing a second live hold for the same bidder
func (r *PaymentHoldRepository) Create(ctx context.Context, h *payment.Hold) error {
	query := `
		INSERT INTO payment_holds (` + holdColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.conn.GetDB().ExecContext(ctx, query,
		h.ID,
		h.AuctionID,
		h.BidderID,
		h.Amount,
		h.Currency,
		h.ExternalReferenceID,
		h.Status,
		h.ChargeAttempted,
		h.ChargeSucceeded,
		h.CreatedAt,
		h.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return shared.ErrHoldAlreadyExists
		}
		return fmt.Errorf("failed to create payment hold: %w", err)
	}

	return nil
}

// GetLive retrieves the live hold of a bidder on an auction
func (r *PaymentHoldRepository) GetLive(ctx context.Context, auctionID, bidderID uuid.UUID) (*payment.Hold, error) {
	query := `
		SELECT ` + holdColumns + `
		FROM payment_holds
		WHERE auction_id = $1 AND bidder_id = $2 AND status IN ('created', 'authorized', 'captured')
	`

	h, err := scanHold(r.conn.GetDB().QueryRowContext(ctx, query, auctionID, bidderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrHoldNotFound
		}
		return nil, fmt.Errorf("failed to get payment hold: %w", err)
	}

	return h, nil
}

// ListByAuction retrieves every hold taken on an auction
func (r *PaymentHoldRepository) ListByAuction(ctx context.Context, auctionID uuid.UUID) ([]*payment.Hold, error) {
	query := `SELECT ` + holdColumns + ` FROM payment_holds WHERE auction_id = $1 ORDER BY created_at ASC`

	rows, err := r.conn.GetDB().QueryContext(ctx, query, auctionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment holds: %w", err)
	}
	defer rows.Close()

	var holds []*payment.Hold
	for rows.Next() {
		h, err := scanHold(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment hold: %w", err)
		}
		holds = append(holds, h)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payment holds: %w", err)
	}

	return holds, nil
}

// Update persists status and charge flags. A captured hold never moves back.
func (r *PaymentHoldRepository) Update(ctx context.Context, h *payment.Hold) error {
	query := `
		UPDATE payment_holds
		SET status = $2, charge_attempted = $3, charge_succeeded = $4, updated_at = $5
		WHERE id = $1 AND (status <> 'captured' OR $2 = 'captured')
	`

	result, err := r.conn.GetDB().ExecContext(ctx, query,
		h.ID,
		h.Status,
		h.ChargeAttempted,
		h.ChargeSucceeded,
		h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment hold: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return shared.ErrHoldStatusConflict
	}

	return nil
}
