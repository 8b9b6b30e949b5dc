package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"troffee-auction-engine/internal/domain/auction"
	"troffee-auction-engine/internal/domain/bid"
	"troffee-auction-engine/internal/domain/shared"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const auctionColumns = `id, seller_id, title, category, specifications, start_price, bid_increment, reserve_price,
		start_date, end_date, current_price, current_bidder_id, bid_count, status, winner_id, final_price,
		payment_status, ending_soon_notified, created_at, updated_at`

// AuctionRepository implements the auction repository interface
type AuctionRepository struct {
	conn *Connection
}

// NewAuctionRepository creates a new auction repository
func NewAuctionRepository(conn *Connection) *AuctionRepository {
	return &AuctionRepository{conn: conn}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (*auction.Auction, error) {
	var (
		a               auction.Auction
		specs           []byte
		currentBidderID uuid.NullUUID
		winnerID        uuid.NullUUID
	)
	err := row.Scan(
		&a.ID,
		&a.SellerID,
		&a.Title,
		&a.Category,
		&specs,
		&a.StartPrice,
		&a.BidIncrement,
		&a.ReservePrice,
		&a.StartDate,
		&a.EndDate,
		&a.CurrentPrice,
		&currentBidderID,
		&a.BidCount,
		&a.Status,
		&winnerID,
		&a.FinalPrice,
		&a.PaymentStatus,
		&a.EndingSoonNotified,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(specs) > 0 {
		if err := json.Unmarshal(specs, &a.Specifications); err != nil {
			return nil, fmt.Errorf("failed to decode specifications: %w", err)
		}
	}
	if currentBidderID.Valid {
		a.CurrentBidderID = &currentBidderID.UUID
	}
	if winnerID.Valid {
		a.WinnerID = &winnerID.UUID
	}
	return &a, nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// Create creates a new auction
func (r *AuctionRepository) Create(ctx context.Context, a *auction.Auction) error {
	specs, err := json.Marshal(a.Specifications)
	if err != nil {
		return fmt.Errorf("failed to encode specifications: %w", err)
	}

	query := `
		INSERT INTO auctions (` + auctionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err = r.conn.GetDB().ExecContext(ctx, query,
		a.ID,
		a.SellerID,
		a.Title,
		a.Category,
		specs,
		a.StartPrice,
		a.BidIncrement,
		a.ReservePrice,
		a.StartDate,
		a.EndDate,
		a.CurrentPrice,
		nullUUID(a.CurrentBidderID),
		a.BidCount,
		a.Status,
		nullUUID(a.WinnerID),
		a.FinalPrice,
		a.PaymentStatus,
		a.EndingSoonNotified,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create auction: %w", err)
	}

	return nil
}

// GetByID retrieves an auction by ID
func (r *AuctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*auction.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`

	a, err := scanAuction(r.conn.GetDB().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}

	return a, nil
}

// List retrieves a list of auctions with optional filters
func (r *AuctionRepository) List(ctx context.Context, status *auction.Status, page, pageSize int) ([]*auction.Auction, error) {
	baseQuery := `SELECT ` + auctionColumns + ` FROM auctions `

	var whereClause string
	var args []interface{}
	argCount := 1

	if status != nil {
		whereClause = "WHERE status = $1"
		args = append(args, *status)
		argCount++
	}

	// Add pagination
	limitClause := fmt.Sprintf("LIMIT $%d", argCount)
	offsetClause := fmt.Sprintf("OFFSET $%d", argCount+1)
	args = append(args, pageSize, (page-1)*pageSize)

	query := baseQuery + whereClause + " ORDER BY created_at DESC " + limitClause + " " + offsetClause

	return r.queryAuctions(ctx, query, args...)
}

func (r *AuctionRepository) queryAuctions(ctx context.Context, query string, args ...interface{}) ([]*auction.Auction, error) {
	rows, err := r.conn.GetDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []*auction.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating auctions: %w", err)
	}

	return auctions, nil
}

// UpdateDraft overwrites the listing fields of a draft auction
func (r *AuctionRepository) UpdateDraft(ctx context.Context, a *auction.Auction) error {
	specs, err := json.Marshal(a.Specifications)
	if err != nil {
		return fmt.Errorf("failed to encode specifications: %w", err)
	}

	query := `
		UPDATE auctions
		SET title = $2, category = $3, specifications = $4, start_price = $5, bid_increment = $6,
		    reserve_price = $7, start_date = $8, end_date = $9, current_price = $10, updated_at = $11
		WHERE id = $1 AND status = 'draft'
	`

	result, err := r.conn.GetDB().ExecContext(ctx, query,
		a.ID,
		a.Title,
		a.Category,
		specs,
		a.StartPrice,
		a.BidIncrement,
		a.ReservePrice,
		a.StartDate,
		a.EndDate,
		a.CurrentPrice,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}

	return r.requireRow(ctx, result, a.ID, shared.ErrAuctionNotEditable)
}

// Delete deletes a draft auction
func (r *AuctionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM auctions WHERE id = $1 AND status = 'draft'`

	result, err := r.conn.GetDB().ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete auction: %w", err)
	}

	return r.requireRow(ctx, result, id, shared.ErrAuctionNotEditable)
}

// requireRow turns a zero-row update into ErrAuctionNotFound or conflictErr
func (r *AuctionRepository) requireRow(ctx context.Context, result sql.Result, id uuid.UUID, conflictErr error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists bool
	if err := r.conn.GetDB().QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check auction: %w", err)
	}
	if !exists {
		return shared.ErrAuctionNotFound
	}
	return conflictErr
}

/*
ApplyBid places a bid using optimistic concurrency control.
 1. Update the auction only if it is active, open at the bid timestamp and
    still at the price and bid count the bidder observed
 2. Fail with ErrBidConflict if another transaction got there first
 3. Append the bid in the same transaction
*/
func (r *AuctionRepository) ApplyBid(ctx context.Context, b *bid.Bid, expectedPrice decimal.Decimal, expectedBidCount int) error {
	return r.conn.ExecuteTransaction(ctx, func(tx *sql.Tx) error {
		updateQuery := `
			UPDATE auctions
			SET current_price = $2, current_bidder_id = $3, bid_count = bid_count + 1, updated_at = $4
			WHERE id = $1 AND status = 'active' AND end_date > $4 AND current_price = $5 AND bid_count = $6
		`

		result, err := tx.ExecContext(ctx, updateQuery,
			b.AuctionID,
			b.Amount,
			b.BidderID,
			b.Timestamp,
			expectedPrice,
			expectedBidCount,
		)
		if err != nil {
			return fmt.Errorf("failed to update auction price: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		// If no rows were affected, another transaction modified the auction
		if rowsAffected == 0 {
			return shared.ErrBidConflict
		}

		bidQuery := `
			INSERT INTO bids (id, auction_id, bidder_id, amount, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`

		if _, err := tx.ExecContext(ctx, bidQuery, b.ID, b.AuctionID, b.BidderID, b.Amount, b.Timestamp); err != nil {
			return fmt.Errorf("failed to insert bid: %w", err)
		}

		return nil
	})
}

// Transition persists a lifecycle decision if the auction is still where the decider saw it
func (r *AuctionRepository) Transition(ctx context.Context, a *auction.Auction, from auction.Status, expectedBidCount int) error {
	query := `
		UPDATE auctions
		SET status = $2, winner_id = $3, final_price = $4, payment_status = $5, updated_at = $6
		WHERE id = $1 AND status = $7 AND bid_count = $8 AND end_date = $9
	`

	result, err := r.conn.GetDB().ExecContext(ctx, query,
		a.ID,
		a.Status,
		nullUUID(a.WinnerID),
		a.FinalPrice,
		a.PaymentStatus,
		a.UpdatedAt,
		from,
		expectedBidCount,
		a.EndDate,
	)
	if err != nil {
		return fmt.Errorf("failed to transition auction: %w", err)
	}

	return r.requireRow(ctx, result, a.ID, shared.ErrTransitionConflict)
}

// UpdateEndDate moves the end date of an approved or active auction
func (r *AuctionRepository) UpdateEndDate(ctx context.Context, id uuid.UUID, endDate time.Time, updatedAt time.Time) error {
	query := `
		UPDATE auctions
		SET end_date = $2, ending_soon_notified = FALSE, updated_at = $3
		WHERE id = $1 AND status IN ('approved', 'active')
	`

	result, err := r.conn.GetDB().ExecContext(ctx, query, id, endDate, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to update end date: %w", err)
	}

	return r.requireRow(ctx, result, id, shared.ErrInvalidTransition)
}

// SetPaymentStatus records the settlement state of an auction
func (r *AuctionRepository) SetPaymentStatus(ctx context.Context, id uuid.UUID, status auction.PaymentStatus, updatedAt time.Time) error {
	query := `UPDATE auctions SET payment_status = $2, updated_at = $3 WHERE id = $1`

	result, err := r.conn.GetDB().ExecContext(ctx, query, id, status, updatedAt)
	if err != nil {
		return fmt.Errorf("failed to set payment status: %w", err)
	}

	return r.requireRow(ctx, result, id, shared.ErrAuctionNotFound)
}

// ListEndingBetween returns active, not yet notified auctions ending in (from, to]
func (r *AuctionRepository) ListEndingBetween(ctx context.Context, from, to time.Time) ([]*auction.Auction, error) {
	query := `
		SELECT ` + auctionColumns + `
		FROM auctions
		WHERE status = 'active' AND ending_soon_notified = FALSE AND end_date > $1 AND end_date <= $2
		ORDER BY end_date ASC
	`

	return r.queryAuctions(ctx, query, from, to)
}

// MarkEndingSoonNotified flips the ending-soon flag once
func (r *AuctionRepository) MarkEndingSoonNotified(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `UPDATE auctions SET ending_soon_notified = TRUE WHERE id = $1 AND ending_soon_notified = FALSE`

	result, err := r.conn.GetDB().ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to flag auction: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}
