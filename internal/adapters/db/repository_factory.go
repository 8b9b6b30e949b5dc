package db

import (
	"troffee-auction-engine/internal/ports/outbound"
)

// RepositoryFactory creates and manages all database repositories
type RepositoryFactory struct {
	conn *Connection
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(conn *Connection) *RepositoryFactory {
	return &RepositoryFactory{conn: conn}
}

// GetAuctionRepository returns the auction repository
func (f *RepositoryFactory) GetAuctionRepository() outbound.AuctionRepository {
	return NewAuctionRepository(f.conn)
}

// GetBidRepository returns the bid repository
func (f *RepositoryFactory) GetBidRepository() outbound.BidRepository {
	return NewBidRepository(f.conn)
}

// GetPaymentHoldRepository returns the payment hold repository
func (f *RepositoryFactory) GetPaymentHoldRepository() outbound.PaymentHoldRepository {
	return NewPaymentHoldRepository(f.conn)
}

// GetJobRepository returns the scheduled job repository
func (f *RepositoryFactory) GetJobRepository() outbound.JobRepository {
	return NewJobRepository(f.conn)
}
