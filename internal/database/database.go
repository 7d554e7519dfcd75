package database

import (
	"fmt"

	"github.com/ksred/brokerage-api/internal/database/migrations"
	"github.com/ksred/brokerage-api/internal/ib"
	"github.com/ksred/brokerage-api/internal/identity"
	"github.com/ksred/brokerage-api/internal/orders"
	"github.com/ksred/brokerage-api/internal/payments"
	"github.com/ksred/brokerage-api/internal/withdrawals"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	if path == "" {
		path = "brokerage.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&identity.User{},
		&identity.Account{},
		&orders.Order{},
		&payments.Transaction{},
		&withdrawals.Withdrawal{},
		&ib.Application{},
	)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddSettlementIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
