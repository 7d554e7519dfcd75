package migrations

import (
	"gorm.io/gorm"
)

// AddSettlementIndexes creates the composite indexes the reconciliation and
// review queries lean on
func AddSettlementIndexes(db *gorm.DB) error {
	// Using raw SQL for index creation to have more control over index types
	indexes := []string{
		// Composite index for per-account order history sorted by recency
		`CREATE INDEX IF NOT EXISTS idx_orders_account_created
		 ON orders(account_no, created_at)`,

		// Composite index for pending-withdrawal review queues
		`CREATE INDEX IF NOT EXISTS idx_withdrawals_status_created
		 ON withdrawals(status, created_at)`,

		// Composite index for failed-credit reconciliation sweeps
		`CREATE INDEX IF NOT EXISTS idx_transactions_credit_created
		 ON transactions(credit_status, created_at)`,

		// Index for referral lookups during commission runs
		`CREATE INDEX IF NOT EXISTS idx_users_referral_code
		 ON users(referral_code)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
