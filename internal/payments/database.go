package payments

import (
	"errors"

	"gorm.io/gorm"
)

// Database handles callback transaction persistence
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateTransaction(txn *Transaction) error {
	return d.db.Create(txn).Error
}

func (d *Database) GetTransactionByVendorTxnID(vendorTxnID string) (*Transaction, error) {
	var txn Transaction
	err := d.db.Where("vendor_txn_id = ?", vendorTxnID).First(&txn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &txn, err
}

// SetCreditOutcome records where the credit attempt landed for an already
// persisted transaction. The resolved account is persisted alongside so
// retries do not have to re-derive it.
func (d *Database) SetCreditOutcome(vendorTxnID, creditStatus, creditOrderID, accountNo string, amountUSD float64) error {
	return d.db.Model(&Transaction{}).
		Where("vendor_txn_id = ?", vendorTxnID).
		Updates(map[string]interface{}{
			"credit_status":   creditStatus,
			"credit_order_id": creditOrderID,
			"account_no":      accountNo,
			"amount_usd":      amountUSD,
		}).Error
}

func (d *Database) GetTransactions(limit, offset int) ([]Transaction, error) {
	var list []Transaction
	err := d.db.Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&list).Error
	return list, err
}

func (d *Database) GetFailedCredits() ([]Transaction, error) {
	var list []Transaction
	err := d.db.Where("credit_status = ?", CreditFailed).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}
