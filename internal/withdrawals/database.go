package withdrawals

import (
	"errors"

	"gorm.io/gorm"
)

// Database handles withdrawal persistence
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateWithdrawal(w *Withdrawal) error {
	return d.db.Create(w).Error
}

func (d *Database) GetWithdrawal(withdrawalID string) (*Withdrawal, error) {
	var w Withdrawal
	err := d.db.Where("withdrawal_id = ?", withdrawalID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &w, err
}

// Resolve moves a withdrawal out of PENDING exactly once. The guarded update
// makes concurrent approve/reject attempts collapse to a single winner;
// losers get alreadyFinal=true.
func (d *Database) Resolve(withdrawalID, status, refundOrderID, vendorResponse string) (alreadyFinal bool, err error) {
	updates := map[string]interface{}{
		"status":          status,
		"vendor_response": vendorResponse,
	}
	if refundOrderID != "" {
		updates["refund_order_id"] = refundOrderID
	}

	result := d.db.Model(&Withdrawal{}).
		Where("withdrawal_id = ? AND status = ?", withdrawalID, StatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return false, nil
	}

	var w Withdrawal
	if err := d.db.Where("withdrawal_id = ?", withdrawalID).First(&w).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (d *Database) GetPendingWithdrawals() ([]Withdrawal, error) {
	var list []Withdrawal
	err := d.db.Where("status = ?", StatusPending).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

func (d *Database) GetWithdrawalsByAccount(accountNo string) ([]Withdrawal, error) {
	var list []Withdrawal
	err := d.db.Where("account_no = ?", accountNo).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

func (d *Database) GetWithdrawals(limit, offset int) ([]Withdrawal, error) {
	var list []Withdrawal
	err := d.db.Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&list).Error
	return list, err
}
