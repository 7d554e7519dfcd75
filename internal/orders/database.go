package orders

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateOrder(order *Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*Order, error) {
	var order Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// MarkResult transitions a PENDING order to a terminal state. The conditional
// update is the idempotency guard: an order already in a terminal state is
// left untouched and reported via alreadyFinal.
func (d *Database) MarkResult(orderID, status string) (alreadyFinal bool, err error) {
	result := d.db.Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID, StatusPending).
		Update("status", status)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		order, err := d.GetOrder(orderID)
		if err != nil {
			return false, err
		}
		if order == nil {
			return false, gorm.ErrRecordNotFound
		}
		// Terminal already; duplicate callbacks land here.
		return true, nil
	}
	return false, nil
}

func (d *Database) GetOrdersByAccount(accountNo string) ([]Order, error) {
	var list []Order
	if err := d.db.Where("account_no = ?", accountNo).
		Order("created_at DESC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (d *Database) GetOrders(limit, offset int) ([]Order, error) {
	var list []Order
	if err := d.db.Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
