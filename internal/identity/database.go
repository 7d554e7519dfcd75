package identity

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

func (d *Database) CreateUser(user *User) error {
	return d.db.Create(user).Error
}

func (d *Database) GetUserByEmail(email string) (*User, error) {
	var user User
	if err := d.db.Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (d *Database) GetUserByPhone(phone string) (*User, error) {
	var user User
	if err := d.db.Where("phone = ?", phone).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

func (d *Database) GetUsersByReferralCode(code string) ([]User, error) {
	var users []User
	if err := d.db.Where("referral_code = ?", code).Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (d *Database) UpdateUser(user *User) error {
	return d.db.Save(user).Error
}

// SetCommissionBalance overwrites the stored commission balance for a user.
func (d *Database) SetCommissionBalance(userID uint, amount float64) error {
	return d.db.Model(&User{}).
		Where("id = ?", userID).
		Update("commission_balance", amount).Error
}

// AddCommissionBalance credits the stored commission balance.
func (d *Database) AddCommissionBalance(userID uint, amount float64) error {
	return d.db.Model(&User{}).
		Where("id = ?", userID).
		Update("commission_balance", gorm.Expr("commission_balance + ?", amount)).Error
}

// DecrementCommissionBalance reduces the balance only when sufficient funds
// remain, guarding against concurrent withdrawals of the same accrual.
func (d *Database) DecrementCommissionBalance(userID uint, amount float64) error {
	result := d.db.Model(&User{}).
		Where("id = ? AND commission_balance >= ?", userID, amount).
		Update("commission_balance", gorm.Expr("commission_balance - ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("insufficient commission balance")
	}
	return nil
}

func (d *Database) CreateAccount(account *Account) error {
	return d.db.Create(account).Error
}

func (d *Database) GetAccount(accountNo string) (*Account, error) {
	var account Account
	if err := d.db.Preload("User").Where("account_no = ?", accountNo).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (d *Database) GetAccountsForUser(userID uint) ([]Account, error) {
	var accounts []Account
	if err := d.db.Where("user_id = ?", userID).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}
