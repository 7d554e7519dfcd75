package ib

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

func (d *Database) CreateApplication(app *Application) error {
	return d.db.Create(app).Error
}

func (d *Database) GetApplicationByEmail(email string) (*Application, error) {
	var app Application
	if err := d.db.Where("email = ?", email).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &app, nil
}

func (d *Database) GetApplicationByReferralCode(code string) (*Application, error) {
	var app Application
	if err := d.db.Where("referral_code = ?", code).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &app, nil
}

func (d *Database) GetApplications() ([]Application, error) {
	var apps []Application
	if err := d.db.Order("created_at DESC").Find(&apps).Error; err != nil {
		return nil, err
	}
	return apps, nil
}

func (d *Database) UpdateApplication(app *Application) error {
	return d.db.Save(app).Error
}
