package models

import (
	"time"

	"gorm.io/gorm"
)

// Company owns shops and carries the prepaid wallet balance.
// Balances are whole currency units, never fractions.
type Company struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Name          string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Email         string         `gorm:"type:varchar(200);default:null" json:"email" validate:"omitempty,email"`
	WalletBalance int64          `gorm:"not null;default:0" json:"wallet_balance"`
	CreatedAt     time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}
