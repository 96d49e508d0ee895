package models

import (
	"time"
)

const (
	TransactionTypeCredit = "credit"
	TransactionTypeDebit  = "debit"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// WalletTransaction records credits and debits on a company wallet.
// Amounts are positive whole currency units; the type decides direction.
// The Reference is the externally quotable identifier a merchant puts into
// the bank transfer, distinct from the primary key.
type WalletTransaction struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Reference   string     `gorm:"type:varchar(36);uniqueIndex;not null" json:"reference"`
	CompanyID   uint       `gorm:"not null;index" json:"company_id"`
	Type        string     `gorm:"type:varchar(10);not null" json:"type"`
	Amount      int64      `gorm:"not null" json:"amount"`
	Status      string     `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	Description string     `gorm:"type:varchar(255)" json:"description"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	SettledAt   *time.Time `gorm:"type:timestamp;default:null" json:"settled_at,omitempty"`

	Company Company `gorm:"foreignKey:CompanyID" json:"-"`
}

// IsSettled reports whether the transaction reached its final completed state.
func (t *WalletTransaction) IsSettled() bool {
	return t.Status == TransactionStatusCompleted
}
