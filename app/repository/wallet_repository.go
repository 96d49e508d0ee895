package repository

import (
	"strings"
	"time"

	"github.com/JonasWeber/AgeGuard/app/models"
	"gorm.io/gorm"
)

// walletRepository implements the WalletRepository interface
type walletRepository struct {
	db *gorm.DB
}

// NewWalletRepository creates a new wallet repository instance
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

// Create persists a new wallet transaction
func (r *walletRepository) Create(tx *models.WalletTransaction) error {
	return r.db.Create(tx).Error
}

// GetByReference retrieves a transaction by its external reference
func (r *walletRepository) GetByReference(reference string) (*models.WalletTransaction, error) {
	var tx models.WalletTransaction
	err := r.db.Where("reference = ?", strings.TrimSpace(reference)).First(&tx).Error
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListPendingCredits returns unsettled top-up requests, oldest first
func (r *walletRepository) ListPendingCredits(limit int) ([]models.WalletTransaction, error) {
	var txs []models.WalletTransaction
	err := r.db.
		Where("type = ? AND status = ?", models.TransactionTypeCredit, models.TransactionStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

// SettleCredit moves a pending credit to completed and adds the amount to
// the owning company balance inside one database transaction. The status
// condition on the UPDATE makes re-delivery of the same bank statement
// line a no-op: the second caller matches zero rows and the balance is
// credited exactly once.
func (r *walletRepository) SettleCredit(reference string) (bool, error) {
	settled := false
	err := r.db.Transaction(func(dbtx *gorm.DB) error {
		var wtx models.WalletTransaction
		if err := dbtx.Where("reference = ? AND type = ?", strings.TrimSpace(reference), models.TransactionTypeCredit).
			First(&wtx).Error; err != nil {
			return err
		}

		now := time.Now()
		res := dbtx.Model(&models.WalletTransaction{}).
			Where("id = ? AND status = ?", wtx.ID, models.TransactionStatusPending).
			Updates(map[string]interface{}{
				"status":     models.TransactionStatusCompleted,
				"settled_at": &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already settled by a concurrent caller.
			return nil
		}

		if err := dbtx.Model(&models.Company{}).
			Where("id = ?", wtx.CompanyID).
			Update("wallet_balance", gorm.Expr("wallet_balance + ?", wtx.Amount)).Error; err != nil {
			return err
		}
		settled = true
		return nil
	})
	return settled, err
}
