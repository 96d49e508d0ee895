package repository

import (
	"time"

	"github.com/JonasWeber/AgeGuard/app/models"
	"gorm.io/gorm"
)

// ShopRepository defines the interface for shop-related database operations
type ShopRepository interface {
	Create(shop *models.Shop) error
	GetByID(id uint) (*models.Shop, error)
	GetByUUID(uuid string) (*models.Shop, error)
	GetByAPITokenHash(hash string) (*models.Shop, error)
	Update(shop *models.Shop) error
	List(offset, limit int) ([]models.Shop, error)
	Count() (int64, error)
}

// CompanyRepository defines the interface for company-related database operations
type CompanyRepository interface {
	Create(company *models.Company) error
	GetByID(id uint) (*models.Company, error)
	Update(company *models.Company) error
}

// SessionRepository defines the interface for verification session operations
type SessionRepository interface {
	Create(session *models.VerificationSession) error
	GetByUUID(uuid string) (*models.VerificationSession, error)
	GetByPairingToken(token string) (*models.VerificationSession, error)
	GetByRecordID(recordID uint) (*models.VerificationSession, error)
	SetPairingToken(id uint, token string) error
	// TransitionStatus moves a session between the given statuses and
	// reports whether this call performed the transition. A session no
	// longer in the from-status is left untouched.
	TransitionStatus(id uint, from, to string) (bool, error)
	AttachRecord(id uint, recordID uint) error
	MarkExpired(id uint) error
}

// RecordRepository defines the interface for verification record operations
type RecordRepository interface {
	Create(record *models.VerificationRecord) error
	GetByID(id uint) (*models.VerificationRecord, error)
	GetByUUID(uuid string) (*models.VerificationRecord, error)
	// Complete writes the terminal outcome of a record. Exactly one caller
	// wins; every later attempt gets ErrAlreadyTerminal and the stored
	// outcome stays untouched.
	Complete(id uint, status, result, detail string) (*models.VerificationRecord, error)
	LatestSuccessByUserIdentifier(userIdentifier string, notBefore time.Time) (*models.VerificationRecord, error)
}

// WalletRepository defines the interface for wallet transaction operations
type WalletRepository interface {
	Create(tx *models.WalletTransaction) error
	GetByReference(reference string) (*models.WalletTransaction, error)
	ListPendingCredits(limit int) ([]models.WalletTransaction, error)
	// SettleCredit performs the idempotent pending->completed transition
	// and credits the owning company balance in the same database
	// transaction. It reports whether this call performed the settlement.
	SettleCredit(reference string) (bool, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Shop    ShopRepository
	Company CompanyRepository
	Session SessionRepository
	Record  RecordRepository
	Wallet  WalletRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Shop:    NewShopRepository(db),
		Company: NewCompanyRepository(db),
		Session: NewSessionRepository(db),
		Record:  NewRecordRepository(db),
		Wallet:  NewWalletRepository(db),
	}
}
