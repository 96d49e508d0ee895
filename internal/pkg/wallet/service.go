package wallet

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/app/repository"
	"github.com/JonasWeber/AgeGuard/internal/pkg/bank"
	"github.com/JonasWeber/AgeGuard/internal/pkg/cache"
)

var (
	ErrCompanyNotFound     = errors.New("company not found")
	ErrInvalidAmount       = errors.New("top-up amount must be a positive whole number")
	ErrTransactionNotFound = errors.New("wallet transaction not found")
)

// ReconcileStatus is the outcome of one reconciliation pass.
type ReconcileStatus string

const (
	ReconcileCompleted ReconcileStatus = "completed"
	ReconcilePending   ReconcileStatus = "pending"
)

const settleLockTTL = 30 * time.Second

// StatementFetcher is the read-only slice of the bank gateway the wallet
// needs. The concrete client lives in internal/pkg/bank.
type StatementFetcher interface {
	ListTransactions(ctx context.Context, from, to time.Time) ([]bank.StatementLine, error)
}

// Locker guards the lookup-then-settle window against concurrent
// reconcile calls for the same reference.
type Locker interface {
	Acquire(key string, ttl time.Duration) (bool, error)
	Release(key string)
}

type cacheLocker struct{}

func (cacheLocker) Acquire(key string, ttl time.Duration) (bool, error) {
	return cache.AcquireLock(key, ttl)
}

func (cacheLocker) Release(key string) {
	cache.ReleaseLock(key)
}

// Service owns prepaid wallet top-ups and their settlement against the
// bank statement feed.
type Service struct {
	wallets   repository.WalletRepository
	companies repository.CompanyRepository
	feed      StatementFetcher
	locks     Locker
}

// NewService creates a wallet service from injected collaborators.
func NewService(wallets repository.WalletRepository, companies repository.CompanyRepository, feed StatementFetcher, locks Locker) *Service {
	if locks == nil {
		locks = cacheLocker{}
	}
	return &Service{wallets: wallets, companies: companies, feed: feed, locks: locks}
}

// NewServiceFromDB creates a wallet service from a GORM DB handle with the
// production statement client and redis locking.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(
		repository.NewWalletRepository(db),
		repository.NewCompanyRepository(db),
		bank.NewClientFromEnv(),
		cacheLocker{},
	)
}

// RequestTopUp creates a pending credit and hands back the reference the
// merchant must quote in the bank transfer.
func (s *Service) RequestTopUp(ctx context.Context, companyID uint, amount int64) (*models.WalletTransaction, error) {
	_ = ctx
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	company, err := s.companies.GetByID(companyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompanyNotFound
		}
		return nil, err
	}

	tx := &models.WalletTransaction{
		Reference:   uuid.New().String(),
		CompanyID:   company.ID,
		Type:        models.TransactionTypeCredit,
		Amount:      amount,
		Status:      models.TransactionStatusPending,
		Description: fmt.Sprintf("Wallet top-up for %s", company.Name),
	}
	if err := s.wallets.Create(tx); err != nil {
		return nil, err
	}
	log.Infof("[Wallet] Created top-up %s (company=%d amount=%d)", tx.Reference, company.ID, amount)
	return tx, nil
}

// GetStatus returns the current state of a top-up by reference.
func (s *Service) GetStatus(ctx context.Context, reference string) (*models.WalletTransaction, error) {
	_ = ctx
	tx, err := s.wallets.GetByReference(reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// GetCompany returns the company owning a wallet, for balance lookups.
func (s *Service) GetCompany(ctx context.Context, companyID uint) (*models.Company, error) {
	_ = ctx
	company, err := s.companies.GetByID(companyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompanyNotFound
		}
		return nil, err
	}
	return company, nil
}

// RecordDebit books an immediately-completed debit against a company
// wallet, used when a verification attempt is billed.
func (s *Service) RecordDebit(ctx context.Context, companyID uint, amount int64, description string) (*models.WalletTransaction, error) {
	_ = ctx
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	now := time.Now()
	tx := &models.WalletTransaction{
		Reference:   uuid.New().String(),
		CompanyID:   companyID,
		Type:        models.TransactionTypeDebit,
		Amount:      amount,
		Status:      models.TransactionStatusCompleted,
		Description: description,
		SettledAt:   &now,
	}
	if err := s.wallets.Create(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Reconcile matches the referenced pending top-up against today's bank
// statement. An exact amount match settles the credit exactly once; a
// mismatched line does not fail the pass, another line may still match.
// Safe to invoke concurrently for the same reference from the scheduled
// sweep and a user-triggered check.
func (s *Service) Reconcile(ctx context.Context, reference string) (ReconcileStatus, error) {
	tx, err := s.GetStatus(ctx, reference)
	if err != nil {
		return "", err
	}
	if tx.IsSettled() {
		return ReconcileCompleted, nil
	}
	if tx.Type != models.TransactionTypeCredit {
		return "", fmt.Errorf("transaction %s is not a top-up credit", reference)
	}

	lockKey := "wallet_settle:" + tx.Reference
	acquired, err := s.locks.Acquire(lockKey, settleLockTTL)
	if err != nil {
		return "", err
	}
	if !acquired {
		// Another reconcile pass owns this reference right now. Report the
		// stored state; the owner will settle if the payment arrived.
		log.Infof("[Wallet] Reconcile for %s already in progress", tx.Reference)
		return ReconcilePending, nil
	}
	defer s.locks.Release(lockKey)

	today := time.Now()
	lines, err := s.feed.ListTransactions(ctx, today, today)
	if err != nil {
		return "", err
	}

	for _, line := range lines {
		if line.Reference != tx.Reference {
			continue
		}
		credited := int64(math.Round(math.Abs(line.Amount)))
		if credited != tx.Amount {
			// Amount mismatch; keep scanning, another line may match.
			log.Warnf("[Wallet] Statement line for %s has amount %d, expected %d", tx.Reference, credited, tx.Amount)
			continue
		}

		settled, err := s.wallets.SettleCredit(tx.Reference)
		if err != nil {
			return "", err
		}
		if settled {
			log.Infof("[Wallet] Settled top-up %s (amount=%d)", tx.Reference, tx.Amount)
		}
		return ReconcileCompleted, nil
	}

	return ReconcilePending, nil
}
