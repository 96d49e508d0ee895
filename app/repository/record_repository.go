package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/JonasWeber/AgeGuard/app/models"
	"gorm.io/gorm"
)

// ErrAlreadyTerminal is returned when a caller tries to complete a record
// that already carries its terminal outcome. Callers treat it as a no-op
// signal, not a user-facing error.
var ErrAlreadyTerminal = errors.New("verification record is already terminal")

// recordRepository implements the RecordRepository interface
type recordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a new verification record repository instance
func NewRecordRepository(db *gorm.DB) RecordRepository {
	return &recordRepository{db: db}
}

// Create persists a fresh pending record
func (r *recordRepository) Create(record *models.VerificationRecord) error {
	return r.db.Create(record).Error
}

// GetByID retrieves a record by its ID
func (r *recordRepository) GetByID(id uint) (*models.VerificationRecord, error) {
	var record models.VerificationRecord
	err := r.db.First(&record, id).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetByUUID retrieves a record by its public identifier
func (r *recordRepository) GetByUUID(uuid string) (*models.VerificationRecord, error) {
	var record models.VerificationRecord
	err := r.db.Where("uuid = ?", strings.TrimSpace(uuid)).First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Complete writes the terminal outcome with a compare-and-swap on the
// pending status. Concurrent completion attempts are serialized by the
// database: exactly one UPDATE matches, every other caller observes
// ErrAlreadyTerminal and the stored outcome stays untouched.
func (r *recordRepository) Complete(id uint, status, result, detail string) (*models.VerificationRecord, error) {
	tx := r.db.Model(&models.VerificationRecord{}).
		Where("id = ? AND status = ?", id, models.RecordStatusPending).
		Updates(map[string]interface{}{
			"status":       status,
			"result":       result,
			"detail":       detail,
			"completed_at": time.Now(),
		})
	if tx.Error != nil {
		return nil, tx.Error
	}
	if tx.RowsAffected == 0 {
		return nil, ErrAlreadyTerminal
	}
	return r.GetByID(id)
}

// LatestSuccessByUserIdentifier finds the most recent prior successful
// record for the given user identifier, ordered by recency.
func (r *recordRepository) LatestSuccessByUserIdentifier(userIdentifier string, notBefore time.Time) (*models.VerificationRecord, error) {
	trimmed := strings.TrimSpace(userIdentifier)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var record models.VerificationRecord
	err := r.db.
		Where("user_identifier = ? AND status = ? AND result = ? AND created_at >= ?",
			trimmed, models.RecordStatusCompleted, models.ResultSuccess, notBefore).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}
