package repository

import (
	"strings"
	"time"

	"github.com/JonasWeber/AgeGuard/app/models"
	"gorm.io/gorm"
)

// sessionRepository implements the SessionRepository interface
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new verification session repository instance
func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

// Create persists a fresh session
func (r *sessionRepository) Create(session *models.VerificationSession) error {
	return r.db.Create(session).Error
}

// GetByUUID retrieves a session by its public identifier
func (r *sessionRepository) GetByUUID(uuid string) (*models.VerificationSession, error) {
	var session models.VerificationSession
	err := r.db.Preload("Record").Where("uuid = ?", strings.TrimSpace(uuid)).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetByPairingToken retrieves a session by its cross-device pairing token
func (r *sessionRepository) GetByPairingToken(token string) (*models.VerificationSession, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var session models.VerificationSession
	err := r.db.Where("pairing_token = ?", trimmed).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// GetByRecordID retrieves the session linked to a verification record
func (r *sessionRepository) GetByRecordID(recordID uint) (*models.VerificationSession, error) {
	var session models.VerificationSession
	err := r.db.Where("record_id = ?", recordID).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// SetPairingToken stores the cross-device pairing token on the session
func (r *sessionRepository) SetPairingToken(id uint, token string) error {
	return r.db.Model(&models.VerificationSession{}).
		Where("id = ?", id).
		Update("pairing_token", token).Error
}

// TransitionStatus performs a guarded forward transition. The WHERE clause
// on the current status makes concurrent callers race safely: only one
// UPDATE matches, the rest see zero affected rows.
func (r *sessionRepository) TransitionStatus(id uint, from, to string) (bool, error) {
	updates := map[string]interface{}{"status": to}
	if to == models.SessionStatusCompleted {
		now := time.Now()
		updates["completed_at"] = &now
	}
	tx := r.db.Model(&models.VerificationSession{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// AttachRecord links a verification record to the session
func (r *sessionRepository) AttachRecord(id uint, recordID uint) error {
	return r.db.Model(&models.VerificationSession{}).
		Where("id = ?", id).
		Update("record_id", recordID).Error
}

// MarkExpired durably writes the expired status. Terminal sessions are
// never touched, so a completed session cannot flip to expired and a
// session observed as expired once stays expired under clock skew.
func (r *sessionRepository) MarkExpired(id uint) error {
	return r.db.Model(&models.VerificationSession{}).
		Where("id = ? AND status NOT IN ?", id, []string{models.SessionStatusCompleted, models.SessionStatusExpired}).
		Update("status", models.SessionStatusExpired).Error
}
