package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

const (
	ShopStatusActive   = "active"
	ShopStatusInactive = "inactive"
)

// Shop is a storefront integration that may request age verifications.
type Shop struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UUID         string         `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	CompanyID    uint           `gorm:"not null;index" json:"company_id"`
	Name         string         `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	Domain       string         `gorm:"type:varchar(255);default:null" json:"domain" validate:"omitempty,max=255"`
	Status       string         `gorm:"type:varchar(20);default:'active'" json:"status" validate:"oneof=active inactive"`
	APITokenHash string         `gorm:"type:varchar(64);index" json:"-"`

	// Counters are flushed in batches from Redis, not updated per request.
	VerificationCount int64          `gorm:"not null;default:0" json:"verification_count"`
	ApprovalCount     int64          `gorm:"not null;default:0" json:"approval_count"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`

	Company Company `gorm:"foreignKey:CompanyID" json:"-"`
}

func (s *Shop) Validate() error {
	v := validator.New()

	return v.Struct(s)
}

// IsActive reports whether the shop may start new verifications.
func (s *Shop) IsActive() bool {
	return s.Status == ShopStatusActive
}

// HashShopToken returns the SHA-256 hash for the provided API token.
func HashShopToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// GenerateShopToken creates a fresh API token and stores its hash on the shop.
// The raw token is returned exactly once; only the hash is persisted.
func (s *Shop) GenerateShopToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	raw := hex.EncodeToString(b)
	s.APITokenHash = HashShopToken(raw)
	return raw, nil
}
