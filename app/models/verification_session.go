package models

import (
	"time"
)

const (
	SessionStatusPending   = "pending"
	SessionStatusPaired    = "paired"
	SessionStatusCompleted = "completed"
	SessionStatusExpired   = "expired"
)

// sessionStatusRank orders session states for the forward-only transition
// check. Expired is reachable from every non-terminal state and handled
// separately.
var sessionStatusRank = map[string]int{
	SessionStatusPending:   0,
	SessionStatusPaired:    1,
	SessionStatusCompleted: 2,
}

// VerificationSession is a bounded-lifetime handle for one visitor's
// attempt to pass the age check for a given shop. Sessions are retained
// for audit and never deleted.
type VerificationSession struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	UUID         string     `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	ShopID       uint       `gorm:"not null;index" json:"shop_id"`
	Status       string     `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	RecordID     *uint      `gorm:"default:null" json:"record_id,omitempty"`
	PairingToken string     `gorm:"type:varchar(32);default:null;index" json:"-"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt  *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`

	Shop   Shop                `gorm:"foreignKey:ShopID" json:"-"`
	Record *VerificationRecord `gorm:"foreignKey:RecordID" json:"-"`
}

// IsTerminal reports whether the session can never change again.
func (s *VerificationSession) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusExpired
}

// IsExpiredAt reports whether the session TTL has elapsed at the given time.
func (s *VerificationSession) IsExpiredAt(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// CanTransitionTo enforces the forward-only state machine
// pending -> paired -> completed, with expired reachable from any
// non-terminal state. No transition ever leaves a terminal state.
func (s *VerificationSession) CanTransitionTo(next string) bool {
	if s.IsTerminal() {
		return false
	}
	if next == SessionStatusExpired {
		return true
	}
	cur, okCur := sessionStatusRank[s.Status]
	target, okNext := sessionStatusRank[next]
	if !okCur || !okNext {
		return false
	}
	return target > cur
}
