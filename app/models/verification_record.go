package models

import (
	"time"
)

// VerificationMethod names one verification technique.
type VerificationMethod string

const (
	MethodBankID      VerificationMethod = "bankid"
	MethodOCR         VerificationMethod = "ocr"
	MethodFaceScan    VerificationMethod = "facescan"
	MethodRevalidate  VerificationMethod = "revalidate"
	MethodCrossDevice VerificationMethod = "crossdevice"
)

const (
	RecordStatusPending   = "pending"
	RecordStatusCompleted = "completed"
	RecordStatusError     = "error"
)

const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultUncertain = "uncertain"
	ResultError     = "error"
)

// methodPrices are whole currency units charged per attempt. Revalidation
// is deliberately cheaper than any fresh method.
var methodPrices = map[VerificationMethod]int64{
	MethodBankID:     20,
	MethodOCR:        10,
	MethodFaceScan:   5,
	MethodRevalidate: 1,
}

// MethodPrice returns the price for one attempt via the given method.
// Cross-device pairing itself is free; the method executed on the
// secondary device is what gets billed.
func MethodPrice(method VerificationMethod) int64 {
	return methodPrices[method]
}

// IsKnownMethod reports whether the method tag names a registered technique.
func IsKnownMethod(method VerificationMethod) bool {
	switch method {
	case MethodBankID, MethodOCR, MethodFaceScan, MethodRevalidate, MethodCrossDevice:
		return true
	default:
		return false
	}
}

// VerificationRecord is the durable outcome (or in-progress marker) of one
// verification attempt via one method. The result is written exactly once
// and never overwritten; records are never deleted.
type VerificationRecord struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	UUID           string             `gorm:"type:varchar(36);uniqueIndex;not null" json:"uuid"`
	ShopID         uint               `gorm:"not null;index" json:"shop_id"`
	Method         VerificationMethod `gorm:"type:varchar(20);not null;index" json:"method"`
	Status         string             `gorm:"type:varchar(20);default:'pending';index" json:"status"`
	Result         string             `gorm:"type:varchar(20);default:null" json:"result,omitempty"`
	Price          int64              `gorm:"not null" json:"price"`
	Detail         string             `gorm:"type:text" json:"detail,omitempty"`
	UserIdentifier string             `gorm:"type:varchar(100);default:null;index" json:"user_identifier,omitempty"`
	CreatedAt      time.Time          `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time          `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt    *time.Time         `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`

	Shop Shop `gorm:"foreignKey:ShopID" json:"-"`
}

// IsTerminal reports whether the record already carries its final outcome.
func (r *VerificationRecord) IsTerminal() bool {
	return r.Status == RecordStatusCompleted || r.Status == RecordStatusError
}

// IsVerified reports whether the attempt ended with a confirmed pass.
func (r *VerificationRecord) IsVerified() bool {
	return r.Status == RecordStatusCompleted && r.Result == ResultSuccess
}
