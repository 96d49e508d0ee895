package verification

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/app/repository"
	"github.com/JonasWeber/AgeGuard/internal/pkg/agecheck"
)

var (
	ErrShopNotFound    = errors.New("shop not found")
	ErrShopInactive    = errors.New("shop is not active")
	ErrSessionNotFound = errors.New("verification session not found")
	ErrSessionExpired  = errors.New("verification session has expired")
	ErrUnknownMethod   = errors.New("unknown verification method")
	ErrRecordNotFound  = errors.New("verification record not found")
	ErrEvidenceInvalid = errors.New("evidence is missing or malformed")
)

// StartInput carries the method-neutral parameters of a verification start.
type StartInput struct {
	// SessionUUID links the attempt to a session; optional for direct
	// storefront calls, required for cross-device pairing.
	SessionUUID string
	// UserIdentifier is the caller-supplied identity handle used by the
	// revalidation lookup.
	UserIdentifier string
}

// StartResult is what a method start hands back to the storefront.
type StartResult struct {
	Record *models.VerificationRecord
	// RedirectURL is where the visitor must be sent for redirect-identity.
	RedirectURL string
	// PairingURL is the cross-device code payload for the primary device.
	PairingURL string
	// Verified is set by revalidation, which can conclude at start time.
	Verified *bool
}

// FaceSample is a single detector invocation result for live capture.
type FaceSample struct {
	Age        float64 `json:"age"`
	Confidence float64 `json:"confidence"`
	InFrame    bool    `json:"in_frame"`
}

// Evidence carries the method-specific resolve payload. Exactly one of the
// fields is used depending on the adapter.
type Evidence struct {
	AuthorizationCode string
	DocumentImage     []byte
	Sample            *FaceSample
}

// ResolveResult is the outcome of feeding evidence into an adapter.
type ResolveResult struct {
	Record  *models.VerificationRecord
	Verdict agecheck.Verdict
	// Age is set when the evidence yielded one, in whole years for exact
	// evidence and as a rounded mean for estimation.
	Age *int
	// Done is false while live capture is still accumulating samples.
	Done bool
	// SamplesCollected reports accumulation progress for live capture.
	SamplesCollected int
	// AlreadyTerminal marks an idempotent no-op on a redelivered callback.
	AlreadyTerminal bool
	// Moot is set when the record was written but the owning session had
	// already expired, so the outcome cannot advance it.
	Moot bool
}

// MethodAdapter is the common capability surface of every verification
// technique. Adapters own record creation and terminal completion; session
// transitions stay with the Service.
type MethodAdapter interface {
	Method() models.VerificationMethod
	Initiate(ctx context.Context, shop *models.Shop, in StartInput) (*StartResult, error)
	Resolve(ctx context.Context, record *models.VerificationRecord, ev Evidence) (*ResolveResult, error)
}

// Registry dispatches by method tag instead of duplicating branching logic
// at every call site.
type Registry struct {
	adapters map[models.VerificationMethod]MethodAdapter
}

func NewRegistry(adapters ...MethodAdapter) *Registry {
	r := &Registry{adapters: make(map[models.VerificationMethod]MethodAdapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Method()] = a
	}
	return r
}

// Get returns the adapter for a method tag.
func (r *Registry) Get(method models.VerificationMethod) (MethodAdapter, error) {
	a, ok := r.adapters[method]
	if !ok {
		return nil, ErrUnknownMethod
	}
	return a, nil
}

// newPendingRecord creates and persists the pending record every fresh
// attempt starts with.
func newPendingRecord(records repository.RecordRepository, shop *models.Shop, method models.VerificationMethod, userIdentifier string) (*models.VerificationRecord, error) {
	record := &models.VerificationRecord{
		UUID:           uuid.New().String(),
		ShopID:         shop.ID,
		Method:         method,
		Status:         models.RecordStatusPending,
		Price:          models.MethodPrice(method),
		UserIdentifier: userIdentifier,
	}
	if err := records.Create(record); err != nil {
		return nil, err
	}
	return record, nil
}
