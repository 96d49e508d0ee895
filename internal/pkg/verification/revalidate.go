package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/app/repository"
	"github.com/JonasWeber/AgeGuard/internal/pkg/env"
)

// DefaultRevalidateWindow is how far back a prior successful check is
// trusted for re-use.
const DefaultRevalidateWindow = 365 * 24 * time.Hour

// ErrUserIdentifierRequired is returned when a lookup-based method is
// started without a stable user identifier.
var ErrUserIdentifierRequired = errors.New("user identifier is required")

// RevalidateAdapter answers from history instead of running a new check.
// A successful record inside the window is copied forward at a fraction of
// the original price; the copy is as trustworthy as its source and carries
// a pointer back to it.
type RevalidateAdapter struct {
	records repository.RecordRepository
	window  time.Duration
	now     func() time.Time
}

func NewRevalidateAdapter(records repository.RecordRepository, window time.Duration) *RevalidateAdapter {
	if window <= 0 {
		window = DefaultRevalidateWindow
	}
	return &RevalidateAdapter{records: records, window: window, now: time.Now}
}

// NewRevalidateAdapterFromEnv reads the trust window from
// REVALIDATE_WINDOW (Go duration syntax).
func NewRevalidateAdapterFromEnv(records repository.RecordRepository) *RevalidateAdapter {
	return NewRevalidateAdapter(records, env.GetEnvDuration("REVALIDATE_WINDOW", DefaultRevalidateWindow))
}

func (a *RevalidateAdapter) Method() models.VerificationMethod {
	return models.MethodRevalidate
}

// Initiate resolves in one step. A hit creates an already-completed
// success record; a miss creates nothing at all, so the caller can fall
// back to a full method without having paid anything.
func (a *RevalidateAdapter) Initiate(ctx context.Context, shop *models.Shop, in StartInput) (*StartResult, error) {
	_ = ctx
	if in.UserIdentifier == "" {
		return nil, ErrUserIdentifierRequired
	}

	notBefore := a.now().Add(-a.window)
	prior, err := a.records.LatestSuccessByUserIdentifier(in.UserIdentifier, notBefore)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && prior == nil) {
		verified := false
		return &StartResult{Verified: &verified}, nil
	}
	if err != nil {
		return nil, err
	}

	completedAt := a.now()
	record := &models.VerificationRecord{
		UUID:           uuid.New().String(),
		ShopID:         shop.ID,
		UserIdentifier: in.UserIdentifier,
		Method:         models.MethodRevalidate,
		Status:         models.RecordStatusCompleted,
		Result:         models.ResultSuccess,
		Detail:         fmt.Sprintf("revalidated from record %s", prior.UUID),
		Price:          models.MethodPrice(models.MethodRevalidate),
		CompletedAt:    &completedAt,
	}
	if err := a.records.Create(record); err != nil {
		return nil, err
	}

	verified := true
	return &StartResult{Record: record, Verified: &verified}, nil
}

// Resolve never applies; the method finishes inside Initiate.
func (a *RevalidateAdapter) Resolve(ctx context.Context, record *models.VerificationRecord, ev Evidence) (*ResolveResult, error) {
	_ = ctx
	_ = ev
	if record.IsTerminal() {
		return &ResolveResult{Record: record, Done: true, AlreadyTerminal: true}, nil
	}
	return nil, ErrEvidenceInvalid
}
