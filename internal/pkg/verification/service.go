package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/app/repository"
	"github.com/JonasWeber/AgeGuard/internal/pkg/agecheck"
	"github.com/JonasWeber/AgeGuard/internal/pkg/env"
	"github.com/JonasWeber/AgeGuard/internal/pkg/wallet"
)

// DefaultSessionTTL bounds how long a visitor has to finish the check.
const DefaultSessionTTL = 30 * time.Minute

// ErrPairingTokenInvalid is returned when no pairable session carries the
// presented token.
var ErrPairingTokenInvalid = errors.New("pairing token is invalid")

// SessionView is the storefront-facing snapshot of a session.
type SessionView struct {
	UUID        string     `json:"uuid"`
	Status      string     `json:"status"`
	ExpiresAt   time.Time  `json:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Verified    *bool      `json:"verified,omitempty"`
	Method      string     `json:"method,omitempty"`
	Detail      string     `json:"detail,omitempty"`
}

// Service is the session manager. It owns session lifecycle and billing;
// the per-method mechanics live in the adapters it dispatches to.
type Service struct {
	shops    repository.ShopRepository
	sessions repository.SessionRepository
	records  repository.RecordRepository
	adapters *Registry
	billing  *wallet.Service
	ttl      time.Duration
	now      func() time.Time
}

func NewService(repos *repository.Repositories, adapters *Registry, billing *wallet.Service, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Service{
		shops:    repos.Shop,
		sessions: repos.Session,
		records:  repos.Record,
		adapters: adapters,
		billing:  billing,
		ttl:      ttl,
		now:      time.Now,
	}
}

// NewServiceFromDB wires the full method registry with the real upstream
// clients and the redis-backed sample store.
func NewServiceFromDB(db *gorm.DB) *Service {
	repos := repository.NewRepositories(db)
	decider := agecheck.ConfigFromEnv()
	registry := NewRegistry(
		NewBankIDAdapter(repos.Record, NewIdentityClientFromEnv(), decider),
		NewOCRAdapter(repos.Record, NewOCRClientFromEnv(), decider),
		NewFaceScanAdapter(repos.Record, nil, FaceScanConfigFromEnv(), decider),
		NewRevalidateAdapterFromEnv(repos.Record),
		NewCrossDeviceAdapter(repos.Session),
	)
	ttl := env.GetEnvDuration("SESSION_TTL", DefaultSessionTTL)
	return NewService(repos, registry, wallet.NewServiceFromDB(db), ttl)
}

// CreateSession opens a fresh pending session for an active shop.
func (s *Service) CreateSession(ctx context.Context, shopUUID string) (*models.VerificationSession, error) {
	_ = ctx
	shop, err := s.shops.GetByUUID(shopUUID)
	if err != nil {
		return nil, ErrShopNotFound
	}
	if !shop.IsActive() {
		return nil, ErrShopInactive
	}

	session := &models.VerificationSession{
		UUID:      uuid.New().String(),
		ShopID:    shop.ID,
		Status:    models.SessionStatusPending,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, err
	}
	log.Infof("[Verification] Session %s opened for shop %s", session.UUID, shop.UUID)
	return session, nil
}

// GetSessionStatus returns the session snapshot. An elapsed TTL is made
// durable on first observation, so the caller never sees a live session
// past its deadline. An expired session still yields its snapshot, but
// together with ErrSessionExpired so callers can report it distinctly.
func (s *Service) GetSessionStatus(ctx context.Context, sessionUUID string) (*SessionView, error) {
	session, err := s.loadSession(ctx, sessionUUID)
	if err != nil && !errors.Is(err, ErrSessionExpired) {
		return nil, err
	}
	expiredErr := err

	view := &SessionView{
		UUID:        session.UUID,
		Status:      session.Status,
		ExpiresAt:   session.ExpiresAt,
		CompletedAt: session.CompletedAt,
	}
	if session.RecordID != nil {
		record, rerr := s.records.GetByID(*session.RecordID)
		if rerr == nil {
			view.Method = string(record.Method)
			view.Detail = record.Detail
			if record.IsTerminal() {
				verified := record.IsVerified()
				view.Verified = &verified
			}
		}
	}
	return view, expiredErr
}

// PairSession claims a session from a secondary device. Pairing is a
// one-way step; a claimed or finished session cannot be claimed again.
func (s *Service) PairSession(ctx context.Context, pairingToken string) (*models.VerificationSession, error) {
	_ = ctx
	session, err := s.sessions.GetByPairingToken(pairingToken)
	if err != nil {
		return nil, ErrPairingTokenInvalid
	}
	if session.IsExpiredAt(s.now()) {
		if merr := s.sessions.MarkExpired(session.ID); merr != nil {
			log.Errorf("[Verification] Could not expire session %s: %v", session.UUID, merr)
		}
		return nil, ErrSessionExpired
	}

	moved, err := s.sessions.TransitionStatus(session.ID, models.SessionStatusPending, models.SessionStatusPaired)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrPairingTokenInvalid
	}
	session.Status = models.SessionStatusPaired
	return session, nil
}

// StartVerification dispatches a method start and, when a session is
// given, binds the produced record to it. A revalidation hit completes
// the session on the spot.
func (s *Service) StartVerification(ctx context.Context, shopUUID string, method models.VerificationMethod, in StartInput) (*StartResult, error) {
	shop, err := s.shops.GetByUUID(shopUUID)
	if err != nil {
		return nil, ErrShopNotFound
	}
	if !shop.IsActive() {
		return nil, ErrShopInactive
	}

	adapter, err := s.adapters.Get(method)
	if err != nil {
		return nil, err
	}

	var session *models.VerificationSession
	if in.SessionUUID != "" {
		session, err = s.loadSession(ctx, in.SessionUUID)
		if err != nil {
			return nil, err
		}
	}

	result, err := adapter.Initiate(ctx, shop, in)
	if err != nil {
		return nil, err
	}

	if session != nil && result.Record != nil {
		if err := s.sessions.AttachRecord(session.ID, result.Record.ID); err != nil {
			return nil, err
		}
		moved, err := s.sessions.TransitionStatus(session.ID, models.SessionStatusPending, models.SessionStatusPaired)
		if err != nil {
			return nil, err
		}
		if moved {
			session.Status = models.SessionStatusPaired
		}
		if result.Record.IsTerminal() {
			s.settleSession(ctx, session, result.Record)
		}
	}
	if result.Record != nil && result.Record.Status == models.RecordStatusCompleted {
		// Revalidation concludes at start time and is billed right here.
		s.bill(ctx, result.Record)
	}
	return result, nil
}

// AttachVerification binds an existing record to a session after the
// fact, the cross-device case where the secondary device ran the method
// without knowing the session. A record that already carries a verified
// outcome completes the session immediately.
func (s *Service) AttachVerification(ctx context.Context, sessionUUID, recordUUID string) (*models.VerificationSession, error) {
	session, err := s.loadSession(ctx, sessionUUID)
	if err != nil {
		return nil, err
	}
	record, err := s.records.GetByUUID(recordUUID)
	if err != nil {
		return nil, ErrRecordNotFound
	}
	if record.ShopID != session.ShopID {
		return nil, ErrRecordNotFound
	}

	if err := s.sessions.AttachRecord(session.ID, record.ID); err != nil {
		return nil, err
	}
	moved, err := s.sessions.TransitionStatus(session.ID, models.SessionStatusPending, models.SessionStatusPaired)
	if err != nil {
		return nil, err
	}
	if moved {
		session.Status = models.SessionStatusPaired
	}
	if record.IsTerminal() {
		s.settleSession(ctx, session, record)
		if record.IsVerified() {
			session.Status = models.SessionStatusCompleted
		}
	}
	return session, nil
}

// ResolveVerification feeds evidence into the record's method adapter and
// advances the owning session on a successful outcome.
func (s *Service) ResolveVerification(ctx context.Context, method models.VerificationMethod, recordUUID string, ev Evidence) (*ResolveResult, error) {
	record, err := s.records.GetByUUID(recordUUID)
	if err != nil {
		return nil, ErrRecordNotFound
	}
	if record.Method != method {
		return nil, ErrUnknownMethod
	}

	adapter, err := s.adapters.Get(method)
	if err != nil {
		return nil, err
	}

	result, err := adapter.Resolve(ctx, record, ev)
	if err != nil {
		return nil, err
	}
	if !result.Done || result.AlreadyTerminal {
		return result, nil
	}

	session, serr := s.sessions.GetByRecordID(record.ID)
	if serr == nil {
		if session.IsExpiredAt(s.now()) && !session.IsTerminal() {
			// The outcome is on file but arrived too late to count.
			if merr := s.sessions.MarkExpired(session.ID); merr != nil {
				log.Errorf("[Verification] Could not expire session %s: %v", session.UUID, merr)
			}
			result.Moot = true
		} else {
			s.settleSession(ctx, session, result.Record)
		}
	}

	if result.Record.Status == models.RecordStatusCompleted {
		s.bill(ctx, result.Record)
	}
	return result, nil
}

// CancelVerification drops in-progress live-capture state. Only face scan
// has anything to cancel; every other method either finished already or
// holds no buffered state.
func (s *Service) CancelVerification(ctx context.Context, recordUUID string) error {
	_ = ctx
	record, err := s.records.GetByUUID(recordUUID)
	if err != nil {
		return ErrRecordNotFound
	}
	adapter, err := s.adapters.Get(record.Method)
	if err != nil {
		return err
	}
	if fs, ok := adapter.(*FaceScanAdapter); ok {
		return fs.Cancel(record)
	}
	return nil
}

// loadSession fetches a session and makes an elapsed TTL durable before
// anyone acts on it.
func (s *Service) loadSession(ctx context.Context, sessionUUID string) (*models.VerificationSession, error) {
	_ = ctx
	session, err := s.sessions.GetByUUID(sessionUUID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if session.Status == models.SessionStatusExpired {
		return session, ErrSessionExpired
	}
	if !session.IsTerminal() && session.IsExpiredAt(s.now()) {
		if merr := s.sessions.MarkExpired(session.ID); merr != nil {
			return nil, merr
		}
		session.Status = models.SessionStatusExpired
		return session, ErrSessionExpired
	}
	return session, nil
}

// settleSession moves the session to completed when the record verified
// the visitor. A failed attempt leaves the session paired so the visitor
// can try another method before the TTL runs out.
func (s *Service) settleSession(ctx context.Context, session *models.VerificationSession, record *models.VerificationRecord) {
	_ = ctx
	if !record.IsVerified() {
		return
	}
	moved, err := s.sessions.TransitionStatus(session.ID, session.Status, models.SessionStatusCompleted)
	if err != nil {
		log.Errorf("[Verification] Could not complete session %s: %v", session.UUID, err)
		return
	}
	if moved {
		log.Infof("[Verification] Session %s completed via %s", session.UUID, record.Method)
	}
}

// bill books the method price against the shop's company wallet. Provider
// errors are not billed; only records that actually completed are.
func (s *Service) bill(ctx context.Context, record *models.VerificationRecord) {
	shop, err := s.shops.GetByID(record.ShopID)
	if err != nil {
		log.Errorf("[Verification] Billing skipped, shop %d not found: %v", record.ShopID, err)
		return
	}
	price := models.MethodPrice(record.Method)
	if price <= 0 {
		return
	}
	desc := fmt.Sprintf("verification %s via %s", record.UUID, record.Method)
	if _, err := s.billing.RecordDebit(ctx, shop.CompanyID, price, desc); err != nil {
		log.Errorf("[Verification] Could not bill record %s: %v", record.UUID, err)
	}
}
