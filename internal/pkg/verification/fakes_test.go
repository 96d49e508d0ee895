package verification

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/app/repository"
	"github.com/JonasWeber/AgeGuard/internal/pkg/agecheck"
	"github.com/JonasWeber/AgeGuard/internal/pkg/bank"
	"github.com/JonasWeber/AgeGuard/internal/pkg/wallet"
)

// In-memory repository doubles mirroring the CAS semantics of the real
// GORM implementations.

type memShopRepo struct {
	mu    sync.Mutex
	seq   uint
	shops map[uint]*models.Shop
}

func newMemShopRepo() *memShopRepo {
	return &memShopRepo{shops: make(map[uint]*models.Shop)}
}

func (r *memShopRepo) Create(shop *models.Shop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	shop.ID = r.seq
	cp := *shop
	r.shops[shop.ID] = &cp
	return nil
}

func (r *memShopRepo) GetByID(id uint) (*models.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.shops[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memShopRepo) GetByUUID(uuid string) (*models.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.shops {
		if s.UUID == uuid {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memShopRepo) GetByAPITokenHash(hash string) (*models.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.shops {
		if s.APITokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memShopRepo) Update(shop *models.Shop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *shop
	r.shops[shop.ID] = &cp
	return nil
}

func (r *memShopRepo) List(offset, limit int) ([]models.Shop, error) {
	return nil, nil
}

func (r *memShopRepo) Count() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.shops)), nil
}

type memCompanyRepo struct {
	mu        sync.Mutex
	seq       uint
	companies map[uint]*models.Company
}

func newMemCompanyRepo() *memCompanyRepo {
	return &memCompanyRepo{companies: make(map[uint]*models.Company)}
}

func (r *memCompanyRepo) Create(company *models.Company) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	company.ID = r.seq
	cp := *company
	r.companies[company.ID] = &cp
	return nil
}

func (r *memCompanyRepo) GetByID(id uint) (*models.Company, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.companies[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memCompanyRepo) Update(company *models.Company) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *company
	r.companies[company.ID] = &cp
	return nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	seq      uint
	sessions map[uint]*models.VerificationSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[uint]*models.VerificationSession)}
}

func (r *memSessionRepo) Create(session *models.VerificationSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	session.ID = r.seq
	cp := *session
	r.sessions[session.ID] = &cp
	return nil
}

func (r *memSessionRepo) GetByUUID(uuid string) (*models.VerificationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.UUID == uuid {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memSessionRepo) GetByPairingToken(token string) (*models.VerificationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if token != "" && s.PairingToken == token {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memSessionRepo) GetByRecordID(recordID uint) (*models.VerificationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RecordID != nil && *s.RecordID == recordID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memSessionRepo) SetPairingToken(id uint, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.PairingToken = token
	return nil
}

func (r *memSessionRepo) TransitionStatus(id uint, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if s.Status != from {
		return false, nil
	}
	s.Status = to
	if to == models.SessionStatusCompleted {
		now := time.Now()
		s.CompletedAt = &now
	}
	return true, nil
}

func (r *memSessionRepo) AttachRecord(id uint, recordID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.RecordID = &recordID
	return nil
}

func (r *memSessionRepo) MarkExpired(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if s.Status == models.SessionStatusCompleted || s.Status == models.SessionStatusExpired {
		return nil
	}
	s.Status = models.SessionStatusExpired
	return nil
}

type memRecordRepo struct {
	mu      sync.Mutex
	seq     uint
	records map[uint]*models.VerificationRecord
}

func newMemRecordRepo() *memRecordRepo {
	return &memRecordRepo{records: make(map[uint]*models.VerificationRecord)}
}

func (r *memRecordRepo) Create(record *models.VerificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	record.ID = r.seq
	record.CreatedAt = time.Now()
	cp := *record
	r.records[record.ID] = &cp
	return nil
}

func (r *memRecordRepo) GetByID(id uint) (*models.VerificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRecordRepo) GetByUUID(uuid string) (*models.VerificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.UUID == uuid {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRecordRepo) Complete(id uint, status, result, detail string) (*models.VerificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if rec.Status != models.RecordStatusPending {
		return nil, repository.ErrAlreadyTerminal
	}
	now := time.Now()
	rec.Status = status
	rec.Result = result
	rec.Detail = detail
	rec.CompletedAt = &now
	cp := *rec
	return &cp, nil
}

func (r *memRecordRepo) LatestSuccessByUserIdentifier(userIdentifier string, notBefore time.Time) (*models.VerificationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *models.VerificationRecord
	for _, rec := range r.records {
		if rec.UserIdentifier != userIdentifier {
			continue
		}
		if rec.Status != models.RecordStatusCompleted || rec.Result != models.ResultSuccess {
			continue
		}
		if rec.CreatedAt.Before(notBefore) {
			continue
		}
		if best == nil || rec.CreatedAt.After(best.CreatedAt) {
			best = rec
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *best
	return &cp, nil
}

type memWalletRepo struct {
	mu        sync.Mutex
	seq       uint
	txns      map[string]*models.WalletTransaction
	companies *memCompanyRepo
}

func newMemWalletRepo(companies *memCompanyRepo) *memWalletRepo {
	return &memWalletRepo{txns: make(map[string]*models.WalletTransaction), companies: companies}
}

func (r *memWalletRepo) Create(tx *models.WalletTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	tx.ID = r.seq
	cp := *tx
	r.txns[tx.Reference] = &cp
	return nil
}

func (r *memWalletRepo) GetByReference(reference string) (*models.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx, ok := r.txns[reference]; ok {
		cp := *tx
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memWalletRepo) ListPendingCredits(limit int) ([]models.WalletTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.WalletTransaction
	for _, tx := range r.txns {
		if tx.Type == models.TransactionTypeCredit && tx.Status == models.TransactionStatusPending {
			out = append(out, *tx)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *memWalletRepo) SettleCredit(reference string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txns[reference]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if tx.Type != models.TransactionTypeCredit || tx.Status != models.TransactionStatusPending {
		return false, nil
	}
	now := time.Now()
	tx.Status = models.TransactionStatusCompleted
	tx.SettledAt = &now
	if r.companies != nil {
		r.companies.mu.Lock()
		if c, ok := r.companies.companies[tx.CompanyID]; ok {
			c.WalletBalance += tx.Amount
		}
		r.companies.mu.Unlock()
	}
	return true, nil
}

// stubFeed serves a fixed statement to the wallet service.
type stubFeed struct {
	lines []bank.StatementLine
	err   error
	calls int
}

func (f *stubFeed) ListTransactions(ctx context.Context, from, to time.Time) ([]bank.StatementLine, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.lines, nil
}

// memLocker is a process-local Locker for tests.
type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]bool)}
}

func (l *memLocker) Acquire(key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *memLocker) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

// fakeIdentityProvider scripts the remote bank-identity provider.
type fakeIdentityProvider struct {
	configured    bool
	birthDate     time.Time
	exchangeErr   error
	birthDateErr  error
	exchangeCalls int
}

func (p *fakeIdentityProvider) Configured() bool {
	return p.configured
}

func (p *fakeIdentityProvider) AuthorizeURLWithState(state string) (string, error) {
	return "https://oidc.bankid.example/auth?state=" + state, nil
}

func (p *fakeIdentityProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	p.exchangeCalls++
	if p.exchangeErr != nil {
		return "", p.exchangeErr
	}
	return "token-" + code, nil
}

func (p *fakeIdentityProvider) GetBirthDate(ctx context.Context, accessToken string) (time.Time, error) {
	if p.birthDateErr != nil {
		return time.Time{}, p.birthDateErr
	}
	return p.birthDate, nil
}

// fakeExtractor scripts OCR text extraction.
type fakeExtractor struct {
	text string
	err  error
}

func (e *fakeExtractor) Extract(ctx context.Context, image []byte) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	return e.text, nil
}

// testEnv bundles the full fake wiring for service-level tests.
type testEnv struct {
	shops     *memShopRepo
	companies *memCompanyRepo
	sessions  *memSessionRepo
	records   *memRecordRepo
	wallets   *memWalletRepo
	provider  *fakeIdentityProvider
	extractor *fakeExtractor
	store     *MemorySampleStore
	service   *Service
	shop      *models.Shop
	company   *models.Company
}

func newTestEnv(ttl time.Duration) *testEnv {
	e := &testEnv{
		shops:     newMemShopRepo(),
		companies: newMemCompanyRepo(),
		sessions:  newMemSessionRepo(),
		records:   newMemRecordRepo(),
		provider:  &fakeIdentityProvider{configured: true, birthDate: time.Date(1990, 3, 15, 0, 0, 0, 0, time.UTC)},
		extractor: &fakeExtractor{},
		store:     NewMemorySampleStore(),
	}
	e.wallets = newMemWalletRepo(e.companies)

	e.company = &models.Company{Name: "Test Company", WalletBalance: 500}
	_ = e.companies.Create(e.company)
	e.shop = &models.Shop{
		UUID:      "shop-uuid-1",
		CompanyID: e.company.ID,
		Name:      "Test Shop",
		Status:    models.ShopStatusActive,
	}
	_ = e.shops.Create(e.shop)

	repos := &repository.Repositories{
		Shop:    e.shops,
		Company: e.companies,
		Session: e.sessions,
		Record:  e.records,
		Wallet:  e.wallets,
	}
	decider := agecheck.DefaultConfig()
	registry := NewRegistry(
		NewBankIDAdapter(e.records, e.provider, decider),
		NewOCRAdapter(e.records, e.extractor, decider),
		NewFaceScanAdapter(e.records, e.store, DefaultFaceScanConfig(), decider),
		NewRevalidateAdapter(e.records, DefaultRevalidateWindow),
		NewCrossDeviceAdapter(e.sessions),
	)
	billing := wallet.NewService(e.wallets, e.companies, &stubFeed{}, newMemLocker())
	e.service = NewService(repos, registry, billing, ttl)
	return e
}
