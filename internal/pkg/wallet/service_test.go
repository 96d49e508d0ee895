package wallet

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/internal/pkg/bank"
)

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

func (r *memCompanyRepo) balance(id uint) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.companies[id].WalletBalance
}

type memWalletRepo struct {
	mu        sync.Mutex
	seq       uint
	txns      map[string]*models.WalletTransaction
	companies *memCompanyRepo
	// settleCalls counts how often a settlement actually happened, not
	// how often it was attempted.
	settleCalls int
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
	r.settleCalls++
	r.companies.mu.Lock()
	if c, ok := r.companies.companies[tx.CompanyID]; ok {
		c.WalletBalance += tx.Amount
	}
	r.companies.mu.Unlock()
	return true, nil
}

type stubFeed struct {
	mu    sync.Mutex
	lines []bank.StatementLine
	err   error
	calls int
}

func (f *stubFeed) ListTransactions(ctx context.Context, from, to time.Time) ([]bank.StatementLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.lines, nil
}

func (f *stubFeed) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

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

type walletFixture struct {
	companies *memCompanyRepo
	wallets   *memWalletRepo
	feed      *stubFeed
	locks     *memLocker
	service   *Service
	company   *models.Company
}

func newWalletFixture(t *testing.T) *walletFixture {
	t.Helper()
	f := &walletFixture{
		companies: newMemCompanyRepo(),
		feed:      &stubFeed{},
		locks:     newMemLocker(),
	}
	f.wallets = newMemWalletRepo(f.companies)
	f.company = &models.Company{Name: "Acme GmbH", WalletBalance: 100}
	require.NoError(t, f.companies.Create(f.company))
	f.service = NewService(f.wallets, f.companies, f.feed, f.locks)
	return f
}

func TestRequestTopUp(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()

	tx, err := f.service.RequestTopUp(ctx, f.company.ID, 1000)
	require.NoError(t, err)
	assert.NotEmpty(t, tx.Reference)
	assert.Equal(t, models.TransactionTypeCredit, tx.Type)
	assert.Equal(t, models.TransactionStatusPending, tx.Status)
	assert.Equal(t, int64(1000), tx.Amount)

	// The balance moves only on settlement, never on request.
	assert.Equal(t, int64(100), f.companies.balance(f.company.ID))
}

func TestRequestTopUpValidation(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()

	_, err := f.service.RequestTopUp(ctx, f.company.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.service.RequestTopUp(ctx, f.company.ID, -5)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.service.RequestTopUp(ctx, 999, 100)
	assert.ErrorIs(t, err, ErrCompanyNotFound)
}

func TestReconcileExactMatchSettlesOnce(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()

	tx, err := f.service.RequestTopUp(ctx, f.company.ID, 1000)
	require.NoError(t, err)

	f.feed.lines = []bank.StatementLine{
		{Reference: "unrelated", Amount: 50, Currency: "EUR"},
		{Reference: tx.Reference, Amount: 1000, Currency: "EUR"},
	}

	status, err := f.service.Reconcile(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, ReconcileCompleted, status)
	assert.Equal(t, int64(1100), f.companies.balance(f.company.ID))

	// A second pass sees the settled credit and never hits the feed again.
	feedCalls := f.feed.callCount()
	status, err = f.service.Reconcile(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, ReconcileCompleted, status)
	assert.Equal(t, feedCalls, f.feed.callCount())
	assert.Equal(t, int64(1100), f.companies.balance(f.company.ID))
	assert.Equal(t, 1, f.wallets.settleCalls)
}

func TestReconcileConcurrentInvocationsCreditOnce(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()

	tx, err := f.service.RequestTopUp(ctx, f.company.ID, 1000)
	require.NoError(t, err)
	f.feed.lines = []bank.StatementLine{{Reference: tx.Reference, Amount: 1000, Currency: "EUR"}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Reconcile(ctx, tx.Reference)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.wallets.settleCalls)
	assert.Equal(t, int64(1100), f.companies.balance(f.company.ID))
}

func TestReconcileAmountMismatchStaysPending(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()

	tx, err := f.service.RequestTopUp(ctx, f.company.ID, 1000)
	require.NoError(t, err)
	f.feed.lines = []bank.StatementLine{{Reference: tx.Reference, Amount: 999, Currency: "EUR"}}

	status, err := f.service.Reconcile(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, ReconcilePending, status)
	assert.Equal(t, int64(100), f.companies.balance(f.company.ID))

	stored, err := f.service.GetStatus(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, stored.Status)
}

func TestReconcileNoMatchingLineStaysPending(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()

	tx, err := f.service.RequestTopUp(ctx, f.company.ID, 1000)
	require.NoError(t, err)
	f.feed.lines = []bank.StatementLine{{Reference: "someone-else", Amount: 1000, Currency: "EUR"}}

	status, err := f.service.Reconcile(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, ReconcilePending, status)
}

func TestReconcileLockBusyReportsPending(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()

	tx, err := f.service.RequestTopUp(ctx, f.company.ID, 1000)
	require.NoError(t, err)
	f.feed.lines = []bank.StatementLine{{Reference: tx.Reference, Amount: 1000, Currency: "EUR"}}

	acquired, err := f.locks.Acquire("wallet_settle:"+tx.Reference, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	status, err := f.service.Reconcile(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, ReconcilePending, status)
	// The busy path never contacts the bank.
	assert.Equal(t, 0, f.feed.callCount())
}

func TestReconcileFeedErrorPropagates(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()

	tx, err := f.service.RequestTopUp(ctx, f.company.ID, 1000)
	require.NoError(t, err)
	f.feed.err = bank.ErrRateLimited

	_, err = f.service.Reconcile(ctx, tx.Reference)
	assert.ErrorIs(t, err, bank.ErrRateLimited)
}

func TestReconcileUnknownReference(t *testing.T) {
	f := newWalletFixture(t)

	_, err := f.service.Reconcile(context.Background(), "no-such-reference")
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestRecordDebit(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()

	tx, err := f.service.RecordDebit(ctx, f.company.ID, 20, "verification abc via bankid")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeDebit, tx.Type)
	assert.Equal(t, models.TransactionStatusCompleted, tx.Status)
	assert.NotNil(t, tx.SettledAt)

	_, err = f.service.RecordDebit(ctx, f.company.ID, 0, "free")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestReconcileRejectsDebitReference(t *testing.T) {
	f := newWalletFixture(t)
	ctx := context.Background()

	tx, err := f.service.RecordDebit(ctx, f.company.ID, 20, "verification abc via bankid")
	require.NoError(t, err)
	// Debits settle immediately, so the reference reports completed.
	status, err := f.service.Reconcile(ctx, tx.Reference)
	require.NoError(t, err)
	assert.Equal(t, ReconcileCompleted, status)
}
