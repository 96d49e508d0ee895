package jobqueue

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/JonasWeber/AgeGuard/app/repository"
	"github.com/JonasWeber/AgeGuard/internal/pkg/database"
	"github.com/JonasWeber/AgeGuard/internal/pkg/env"
	"github.com/JonasWeber/AgeGuard/internal/pkg/metrics/counter"
	"github.com/JonasWeber/AgeGuard/internal/pkg/wallet"
)

const (
	// DefaultSweepBatchSize bounds how many pending top-ups one sweep
	// enqueues.
	DefaultSweepBatchSize = 100
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue       *Queue
	wallets     repository.WalletRepository
	sweepTicker *time.Ticker
	flushTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := env.GetEnvInt("JOBQUEUE_WORKERS", 3)
		db := database.GetDB()

		globalManager = &Manager{
			queue:   NewQueue(workerCount, wallet.NewServiceFromDB(db)),
			wallets: repository.NewWalletRepository(db),
			stopCh:  make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Scheduled reconciliation sweep over all pending top-ups
	sweepInterval := env.GetEnvDuration("WALLET_SWEEP_INTERVAL", 5*time.Minute)
	m.sweepTicker = time.NewTicker(sweepInterval)
	m.wg.Add(1)
	go m.sweepWorker(sweepInterval)

	// Periodic drain of the buffered shop counters into the database
	flushInterval := env.GetEnvDuration("COUNTER_FLUSH_INTERVAL", time.Minute)
	m.flushTicker = time.NewTicker(flushInterval)
	m.wg.Add(1)
	go m.counterFlushWorker(flushInterval)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}
	if m.flushTicker != nil {
		m.flushTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// sweepWorker periodically enqueues a reconcile job for every pending
// top-up, so payments are matched even when nobody polls the reference.
func (m *Manager) sweepWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started reconcile sweep worker (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Reconcile sweep worker stopping")
			return
		case <-m.sweepTicker.C:
			if err := m.enqueuePendingReconciles(); err != nil {
				log.Errorf("[JobQueue Manager] Reconcile sweep error: %v", err)
			}
		}
	}
}

// enqueuePendingReconciles enqueues one reconcile job per pending top-up.
func (m *Manager) enqueuePendingReconciles() error {
	pending, err := m.wallets.ListPendingCredits(DefaultSweepBatchSize)
	if err != nil {
		return err
	}
	for _, tx := range pending {
		payload := WalletReconcileJobPayload{Reference: tx.Reference}
		if _, err := m.queue.EnqueueJob(JobTypeWalletReconcile, payload.ToMap()); err != nil {
			log.Errorf("[JobQueue Manager] Failed to enqueue reconcile for %s: %v", tx.Reference, err)
		}
	}
	if len(pending) > 0 {
		log.Infof("[JobQueue Manager] Enqueued %d reconcile jobs", len(pending))
	}
	return nil
}

// counterFlushWorker periodically moves buffered verification counters
// from Redis into the shops table. A final flush runs on shutdown so
// nothing buffered is lost.
func (m *Manager) counterFlushWorker(interval time.Duration) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started counter flush worker (interval: %s)", interval)

	for {
		select {
		case <-m.stopCh:
			if err := counter.FlushAll(); err != nil {
				log.Errorf("[JobQueue Manager] Final counter flush error: %v", err)
			}
			log.Info("[JobQueue Manager] Counter flush worker stopping")
			return
		case <-m.flushTicker.C:
			if err := counter.FlushAll(); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
