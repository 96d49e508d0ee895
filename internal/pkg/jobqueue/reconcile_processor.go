package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/JonasWeber/AgeGuard/internal/pkg/bank"
	"github.com/JonasWeber/AgeGuard/internal/pkg/wallet"
)

// Reconciler is the slice of the wallet service the queue needs to settle
// a top-up against the bank statement.
type Reconciler interface {
	Reconcile(ctx context.Context, reference string) (wallet.ReconcileStatus, error)
}

// processWalletReconcileJob runs one reconciliation pass for the referenced
// top-up. A pending outcome is not a failure: the payment simply has not
// shown up on the statement yet, the next sweep will enqueue it again.
func (q *Queue) processWalletReconcileJob(ctx context.Context, job *Job) error {
	payload, err := WalletReconcileJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid wallet reconcile payload: %w", err)
	}
	if payload.Reference == "" {
		return fmt.Errorf("wallet reconcile payload has no reference")
	}
	if q.reconciler == nil {
		return fmt.Errorf("no reconciler configured")
	}

	status, err := q.reconciler.Reconcile(ctx, payload.Reference)
	if err != nil {
		if errors.Is(err, wallet.ErrTransactionNotFound) {
			// The top-up vanished; retrying cannot help.
			log.Warnf("[JobQueue] Reconcile job %s references unknown top-up %s", job.ID, payload.Reference)
			return nil
		}
		if errors.Is(err, bank.ErrRateLimited) {
			return fmt.Errorf("bank gateway rate limited: %w", err)
		}
		return err
	}

	log.Debugf("[JobQueue] Reconcile %s -> %s", payload.Reference, status)
	return nil
}
