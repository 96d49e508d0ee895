package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/app/repository"
	"github.com/JonasWeber/AgeGuard/internal/pkg/constants"
	"github.com/JonasWeber/AgeGuard/internal/pkg/env"
	"github.com/JonasWeber/AgeGuard/internal/pkg/token"
)

// ErrSessionRequired is returned when a session-bound method is started
// without a session.
var ErrSessionRequired = errors.New("verification session is required")

// CrossDeviceAdapter hands the check off to a second device. It mints a
// pairing token for the session and returns the URL the user opens on
// their phone; whichever method they pick over there produces the actual
// record.
type CrossDeviceAdapter struct {
	sessions repository.SessionRepository
}

func NewCrossDeviceAdapter(sessions repository.SessionRepository) *CrossDeviceAdapter {
	return &CrossDeviceAdapter{sessions: sessions}
}

func (a *CrossDeviceAdapter) Method() models.VerificationMethod {
	return models.MethodCrossDevice
}

// Initiate binds a fresh pairing token to the session. Repeating the call
// rotates the token; only the latest one claims the session.
func (a *CrossDeviceAdapter) Initiate(ctx context.Context, shop *models.Shop, in StartInput) (*StartResult, error) {
	_ = ctx
	_ = shop
	if in.SessionUUID == "" {
		return nil, ErrSessionRequired
	}

	session, err := a.sessions.GetByUUID(in.SessionUUID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if session.IsTerminal() {
		return nil, ErrSessionExpired
	}

	pairingToken, err := token.Generate(token.PairingTokenLength)
	if err != nil {
		return nil, err
	}
	if err := a.sessions.SetPairingToken(session.ID, pairingToken); err != nil {
		return nil, err
	}

	domain := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:8080")
	return &StartResult{
		PairingURL: fmt.Sprintf("%s%s/%s", domain, constants.PairingPathPrefix, pairingToken),
	}, nil
}

// Resolve never applies; the paired device resolves through the method it
// actually runs.
func (a *CrossDeviceAdapter) Resolve(ctx context.Context, record *models.VerificationRecord, ev Evidence) (*ResolveResult, error) {
	_ = ctx
	_ = record
	_ = ev
	return nil, ErrEvidenceInvalid
}
