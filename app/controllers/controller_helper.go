package controllers

import (
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/internal/pkg/database"
	"github.com/JonasWeber/AgeGuard/internal/pkg/middleware"
	"github.com/JonasWeber/AgeGuard/internal/pkg/verification"
	"github.com/JonasWeber/AgeGuard/internal/pkg/wallet"
)

var (
	verificationSvcOnce sync.Once
	verificationSvc     *verification.Service

	walletSvcOnce sync.Once
	walletSvc     *wallet.Service
)

// verificationService lazily wires the session manager against the global
// database handle.
func verificationService() *verification.Service {
	verificationSvcOnce.Do(func() {
		verificationSvc = verification.NewServiceFromDB(database.GetDB())
	})
	return verificationSvc
}

func walletService() *wallet.Service {
	walletSvcOnce.Do(func() {
		walletSvc = wallet.NewServiceFromDB(database.GetDB())
	})
	return walletSvc
}

// SetVerificationService replaces the lazy singleton, used by tests.
func SetVerificationService(svc *verification.Service) {
	verificationSvcOnce.Do(func() {})
	verificationSvc = svc
}

// SetWalletService replaces the lazy singleton, used by tests.
func SetWalletService(svc *wallet.Service) {
	walletSvcOnce.Do(func() {})
	walletSvc = svc
}

// requireShop returns the authenticated shop or writes a 401.
func requireShop(c *fiber.Ctx) (*models.Shop, error) {
	shop := middleware.ShopFromContext(c)
	if shop == nil {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing shop authentication"})
	}
	return shop, nil
}
