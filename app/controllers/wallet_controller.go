package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/JonasWeber/AgeGuard/internal/pkg/bank"
	"github.com/JonasWeber/AgeGuard/internal/pkg/wallet"
)

type topUpRequest struct {
	Amount int64 `json:"amount"`
}

// HandleRequestTopUp creates a pending top-up and returns the bank
// transfer reference for the shop's company.
func HandleRequestTopUp(c *fiber.Ctx) error {
	shop, err := requireShop(c)
	if shop == nil {
		return err
	}

	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	tx, err := walletService().RequestTopUp(c.Context(), shop.CompanyID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, wallet.ErrInvalidAmount):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Amount must be a positive whole number"})
		case errors.Is(err, wallet.ErrCompanyNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Company not found"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create top-up"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"reference": tx.Reference,
		"amount":    tx.Amount,
		"status":    tx.Status,
	})
}

// HandleGetTopUp returns the current state of a top-up by reference.
func HandleGetTopUp(c *fiber.Ctx) error {
	shop, err := requireShop(c)
	if shop == nil {
		return err
	}

	reference := c.Params("reference")
	tx, err := walletService().GetStatus(c.Context(), reference)
	if err != nil {
		if errors.Is(err, wallet.ErrTransactionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Top-up not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load top-up"})
	}
	if tx.CompanyID != shop.CompanyID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Top-up not found"})
	}

	return c.JSON(fiber.Map{
		"reference":  tx.Reference,
		"amount":     tx.Amount,
		"status":     tx.Status,
		"settled_at": tx.SettledAt,
	})
}

// HandleReconcileTopUp runs a user-triggered reconciliation pass against
// the bank statement. Safe to call while the scheduled sweep is running.
func HandleReconcileTopUp(c *fiber.Ctx) error {
	shop, err := requireShop(c)
	if shop == nil {
		return err
	}

	reference := c.Params("reference")
	tx, err := walletService().GetStatus(c.Context(), reference)
	if err != nil {
		if errors.Is(err, wallet.ErrTransactionNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Top-up not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load top-up"})
	}
	if tx.CompanyID != shop.CompanyID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Top-up not found"})
	}

	status, err := walletService().Reconcile(c.Context(), reference)
	if err != nil {
		if errors.Is(err, bank.ErrRateLimited) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "service_unavailable", "message": "Bank gateway is rate limiting, try again later"})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "bad_gateway", "message": "Bank statement lookup failed"})
	}

	return c.JSON(fiber.Map{
		"reference": reference,
		"status":    string(status),
	})
}

// HandleGetWalletBalance returns the company's current prepaid balance.
func HandleGetWalletBalance(c *fiber.Ctx) error {
	shop, err := requireShop(c)
	if shop == nil {
		return err
	}

	company, err := walletService().GetCompany(c.Context(), shop.CompanyID)
	if err != nil {
		if errors.Is(err, wallet.ErrCompanyNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Company not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load balance"})
	}

	return c.JSON(fiber.Map{
		"company_id": company.ID,
		"balance":    company.WalletBalance,
	})
}
