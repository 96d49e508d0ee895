package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/JonasWeber/AgeGuard/internal/pkg/verification"
)

// HandleCreateSession opens a new verification session for the
// authenticated shop.
func HandleCreateSession(c *fiber.Ctx) error {
	shop, err := requireShop(c)
	if shop == nil {
		return err
	}

	session, err := verificationService().CreateSession(c.Context(), shop.UUID)
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrShopInactive):
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Shop is not active"})
		case errors.Is(err, verification.ErrShopNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Shop not found"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create session"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"uuid":       session.UUID,
		"status":     session.Status,
		"expires_at": session.ExpiresAt,
	})
}

// HandleGetSession returns the current session state. Reading an elapsed
// session reports it expired; the stored state never reverts.
func HandleGetSession(c *fiber.Ctx) error {
	shop, err := requireShop(c)
	if shop == nil {
		return err
	}

	sessionUUID := c.Params("id")
	view, err := verificationService().GetSessionStatus(c.Context(), sessionUUID)
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrSessionNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Session not found"})
		case errors.Is(err, verification.ErrSessionExpired):
			return c.Status(fiber.StatusGone).JSON(view)
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load session"})
		}
	}

	return c.JSON(view)
}

type attachVerificationRequest struct {
	RecordUUID string `json:"record_uuid"`
}

// HandleAttachVerification binds an existing verification record to a
// session, used when the record was produced on another device.
func HandleAttachVerification(c *fiber.Ctx) error {
	shop, err := requireShop(c)
	if shop == nil {
		return err
	}

	var req attachVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	session, err := verificationService().AttachVerification(c.Context(), c.Params("id"), req.RecordUUID)
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrSessionNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Session not found"})
		case errors.Is(err, verification.ErrSessionExpired):
			return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "gone", "message": "Session has expired"})
		case errors.Is(err, verification.ErrRecordNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Verification record not found"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to attach verification"})
		}
	}

	return c.JSON(fiber.Map{
		"uuid":   session.UUID,
		"status": session.Status,
	})
}

// HandlePairSession claims a session from a secondary device via its
// pairing token.
func HandlePairSession(c *fiber.Ctx) error {
	token := c.Params("token")

	session, err := verificationService().PairSession(c.Context(), token)
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrSessionExpired):
			return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "gone", "message": "Session has expired"})
		case errors.Is(err, verification.ErrPairingTokenInvalid):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Pairing token is invalid"})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to pair session"})
		}
	}

	return c.JSON(fiber.Map{
		"uuid":   session.UUID,
		"status": session.Status,
	})
}
