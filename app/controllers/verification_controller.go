package controllers

import (
	"encoding/base64"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/internal/pkg/metrics/counter"
	"github.com/JonasWeber/AgeGuard/internal/pkg/verification"
)

type startVerificationRequest struct {
	SessionUUID    string `json:"session_uuid"`
	UserIdentifier string `json:"user_identifier"`
}

type resolveVerificationRequest struct {
	RecordUUID        string                  `json:"record_uuid"`
	AuthorizationCode string                  `json:"authorization_code,omitempty"`
	DocumentImage     string                  `json:"document_image,omitempty"`
	Sample            *verification.FaceSample `json:"sample,omitempty"`
}

// HandleStartVerification starts a verification attempt via the method
// named in the route.
func HandleStartVerification(c *fiber.Ctx) error {
	shop, err := requireShop(c)
	if shop == nil {
		return err
	}

	method := models.VerificationMethod(c.Params("method"))
	if !models.IsKnownMethod(method) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Unknown verification method"})
	}

	var req startVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	result, err := verificationService().StartVerification(c.Context(), shop.UUID, method, verification.StartInput{
		SessionUUID:    req.SessionUUID,
		UserIdentifier: req.UserIdentifier,
	})
	if err != nil {
		return writeVerificationError(c, err)
	}

	if result.Record != nil {
		if cerr := counter.AddAttempt(shop.ID); cerr != nil {
			log.Warnf("[Verification] Failed to count attempt for shop %d: %v", shop.ID, cerr)
		}
	}

	resp := fiber.Map{}
	if result.Record != nil {
		resp["record_uuid"] = result.Record.UUID
		resp["status"] = result.Record.Status
		resp["price"] = result.Record.Price
	}
	if result.RedirectURL != "" {
		resp["redirect_url"] = result.RedirectURL
	}
	if result.PairingURL != "" {
		resp["pairing_url"] = result.PairingURL
	}
	if result.Verified != nil {
		resp["verified"] = *result.Verified
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// HandleResolveVerification feeds method evidence into a pending attempt.
// For face scan this is called once per detector sample.
func HandleResolveVerification(c *fiber.Ctx) error {
	shop, err := requireShop(c)
	if shop == nil {
		return err
	}

	method := models.VerificationMethod(c.Params("method"))
	if !models.IsKnownMethod(method) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Unknown verification method"})
	}

	var req resolveVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	evidence := verification.Evidence{
		AuthorizationCode: req.AuthorizationCode,
		Sample:            req.Sample,
	}
	if req.DocumentImage != "" {
		image, derr := base64.StdEncoding.DecodeString(req.DocumentImage)
		if derr != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "document_image must be base64 encoded"})
		}
		evidence.DocumentImage = image
	}

	result, err := verificationService().ResolveVerification(c.Context(), method, req.RecordUUID, evidence)
	if err != nil {
		return writeVerificationError(c, err)
	}

	countApproval(result)
	return c.JSON(resolveResponse(result))
}

// HandleCancelVerification aborts an in-progress live capture, dropping
// any buffered samples.
func HandleCancelVerification(c *fiber.Ctx) error {
	shop, err := requireShop(c)
	if shop == nil {
		return err
	}

	var req resolveVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	if err := verificationService().CancelVerification(c.Context(), req.RecordUUID); err != nil {
		return writeVerificationError(c, err)
	}
	return c.JSON(fiber.Map{"cancelled": true})
}

// HandleBankIDCallback is the redirect target the identity provider sends
// the user back to. The state parameter carries the record identifier.
// Redeliveries are safe; the stored outcome never changes.
func HandleBankIDCallback(c *fiber.Ctx) error {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "state parameter missing"})
	}
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "code parameter missing"})
	}

	result, err := verificationService().ResolveVerification(c.Context(), models.MethodBankID, state, verification.Evidence{
		AuthorizationCode: code,
	})
	if err != nil {
		return writeVerificationError(c, err)
	}

	countApproval(result)
	return c.JSON(resolveResponse(result))
}

// countApproval buffers the approval counter for a freshly verified
// record. Redelivered outcomes are not counted twice.
func countApproval(result *verification.ResolveResult) {
	if result.Record == nil || result.AlreadyTerminal || !result.Record.IsVerified() {
		return
	}
	if err := counter.AddApproval(result.Record.ShopID); err != nil {
		log.Warnf("[Verification] Failed to count approval for shop %d: %v", result.Record.ShopID, err)
	}
}

func resolveResponse(result *verification.ResolveResult) fiber.Map {
	resp := fiber.Map{
		"record_uuid": result.Record.UUID,
		"status":      result.Record.Status,
		"done":        result.Done,
	}
	if result.Record.IsTerminal() {
		resp["result"] = result.Record.Result
		resp["detail"] = result.Record.Detail
	}
	if !result.Done {
		resp["samples_collected"] = result.SamplesCollected
	}
	if result.AlreadyTerminal {
		resp["already_terminal"] = true
	}
	if result.Moot {
		resp["session_expired"] = true
	}
	return resp
}

func writeVerificationError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, verification.ErrSessionNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Session not found"})
	case errors.Is(err, verification.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Verification record not found"})
	case errors.Is(err, verification.ErrSessionExpired):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "gone", "message": "Session has expired"})
	case errors.Is(err, verification.ErrShopInactive):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Shop is not active"})
	case errors.Is(err, verification.ErrShopNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Shop not found"})
	case errors.Is(err, verification.ErrUnknownMethod):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Method does not match this record"})
	case errors.Is(err, verification.ErrEvidenceInvalid):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "unprocessable_entity", "message": "Evidence is missing or malformed"})
	case errors.Is(err, verification.ErrUserIdentifierRequired):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "user_identifier is required"})
	case errors.Is(err, verification.ErrSessionRequired):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "session_uuid is required"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Verification failed"})
	}
}
