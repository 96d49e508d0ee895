package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/JonasWeber/AgeGuard/app/controllers"
)

// APIServer implements the v1 API surface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ping": "pong"})
}

// PostSession opens a verification session for the authenticated shop.
func (s *APIServer) PostSession(c *fiber.Ctx) error {
	return controllers.HandleCreateSession(c)
}

// GetSession returns the state of a verification session.
func (s *APIServer) GetSession(c *fiber.Ctx) error {
	return controllers.HandleGetSession(c)
}

// PostSessionAttach binds an existing verification record to a session.
func (s *APIServer) PostSessionAttach(c *fiber.Ctx) error {
	return controllers.HandleAttachVerification(c)
}

// PostVerifyStart starts a verification attempt via the routed method.
func (s *APIServer) PostVerifyStart(c *fiber.Ctx) error {
	return controllers.HandleStartVerification(c)
}

// PostVerifyResolve feeds evidence into a pending attempt.
func (s *APIServer) PostVerifyResolve(c *fiber.Ctx) error {
	return controllers.HandleResolveVerification(c)
}

// PostVerifyCancel aborts an in-progress live capture.
func (s *APIServer) PostVerifyCancel(c *fiber.Ctx) error {
	return controllers.HandleCancelVerification(c)
}

// PostWalletTopUp creates a pending top-up for the shop's company.
func (s *APIServer) PostWalletTopUp(c *fiber.Ctx) error {
	return controllers.HandleRequestTopUp(c)
}

// GetWalletTopUp returns the state of a top-up by reference.
func (s *APIServer) GetWalletTopUp(c *fiber.Ctx) error {
	return controllers.HandleGetTopUp(c)
}

// PostWalletReconcile runs a user-triggered reconciliation pass.
func (s *APIServer) PostWalletReconcile(c *fiber.Ctx) error {
	return controllers.HandleReconcileTopUp(c)
}

// GetWalletBalance returns the company's prepaid balance.
func (s *APIServer) GetWalletBalance(c *fiber.Ctx) error {
	return controllers.HandleGetWalletBalance(c)
}

// RegisterHandlers wires the v1 routes onto the given router group.
// Shop authentication is attached by the caller.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)

	router.Post("/sessions", s.PostSession)
	router.Get("/sessions/:id", s.GetSession)
	router.Post("/sessions/:id/verification", s.PostSessionAttach)

	router.Post("/verify/:method", s.PostVerifyStart)
	router.Post("/verify/:method/resolve", s.PostVerifyResolve)
	router.Post("/verify/facescan/cancel", s.PostVerifyCancel)

	router.Post("/wallet/topup", s.PostWalletTopUp)
	router.Get("/wallet/topup/:reference", s.GetWalletTopUp)
	router.Post("/wallet/topup/:reference/reconcile", s.PostWalletReconcile)
	router.Get("/wallet", s.GetWalletBalance)
}
