package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/JonasWeber/AgeGuard/app/controllers"
	"github.com/JonasWeber/AgeGuard/internal/pkg/constants"
	"github.com/JonasWeber/AgeGuard/internal/pkg/statistics"
)

type HttpRouter struct {
}

// InstallRouter registers the public endpoints that are reached without
// shop authentication: the identity provider redirect target and the
// pairing claim for secondary devices.
func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get(constants.StatsRoute, func(c *fiber.Ctx) error {
		statistics.UpdateCacheIfNeeded()
		stats := statistics.GetStatistics()
		return c.JSON(fiber.Map{
			"total_verifications": stats.TotalRecords,
			"today_verifications": stats.TodayRecords,
			"total_shops":         stats.TotalShops,
		})
	})

	// Identity provider redirect target. The user's browser arrives here,
	// not the shop's backend.
	app.Get(constants.BankIDCallbackRoute, controllers.HandleBankIDCallback)

	// Secondary device pairing claim.
	app.Post(constants.PairingPathPrefix+"/:token", controllers.HandlePairSession)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
