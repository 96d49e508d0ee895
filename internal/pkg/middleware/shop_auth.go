package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/app/repository"
	"github.com/JonasWeber/AgeGuard/internal/pkg/database"
)

// ShopContextKey is the fiber locals key the authenticated shop is stored
// under.
const ShopContextKey = "SHOP_CONTEXT"

// ShopAuthMiddleware authenticates requests carrying a shop API token
// header. The token is stored hashed; lookup goes through the hash.
func ShopAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractShopTokenFromHeader(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing shop token"})
		}

		db := database.GetDB()
		if db == nil {
			log.Print("shop auth middleware: database unavailable")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
		}

		hash := models.HashShopToken(token)
		repo := repository.GetGlobalFactory().GetShopRepository()
		shop, err := repo.GetByAPITokenHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid shop token"})
			}
			log.Printf("shop token lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Shop token verification failed"})
		}

		if !shop.IsActive() {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Shop inactive"})
		}

		c.Locals(ShopContextKey, shop)
		return c.Next()
	}
}

// ShopFromContext returns the shop stored by ShopAuthMiddleware, or nil
// when the route is not shop-authenticated.
func ShopFromContext(c *fiber.Ctx) *models.Shop {
	if shop, ok := c.Locals(ShopContextKey).(*models.Shop); ok {
		return shop
	}
	return nil
}

func extractShopTokenFromHeader(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get("X-Shop-Token"))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
