// handlers/progression_routes.go
package handlers

import (
	"context"
	"time"

	"doodle-match-system/middleware"
	"doodle-match-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func SetupProgressionRoutes(secured fiber.Router, progression *services.ProgressionService, log *zap.Logger) {
	secured.Get("/progress/me", func(c *fiber.Ctx) error {
		view, err := progression.GetProgress(c.UserContext(), middleware.UserID(c))
		if err != nil {
			log.Error("progress lookup failed", zap.String("user_id", middleware.UserID(c)), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to load progress",
			})
		}
		return c.JSON(view)
	})
}

// SetupHealthRoutes registers /healthz, which pings the database.
func SetupHealthRoutes(app fiber.Router, db *gorm.DB) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "database": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
