package handlers

import (
	"doodle-match-system/middleware"
	"doodle-match-system/realtime"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Setup registers every route. Health is public; everything else needs a user.
func Setup(app *fiber.App, db *gorm.DB, svc Services, notifier realtime.Notifier, auth *middleware.Authenticator, log *zap.Logger) {
	SetupHealthRoutes(app, db)

	streams := NewStreams(svc.Status, svc.Turns, notifier, log)
	app.Get("/matches/:id/events", auth.RequireStreamUser(), streams.MatchEvents)
	app.Get("/ws/matches/:id", RequireUpgrade, auth.RequireStreamUser(), streams.MatchSocket())

	secured := app.Group("/", auth.RequireUser())
	secured.Post("/rpc", NewRPC(svc, log).Handle)
	SetupProgressionRoutes(secured, svc.Progression, log)
}
