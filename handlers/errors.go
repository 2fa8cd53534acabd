package handlers

import (
	"errors"

	"doodle-match-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type apiError struct {
	status int
	code   string
	extra  fiber.Map
}

// classify maps a service error to its HTTP status, a stable code and any
// hint fields the client acts on.
func classify(err error) apiError {
	switch {
	case errors.Is(err, services.ErrDuplicateTurn):
		return apiError{fiber.StatusConflict, "duplicate_turn", fiber.Map{"success": true, "duplicate": true, "resync": true}}
	case errors.Is(err, services.ErrNotYourTurn):
		return apiError{fiber.StatusConflict, "not_your_turn", fiber.Map{"resync": true}}
	case errors.Is(err, services.ErrMatchFull):
		return apiError{status: fiber.StatusConflict, code: "match_full"}
	case errors.Is(err, services.ErrAlreadyInMatch):
		return apiError{status: fiber.StatusConflict, code: "already_in_match"}
	case errors.Is(err, services.ErrMatchNotActive):
		return apiError{fiber.StatusConflict, "match_not_active", fiber.Map{"resync": true}}
	case errors.Is(err, services.ErrTurnsRemaining):
		return apiError{fiber.StatusConflict, "turns_remaining", fiber.Map{"resync": true}}
	case errors.Is(err, services.ErrMatchNotComplete):
		return apiError{status: fiber.StatusConflict, code: "match_not_complete"}
	case errors.Is(err, services.ErrMatchNotFound):
		return apiError{status: fiber.StatusNotFound, code: "match_not_found"}
	case errors.Is(err, services.ErrNotParticipant):
		return apiError{status: fiber.StatusForbidden, code: "not_participant"}
	case errors.Is(err, services.ErrInvalidStroke):
		return apiError{status: fiber.StatusBadRequest, code: "invalid_stroke"}
	case errors.Is(err, services.ErrInvalidRequest):
		return apiError{status: fiber.StatusBadRequest, code: "invalid_request"}
	case errors.Is(err, services.ErrScoringUnavailable):
		return apiError{fiber.StatusServiceUnavailable, "scoring_unavailable", fiber.Map{"retryable": true}}
	case errors.Is(err, services.ErrStorageUnavailable):
		return apiError{fiber.StatusServiceUnavailable, "storage_unavailable", fiber.Map{"retryable": true}}
	}
	return apiError{status: fiber.StatusInternalServerError, code: "internal"}
}

func errorBody(err error) (int, fiber.Map) {
	ae := classify(err)
	body := fiber.Map{"success": false, "error": err.Error(), "code": ae.code}
	if ae.status == fiber.StatusInternalServerError {
		body["error"] = "internal error"
	}
	for k, v := range ae.extra {
		body[k] = v
	}
	return ae.status, body
}

func writeError(c *fiber.Ctx, log *zap.Logger, err error) error {
	status, body := errorBody(err)
	if status == fiber.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(body)
}
