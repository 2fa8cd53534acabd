// handlers/rpc.go
package handlers

import (
	"encoding/json"
	"fmt"
	"strings"

	"doodle-match-system/middleware"
	"doodle-match-system/models"
	"doodle-match-system/services"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Services are the match services the HTTP surface dispatches to.
type Services struct {
	Matchmaking *services.MatchmakingService
	Turns       *services.TurnService
	Duels       *services.DuelService
	Status      *services.StatusService
	Progression *services.ProgressionService
}

// rpcRequest is the union of every action's input.
type rpcRequest struct {
	Action string `json:"action"`

	MatchID    string `json:"matchId"`
	Mode       string `json:"mode"`
	Difficulty string `json:"difficulty"`
	MaxPlayers int    `json:"maxPlayers"`
	Private    bool   `json:"private"`

	TurnNumber      int      `json:"turnNumber"`
	SVGURL          string   `json:"svgUrl"`
	SVG             string   `json:"svg"`
	PNGBase64       string   `json:"pngBase64"`
	AIGuess         string   `json:"aiGuess"`
	SimilarityScore *float64 `json:"similarityScore"`
	Score           *float64 `json:"score"`
	Position        *int     `json:"position"`

	StrokeData  json.RawMessage `json:"strokeData"`
	StrokeIndex int             `json:"strokeIndex"`
	Epoch       *int            `json:"epoch"`

	WinnerUserID string `json:"winnerUserId"`
}

type rpcHandler func(c *fiber.Ctx, userID string, req *rpcRequest) (any, error)

type RPC struct {
	svc     Services
	log     *zap.Logger
	actions map[string]rpcHandler
}

func NewRPC(svc Services, log *zap.Logger) *RPC {
	r := &RPC{svc: svc, log: log}
	r.actions = map[string]rpcHandler{
		"find_or_create_match":           r.findOrCreateMatch,
		"join_match":                     r.joinMatch,
		"leave_match":                    r.leaveMatch,
		"cleanup_waiting_matches":        r.cleanupWaitingMatches,
		"get_match_status":               r.getMatchStatus,
		"get_roulette_status":            r.getMatchStatus,
		"submit_roulette_turn":           r.submitTurn,
		"submit_doodle_hunt_friend_turn": r.submitTurn,
		"add_roulette_stroke":            r.addStroke,
		"add_doodle_hunt_friend_stroke":  r.addStroke,
		"complete_roulette_match":        r.completeMatch,
		"submit_duel_drawing":            r.submitDuelDrawing,
		"mark_results_viewed":            r.markResultsViewed,
		"get_progress":                   r.getProgress,
	}
	return r
}

// Handle is POST /rpc.
func (r *RPC) Handle(c *fiber.Ctx) error {
	var req rpcRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, r.log, fmt.Errorf("%w: invalid JSON: %v", services.ErrInvalidRequest, err))
	}
	req.Action = strings.TrimSpace(req.Action)
	req.MatchID = strings.TrimSpace(req.MatchID)

	h, ok := r.actions[req.Action]
	if !ok {
		return writeError(c, r.log, fmt.Errorf("%w: unknown action %q", services.ErrInvalidRequest, req.Action))
	}
	if req.MatchID == "" && needsMatch(req.Action) {
		return writeError(c, r.log, fmt.Errorf("%w: matchId is required", services.ErrInvalidRequest))
	}

	out, err := h(c, middleware.UserID(c), &req)
	if err != nil {
		if !isClientError(err) {
			r.log.Warn("action failed", zap.String("action", req.Action), zap.String("match_id", req.MatchID), zap.Error(err))
		}
		return writeError(c, r.log, err)
	}
	return c.JSON(out)
}

func needsMatch(action string) bool {
	switch action {
	case "find_or_create_match", "cleanup_waiting_matches", "get_progress":
		return false
	}
	return true
}

func isClientError(err error) bool {
	status := classify(err).status
	return status < fiber.StatusInternalServerError
}

type successBody struct {
	Success bool `json:"success"`
}

var okBody = successBody{Success: true}

func (r *RPC) findOrCreateMatch(c *fiber.Ctx, userID string, req *rpcRequest) (any, error) {
	m, err := r.svc.Matchmaking.FindOrCreateMatch(c.UserContext(), userID, services.FindOrCreateInput{
		Mode:       models.MatchMode(strings.TrimSpace(req.Mode)),
		Difficulty: req.Difficulty,
		MaxPlayers: req.MaxPlayers,
		Private:    req.Private,
	})
	if err != nil {
		return nil, err
	}
	return fiber.Map{"success": true, "match": m}, nil
}

func (r *RPC) joinMatch(c *fiber.Ctx, userID string, req *rpcRequest) (any, error) {
	m, err := r.svc.Matchmaking.JoinMatch(c.UserContext(), userID, req.MatchID)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"success": true, "match": m}, nil
}

func (r *RPC) leaveMatch(c *fiber.Ctx, userID string, req *rpcRequest) (any, error) {
	left, err := r.svc.Matchmaking.LeaveMatch(c.UserContext(), userID, req.MatchID)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"success": true, "left": left}, nil
}

func (r *RPC) cleanupWaitingMatches(c *fiber.Ctx, userID string, _ *rpcRequest) (any, error) {
	n, err := r.svc.Matchmaking.CleanupWaitingMatches(c.UserContext(), userID)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"success": true, "removed": n}, nil
}

func (r *RPC) getMatchStatus(c *fiber.Ctx, userID string, req *rpcRequest) (any, error) {
	st, err := r.svc.Status.GetMatchStatus(c.UserContext(), userID, req.MatchID)
	if err != nil {
		return nil, err
	}
	return struct {
		successBody
		*services.MatchStatus
	}{okBody, st}, nil
}

func (r *RPC) submitTurn(c *fiber.Ctx, userID string, req *rpcRequest) (any, error) {
	res, err := r.svc.Turns.SubmitTurn(c.UserContext(), userID, services.SubmitTurnInput{
		MatchID:         req.MatchID,
		TurnNumber:      req.TurnNumber,
		SVGURL:          req.SVGURL,
		SVG:             req.SVG,
		PNGBase64:       req.PNGBase64,
		AIGuess:         req.AIGuess,
		SimilarityScore: req.SimilarityScore,
		Position:        req.Position,
	})
	if err != nil {
		return nil, err
	}
	return struct {
		successBody
		*services.SubmitTurnResult
	}{okBody, res}, nil
}

func (r *RPC) addStroke(c *fiber.Ctx, userID string, req *rpcRequest) (any, error) {
	ack, err := r.svc.Turns.AddStroke(c.UserContext(), userID, services.AddStrokeInput{
		MatchID:     req.MatchID,
		TurnNumber:  req.TurnNumber,
		StrokeData:  req.StrokeData,
		StrokeIndex: req.StrokeIndex,
		Epoch:       req.Epoch,
	})
	if err != nil {
		return nil, err
	}
	return struct {
		successBody
		*services.StrokeAck
	}{okBody, ack}, nil
}

func (r *RPC) completeMatch(c *fiber.Ctx, userID string, req *rpcRequest) (any, error) {
	result, err := r.svc.Turns.CompleteMatch(c.UserContext(), userID, req.MatchID, strings.TrimSpace(req.WinnerUserID))
	if err != nil {
		return nil, err
	}
	return fiber.Map{"success": true, "result": result}, nil
}

func (r *RPC) submitDuelDrawing(c *fiber.Ctx, userID string, req *rpcRequest) (any, error) {
	score := req.Score
	if score == nil {
		score = req.SimilarityScore
	}
	res, err := r.svc.Duels.SubmitDrawing(c.UserContext(), userID, services.SubmitDrawingInput{
		MatchID:   req.MatchID,
		PNGBase64: req.PNGBase64,
		Score:     score,
		SVG:       req.SVG,
		SVGURL:    req.SVGURL,
	})
	if err != nil {
		return nil, err
	}
	return struct {
		successBody
		*services.SubmitDrawingResult
	}{okBody, res}, nil
}

func (r *RPC) markResultsViewed(c *fiber.Ctx, userID string, req *rpcRequest) (any, error) {
	archived, err := r.svc.Status.MarkResultsViewed(c.UserContext(), userID, req.MatchID)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"success": true, "archived": archived}, nil
}

func (r *RPC) getProgress(c *fiber.Ctx, userID string, _ *rpcRequest) (any, error) {
	view, err := r.svc.Progression.GetProgress(c.UserContext(), userID)
	if err != nil {
		return nil, err
	}
	return fiber.Map{"success": true, "progress": view}, nil
}
