// services/scoring_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"doodle-match-system/utils"

	"go.uber.org/zap"
)

// Scorer is the AI that guesses and grades drawings.
type Scorer interface {
	GuessDrawing(ctx context.Context, pngBase64, targetWord string) (*GuessResult, error)
	ScoreDrawing(ctx context.Context, pngBase64, word string) (*ScoreResult, error)
}

type GuessResult struct {
	Guess      string  `json:"guess"`
	Similarity float64 `json:"similarity"`
	Position   *int    `json:"position,omitempty"`
}

type ScoreResult struct {
	Score   float64 `json:"score"`
	Message string  `json:"message"`
}

type ScoringClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
	log     *zap.Logger
}

func NewScoringClient(baseURL, apiKey string, timeout time.Duration, log *zap.Logger) *ScoringClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &ScoringClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  utils.NewHTTPClient(timeout),
		log:     log,
	}
}

// GuessDrawing calls /guess-drawing.
func (c *ScoringClient) GuessDrawing(ctx context.Context, pngBase64, targetWord string) (*GuessResult, error) {
	var out struct {
		Guess      *string  `json:"guess"`
		Similarity *float64 `json:"similarity"`
		Position   *int     `json:"position"`
	}
	err := c.post(ctx, "/guess-drawing", map[string]string{
		"pngBase64":  pngBase64,
		"targetWord": targetWord,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Guess == nil || out.Similarity == nil || math.IsNaN(*out.Similarity) {
		return nil, fmt.Errorf("%w: guess-drawing response missing fields", ErrScoringUnavailable)
	}
	return &GuessResult{Guess: *out.Guess, Similarity: clampScore(*out.Similarity), Position: out.Position}, nil
}

// ScoreDrawing calls /score-drawing.
func (c *ScoringClient) ScoreDrawing(ctx context.Context, pngBase64, word string) (*ScoreResult, error) {
	var out struct {
		Score   *float64 `json:"score"`
		Message string   `json:"message"`
	}
	err := c.post(ctx, "/score-drawing", map[string]string{
		"pngBase64": pngBase64,
		"word":      word,
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.Score == nil || math.IsNaN(*out.Score) {
		return nil, fmt.Errorf("%w: score-drawing response missing score", ErrScoringUnavailable)
	}
	return &ScoreResult{Score: clampScore(*out.Score), Message: out.Message}, nil
}

// post sends a JSON request. Any transport failure, non-200 or undecodable
// body is reported as ErrScoringUnavailable so the caller can retry.
func (c *ScoringClient) post(ctx context.Context, path string, body any, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScoringUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrScoringUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading %s response: %v", ErrScoringUnavailable, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		c.log.Warn("scoring gateway error",
			zap.String("path", path), zap.Int("status", resp.StatusCode), zap.ByteString("body", truncate(respBody, 256)))
		return fmt.Errorf("%w: %s returned %d", ErrScoringUnavailable, path, resp.StatusCode)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: malformed %s response: %v", ErrScoringUnavailable, path, err)
	}
	return nil
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
