// config/config.go
package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// R2Config holds the Cloudflare R2 bucket settings used for drawing uploads.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	CDNBaseURL      string
}

// Enabled reports whether enough R2 settings are present to upload.
func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.AccessKeySecret != "" && r.Bucket != ""
}

// GameRules are the tunable rules of turn-based play.
type GameRules struct {
	TurnDuration   time.Duration
	TurnGrace      time.Duration
	TurnsPerPlayer int
	TieThreshold   float64
	LobbyTTL       time.Duration
	DuelTimeout    time.Duration
	SweepInterval  time.Duration
}

var DefaultGameRules = GameRules{
	TurnDuration:   20 * time.Second,
	TurnGrace:      5 * time.Second,
	TurnsPerPlayer: 5,
	TieThreshold:   50,
	LobbyTTL:       30 * time.Minute,
	DuelTimeout:    3 * time.Minute,
	SweepInterval:  5 * time.Second,
}

type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	GatewayToken   string
	JWTSecret      string
	AllowedOrigins []string
	RedisURL       string
	LogLevel       string

	ScoringBaseURL string
	ScoringAPIKey  string
	ScoringTimeout time.Duration

	R2    R2Config
	Rules GameRules
}

// Load reads .env (if any) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "production"),
		Port:           getEnv("PORT", "5200"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		GatewayToken:   os.Getenv("GAME_SERVICE_TOKEN"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		RedisURL:       os.Getenv("REDIS_URL"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ScoringBaseURL: strings.TrimRight(os.Getenv("SCORING_BASE_URL"), "/"),
		ScoringAPIKey:  os.Getenv("SCORING_API_KEY"),
		ScoringTimeout: getDuration("SCORING_TIMEOUT", 15*time.Second),
		R2: R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
			CDNBaseURL:      strings.TrimRight(os.Getenv("CDN_BASE_URL"), "/"),
		},
		Rules: GameRules{
			TurnDuration:   time.Duration(getInt("TURN_SECONDS", 20)) * time.Second,
			TurnGrace:      time.Duration(getInt("TURN_GRACE_SECONDS", 5)) * time.Second,
			TurnsPerPlayer: getInt("TURNS_PER_PLAYER", DefaultGameRules.TurnsPerPlayer),
			TieThreshold:   getFloat("TIE_THRESHOLD", DefaultGameRules.TieThreshold),
			LobbyTTL:       getDuration("LOBBY_TTL", DefaultGameRules.LobbyTTL),
			DuelTimeout:    getDuration("DUEL_TIMEOUT", DefaultGameRules.DuelTimeout),
			SweepInterval:  getDuration("SWEEP_INTERVAL", DefaultGameRules.SweepInterval),
		},
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL environment variable not set")
	}
	if cfg.GatewayToken == "" && cfg.JWTSecret == "" {
		return nil, errors.New("either GAME_SERVICE_TOKEN or JWT_SECRET must be set")
	}
	if cfg.Rules.TurnsPerPlayer < 1 {
		return nil, errors.New("TURNS_PER_PLAYER must be at least 1")
	}
	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return fallback
	}
	return v
}

func getFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return fallback
	}
	return v
}

// getDuration accepts Go durations ("30s") or plain seconds ("30").
func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
