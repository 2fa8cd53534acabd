package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/doodle")
	t.Setenv("GAME_SERVICE_TOKEN", "gw-token")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "5200", cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 20*time.Second, cfg.Rules.TurnDuration)
	assert.Equal(t, 5, cfg.Rules.TurnsPerPlayer)
	assert.Equal(t, 50.0, cfg.Rules.TieThreshold)
	assert.False(t, cfg.R2.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/doodle")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("TURN_SECONDS", "30")
	t.Setenv("SCORING_TIMEOUT", "3")
	t.Setenv("LOBBY_TTL", "10m")
	t.Setenv("SCORING_BASE_URL", "https://ai.example/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Rules.TurnDuration)
	assert.Equal(t, 3*time.Second, cfg.ScoringTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Rules.LobbyTTL)
	assert.Equal(t, "https://ai.example", cfg.ScoringBaseURL)
}

func TestLoadRequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GAME_SERVICE_TOKEN", "gw-token")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresSomeAuth(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/doodle")
	t.Setenv("GAME_SERVICE_TOKEN", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}
