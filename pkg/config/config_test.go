package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 2*time.Hour, cfg.Matching.TimeoutWindow)
	assert.Equal(t, 10, cfg.Matching.BatchSize)
	assert.Equal(t, 3, cfg.Matching.CandidateLimit)
	assert.Equal(t, "substitute.request.events", cfg.Notifications.Exchange)
	assert.Equal(t, "primary", cfg.Calendar.CalendarID)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MATCHING_TIMEOUT_WINDOW", "45m")
	t.Setenv("MATCHING_SWEEP_BATCH_SIZE", "25")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, cfg.Matching.TimeoutWindow)
	assert.Equal(t, 25, cfg.Matching.BatchSize)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("not-a-duration", time.Minute))
	assert.Equal(t, 3*time.Second, parseDuration("3s", time.Minute))
}
