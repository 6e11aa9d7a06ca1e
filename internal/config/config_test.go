package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"shopassist/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CREDITS_PER_CHAT", "")
	t.Setenv("TURN_TIMEOUT", "")
	cfg := Load()
	assert.Equal(t, 1, cfg.CreditsPerChat)
	assert.Equal(t, 60*time.Second, cfg.TurnTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CREDITS_PER_CHAT", "3")
	t.Setenv("TURN_TIMEOUT", "45")
	t.Setenv("MODEL_TIMEOUT", "5s")
	t.Setenv("HANDOFF_DETECTION", "yes")
	t.Setenv("WORKER_COUNT", "not-a-number")

	cfg := Load()
	assert.Equal(t, 3, cfg.CreditsPerChat)
	assert.Equal(t, 45*time.Second, cfg.TurnTimeout)
	assert.Equal(t, 5*time.Second, cfg.ModelTimeout)
	assert.True(t, cfg.HandoffDetection)
	assert.Equal(t, 8, cfg.WorkerCount)
}

func TestLoadPlansFallsBackToDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	plans, err := LoadPlans("")
	require.NoError(t, err)
	assert.Equal(t, entity.DefaultPlans(), plans)
}

func TestLoadPlansFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - name: Free
    monthly_credits: 500
    price_cents: 0
    features: [chat]
  - name: Scale
    monthly_credits: 250000
    price_cents: 29900
    features: [chat, analytics]
`), 0o600))

	plans, err := LoadPlans(path)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, 500, plans[0].MonthlyCredits)
	assert.Equal(t, "Scale", plans[1].Name)
	assert.Equal(t, int64(29900), plans[1].PriceCents)
	assert.Equal(t, []string{"chat", "analytics"}, plans[1].Features)
}

func TestLoadPlansRejectsCatalogWithoutFreePlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  - name: Scale
    monthly_credits: 10
`), 0o600))

	_, err := LoadPlans(path)
	assert.Error(t, err)
}
