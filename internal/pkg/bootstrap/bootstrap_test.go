package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/MealPay/app/repository"
	"github.com/ManuelReschke/MealPay/internal/pkg/config"
)

func TestBuildWithMemoryStore(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"DB_DRIVER":     "memory",
		"CACHE_ENABLED": "false",
	})
	require.NoError(t, err)

	s, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &repository.MemoryStore{}, s.Store)
	assert.NotNil(t, s.Orchestrator)
	assert.Nil(t, s.RetryManager)
	assert.Empty(t, s.Checks)
	assert.NotPanics(t, s.StartRetries)

	err = s.Reprocess(context.Background(), "stripe", "evt_1")
	assert.ErrorContains(t, err, "provider")

	err = s.Reprocess(context.Background(), "razorpay", "evt_1")
	assert.True(t, repository.IsNotFound(err))
}
