package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic(t *testing.T) {
	got, err := Static{" new ", "", "old"}.SigningSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, got)

	_, err = Static{"  "}.SigningSecrets(context.Background())
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestEnv(t *testing.T) {
	t.Setenv("TEST_WEBHOOK_SECRETS", "s1, s2")
	got, err := Env{Key: "TEST_WEBHOOK_SECRETS"}.SigningSecrets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, got)

	t.Setenv("TEST_WEBHOOK_SECRETS", "")
	_, err = Env{Key: "TEST_WEBHOOK_SECRETS"}.SigningSecrets(context.Background())
	assert.ErrorIs(t, err, ErrNoSecret)
}
