package secrets

import (
	"context"
	"errors"
	"strings"

	"github.com/ManuelReschke/MealPay/internal/pkg/env"
)

// ErrNoSecret is returned when no signing secret is configured.
var ErrNoSecret = errors.New("no webhook signing secret configured")

// Provider supplies the shared webhook signing secrets, current secret first.
type Provider interface {
	SigningSecrets(ctx context.Context) ([]string, error)
}

// Static is a fixed list of secrets.
type Static []string

func (s Static) SigningSecrets(ctx context.Context) ([]string, error) {
	out := clean(s)
	if len(out) == 0 {
		return nil, ErrNoSecret
	}
	return out, nil
}

// Env reads a comma separated secret list from an environment variable on
// every call, so a rotated secret is picked up without a restart.
type Env struct {
	Key string
}

func (e Env) SigningSecrets(ctx context.Context) ([]string, error) {
	out := clean(strings.Split(env.GetEnv(e.Key, ""), ","))
	if len(out) == 0 {
		return nil, ErrNoSecret
	}
	return out, nil
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
