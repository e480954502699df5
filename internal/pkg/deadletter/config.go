package deadletter

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the S3 dead-letter archive settings.
type Config struct {
	Enabled         bool   `env:"ENABLED" envDefault:"false"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SECRET_ACCESS_KEY"`
	Region          string `env:"REGION" envDefault:"us-east-1"`
	BucketName      string `env:"BUCKET_NAME"`
	EndpointURL     string `env:"ENDPOINT_URL"` // Optional for S3-compatible services
	Prefix          string `env:"PREFIX" envDefault:"deadletter"`
}

// Validate checks required fields when the archive is enabled.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.AccessKeyID == "" {
		return errors.New("DEADLETTER_ACCESS_KEY_ID is required when the dead-letter archive is enabled")
	}
	if c.SecretAccessKey == "" {
		return errors.New("DEADLETTER_SECRET_ACCESS_KEY is required when the dead-letter archive is enabled")
	}
	if c.BucketName == "" {
		return errors.New("DEADLETTER_BUCKET_NAME is required when the dead-letter archive is enabled")
	}
	return nil
}

// ObjectKey generates the object key of an archived event.
func (c *Config) ObjectKey(provider, eventID string, at time.Time) string {
	// Format: deadletter/YYYY/MM/DD/provider/event.json
	prefix := strings.Trim(c.Prefix, "/")
	if prefix == "" {
		prefix = "deadletter"
	}
	at = at.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s/%s.json", prefix, at.Year(), int(at.Month()), at.Day(), provider, safeKey(eventID))
}

// safeKey keeps event ids usable as a single path segment.
func safeKey(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(s)
}
