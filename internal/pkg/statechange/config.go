package statechange

import (
	"errors"
	"strings"
)

// Config holds the Kafka settings for state change events.
type Config struct {
	Enabled bool     `env:"ENABLED" envDefault:"false"`
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"payment.state.changed"`
}

// Validate checks required fields when publishing is enabled.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.brokers()) == 0 {
		return errors.New("KAFKA_BROKERS is required when state change publishing is enabled")
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("KAFKA_TOPIC must not be empty")
	}
	return nil
}

func (c *Config) brokers() []string {
	var out []string
	for _, b := range c.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
