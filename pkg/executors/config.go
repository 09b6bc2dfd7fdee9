package executors

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dukex/autoflow/pkg/models"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultRetryWaitTime = 500 * time.Millisecond
)

var ErrInvalidConfig = errors.New("invalid executors config")

// EndpointConfig describes the collaborator that performs one action type.
type EndpointConfig struct {
	URL           string            `yaml:"url"`
	Timeout       time.Duration     `yaml:"timeout"`
	Retries       int               `yaml:"retries"`
	RetryWaitTime time.Duration     `yaml:"retry_wait_time"`
	Headers       map[string]string `yaml:"headers"`
}

// Config maps action types to collaborator endpoints. Types without an
// endpoint fall back to the log executor.
//
//	executors:
//	  ai_call:
//	    url: http://calls.internal/v1/actions
//	    timeout: 45s
//	    retries: 2
//	    headers:
//	      Authorization: Bearer xyz
type Config struct {
	Executors map[models.ActionType]EndpointConfig `yaml:"executors"`
}

// LoadConfig reads a YAML executors config. An empty path yields an empty config.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read executors config: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes and validates a YAML executors config.
func ParseConfig(data []byte) (*Config, error) {
	var config Config

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	for actionType, endpoint := range config.Executors {
		if !actionType.Valid() || actionType == models.ActionWait {
			return nil, fmt.Errorf("%w: %q cannot be sent to a collaborator", ErrInvalidConfig, actionType)
		}

		if endpoint.URL == "" {
			return nil, fmt.Errorf("%w: %s requires a url", ErrInvalidConfig, actionType)
		}

		if endpoint.Retries < 0 {
			return nil, fmt.Errorf("%w: %s retries cannot be negative", ErrInvalidConfig, actionType)
		}
	}

	return &config, nil
}

// Build returns a complete executor set: configured types go to their HTTP
// collaborator, the rest to the log executor.
func (c *Config) Build(logger *slog.Logger) Set {
	pick := func(actionType models.ActionType) Executor {
		if endpoint, ok := c.Executors[actionType]; ok {
			return NewHTTPExecutor(endpoint, logger)
		}

		return NewLogExecutor(logger)
	}

	return Set{
		AICall:          pick(models.ActionAICall),
		WhatsAppMessage: pick(models.ActionWhatsAppMessage),
		Email:           pick(models.ActionEmail),
	}
}
