package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	EnvPipelineConfidenceThreshold = "TRIAGE_PIPELINE_CONFIDENCE_THRESHOLD"
	EnvPipelineAgentTimeout        = "TRIAGE_PIPELINE_AGENT_TIMEOUT"
	EnvPipelineMaxChainDepth       = "TRIAGE_PIPELINE_MAX_CHAIN_DEPTH"
	EnvPipelineMaxInputSize        = "TRIAGE_PIPELINE_MAX_INPUT_SIZE"
	EnvPipelineMaxRetries          = "TRIAGE_PIPELINE_MAX_RETRIES"
	EnvPipelineRetryInterval       = "TRIAGE_PIPELINE_RETRY_INTERVAL"
	EnvPipelineRetryMaxInterval    = "TRIAGE_PIPELINE_RETRY_MAX_INTERVAL"
)

// PipelineConfig holds classification, extraction, chaining, and storage
// retry parameters.
type PipelineConfig struct {
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
	AgentTimeout        string  `toml:"agent_timeout"`
	MaxChainDepth       int     `toml:"max_chain_depth"`
	MaxInputSize        int64   `toml:"max_input_size"`
	MaxRetries          int     `toml:"max_retries"`
	RetryInterval       string  `toml:"retry_interval"`
	RetryMaxInterval    string  `toml:"retry_max_interval"`
}

// AgentTimeoutDuration returns AgentTimeout as a time.Duration.
func (c *PipelineConfig) AgentTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.AgentTimeout)
	return d
}

// RetryIntervalDuration returns RetryInterval as a time.Duration.
func (c *PipelineConfig) RetryIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryInterval)
	return d
}

// RetryMaxIntervalDuration returns RetryMaxInterval as a time.Duration.
func (c *PipelineConfig) RetryMaxIntervalDuration() time.Duration {
	d, _ := time.ParseDuration(c.RetryMaxInterval)
	return d
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *PipelineConfig) Finalize() error {
	c.loadDefaults()
	c.loadEnv()
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *PipelineConfig) Merge(overlay *PipelineConfig) {
	if overlay.ConfidenceThreshold != 0 {
		c.ConfidenceThreshold = overlay.ConfidenceThreshold
	}
	if overlay.AgentTimeout != "" {
		c.AgentTimeout = overlay.AgentTimeout
	}
	if overlay.MaxChainDepth != 0 {
		c.MaxChainDepth = overlay.MaxChainDepth
	}
	if overlay.MaxInputSize != 0 {
		c.MaxInputSize = overlay.MaxInputSize
	}
	if overlay.MaxRetries != 0 {
		c.MaxRetries = overlay.MaxRetries
	}
	if overlay.RetryInterval != "" {
		c.RetryInterval = overlay.RetryInterval
	}
	if overlay.RetryMaxInterval != "" {
		c.RetryMaxInterval = overlay.RetryMaxInterval
	}
}

func (c *PipelineConfig) loadDefaults() {
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.AgentTimeout == "" {
		c.AgentTimeout = "5s"
	}
	if c.MaxChainDepth == 0 {
		c.MaxChainDepth = 5
	}
	if c.MaxInputSize == 0 {
		c.MaxInputSize = 50 * 1024 * 1024
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryInterval == "" {
		c.RetryInterval = "50ms"
	}
	if c.RetryMaxInterval == "" {
		c.RetryMaxInterval = "2s"
	}
}

func (c *PipelineConfig) loadEnv() {
	if v := os.Getenv(EnvPipelineConfidenceThreshold); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.ConfidenceThreshold = f
		}
	}
	if v := os.Getenv(EnvPipelineAgentTimeout); v != "" {
		c.AgentTimeout = v
	}
	if v := os.Getenv(EnvPipelineMaxChainDepth); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxChainDepth = n
		}
	}
	if v := os.Getenv(EnvPipelineMaxInputSize); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxInputSize = n
		}
	}
	if v := os.Getenv(EnvPipelineMaxRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv(EnvPipelineRetryInterval); v != "" {
		c.RetryInterval = v
	}
	if v := os.Getenv(EnvPipelineRetryMaxInterval); v != "" {
		c.RetryMaxInterval = v
	}
}

func (c *PipelineConfig) validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1]: %f", c.ConfidenceThreshold)
	}
	if c.MaxChainDepth < 1 {
		return fmt.Errorf("max_chain_depth must be positive: %d", c.MaxChainDepth)
	}
	if c.MaxInputSize < 1 {
		return fmt.Errorf("max_input_size must be positive: %d", c.MaxInputSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative: %d", c.MaxRetries)
	}
	if _, err := time.ParseDuration(c.AgentTimeout); err != nil {
		return fmt.Errorf("invalid agent_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.RetryInterval); err != nil {
		return fmt.Errorf("invalid retry_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.RetryMaxInterval); err != nil {
		return fmt.Errorf("invalid retry_max_interval: %w", err)
	}
	return nil
}
